package share

import (
	"errors"

	"github.com/alexfinch7/lines/internal/scene"
)

// Error taxonomy for session and commit operations. The HTTP layer maps
// these onto status codes; the commit path never reports a half-applied
// success, any conflict aborts the whole operation.
var (
	// ErrNotFound aliases the repository sentinel so callers only need one.
	ErrNotFound = scene.ErrNotFound

	// ErrNotSharable means the owner revoked sharing after the session was
	// handed out.
	ErrNotSharable = errors.New("scene is no longer shared")

	// ErrConflict means the script changed since the client last loaded it.
	ErrConflict = errors.New("scene was edited since it was loaded")

	// ErrUpstream means blob storage failed mid-commit.
	ErrUpstream = errors.New("storage unavailable")
)

// ValidationError reports malformed input, returned before any write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
