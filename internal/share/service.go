package share

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alexfinch7/lines/internal/scene"
	"github.com/alexfinch7/lines/internal/storage"
	"github.com/alexfinch7/lines/pkg/events"
	"github.com/alexfinch7/lines/pkg/urlvalidation"
)

// Store is the persistence surface the session service needs.
type Store interface {
	GetScript(ctx context.Context, id string) (*scene.Script, error)
	ListLines(ctx context.Context, scriptID string) ([]scene.ScriptLine, error)
	UpdateLineAudio(ctx context.Context, lineID, audioURL string, expect, newMarker time.Time) (bool, error)
	FinalizeScript(ctx context.Context, scriptID string, marker time.Time) error
	GetSession(ctx context.Context, id string) (*scene.ShareSession, error)
	LatestSessionByScene(ctx context.Context, sceneID string) (*scene.ShareSession, error)
	CreateSession(ctx context.Context, sess *scene.ShareSession) error
	UpdateSessionReaderLines(ctx context.Context, id string, lines scene.LineSnapshotJSON) error
	MarkSessionCompleted(ctx context.Context, id string) error
}

// Options carries the service tunables.
type Options struct {
	RecordingsBucket string
	LinesBucket      string
	CommitTimeout    time.Duration
	ValidateOpts     []urlvalidation.Option
}

// Service implements share sessions: creation, hydration, per-line
// recording, and the commit protocol that moves reader recordings into the
// canonical script under optimistic concurrency control.
type Service struct {
	store Store
	blobs storage.BlobStore
	pub   *events.Publisher
	opts  Options
}

// NewService creates the session service.
func NewService(store Store, blobs storage.BlobStore, pub *events.Publisher, opts Options) *Service {
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 60 * time.Second
	}
	return &Service{store: store, blobs: blobs, pub: pub, opts: opts}
}

// CreateSession opens a share session for a scene, or returns the existing
// one: creation is idempotent per scene. The reported bool is true when a
// new session was created.
func (s *Service) CreateSession(ctx context.Context, sceneID, title string) (*scene.ShareSession, bool, error) {
	if sceneID == "" {
		return nil, false, &ValidationError{Msg: "sceneId is required"}
	}
	script, err := s.store.GetScript(ctx, sceneID)
	if err != nil {
		return nil, false, err
	}
	lines, err := s.store.ListLines(ctx, sceneID)
	if err != nil {
		return nil, false, err
	}
	if len(lines) == 0 {
		return nil, false, fmt.Errorf("scene %s has no lines: %w", sceneID, ErrNotFound)
	}

	if existing, err := s.store.LatestSessionByScene(ctx, sceneID); err == nil {
		return existing, false, nil
	}

	snap := scene.BuildSnapshot(lines)
	if title == "" {
		title = script.Title
	}
	sess := &scene.ShareSession{
		Title:       title,
		Status:      scene.SessionPending,
		SceneID:     sceneID,
		UserID:      script.UserID,
		ActorLines:  snap.ActorLines,
		ReaderLines: snap.ReaderLines,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, false, err
	}

	s.emit(ctx, events.SessionCreated, sess.ID, events.SessionCreatedData{
		SceneID: sceneID,
		OwnerID: script.UserID,
		Title:   title,
	})
	return sess, true, nil
}

// Hydration is the full reader-facing view of a session.
type Hydration struct {
	Session        *scene.ShareSession
	SceneVersion   string
	LineUpdatedAt  map[string]string
	SceneUpdatedAt string
	SceneSharable  bool
}

// Hydrate rebuilds a session view from the canonical lines. Layout, text,
// and ordering always come from the script; only per-session recording
// overrides are taken from the session's cached arrays. A stale cache can
// therefore never serve deleted or reordered lines.
func (s *Service) Hydrate(ctx context.Context, sessionID string) (*Hydration, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	script, err := s.store.GetScript(ctx, sess.SceneID)
	if err != nil {
		return nil, err
	}
	if !script.Sharable {
		return nil, fmt.Errorf("scene %s: %w", script.ID, ErrNotSharable)
	}
	lines, err := s.store.ListLines(ctx, sess.SceneID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("scene %s has no lines: %w", sess.SceneID, ErrNotFound)
	}

	snap := scene.BuildSnapshot(lines)

	actorAudio := audioOverrides(sess.ActorLines)
	readerAudio := audioOverrides(sess.ReaderLines)
	hydrated := *sess
	hydrated.ActorLines = applyOverrides(snap.ActorLines, actorAudio)
	hydrated.ReaderLines = applyOverrides(snap.ReaderLines, readerAudio)

	h := &Hydration{
		Session:       &hydrated,
		SceneVersion:  snap.Fingerprint,
		LineUpdatedAt: snap.Markers,
		SceneSharable: script.Sharable,
	}
	if script.UpdatedAt.Valid {
		h.SceneUpdatedAt = scene.Marker(script.UpdatedAt.Time)
	}
	return h, nil
}

// SaveReaderRecording records a per-session audio override for one reader
// line. The canonical script is untouched until commit.
func (s *Service) SaveReaderRecording(ctx context.Context, sessionID, lineID, audioURL string) error {
	if sessionID == "" || lineID == "" || audioURL == "" {
		return &ValidationError{Msg: "sessionId, lineId and audioUrl are required"}
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	updated := make(scene.LineSnapshotJSON, len(sess.ReaderLines))
	copy(updated, sess.ReaderLines)
	found := false
	for i := range updated {
		if updated[i].LineID == lineID {
			updated[i].AudioURL = audioURL
			found = true
			break
		}
	}
	if !found {
		updated = append(updated, scene.CachedLine{LineID: lineID, AudioURL: audioURL})
	}
	return s.store.UpdateSessionReaderLines(ctx, sessionID, updated)
}

// UploadRecording stores one transient take in the recordings bucket and
// returns its public URL. Uploads are upserts so re-recording a line
// overwrites the previous take.
func (s *Service) UploadRecording(ctx context.Context, sessionID, lineID, role string, data []byte, contentType string) (string, error) {
	if sessionID == "" || lineID == "" || len(data) == 0 {
		return "", &ValidationError{Msg: "sessionId, lineId and a file are required"}
	}
	if role != "actor" && role != "reader" {
		return "", &ValidationError{Msg: fmt.Sprintf("unsupported role %q", role)}
	}
	if contentType == "" {
		contentType = "audio/webm"
	}
	path := fmt.Sprintf("%s/%s/%s.webm", role, sessionID, lineID)
	url, err := s.blobs.Upload(ctx, s.opts.RecordingsBucket, path, data, contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return url, nil
}

// CommitUpdate names one line whose recording should become canonical.
type CommitUpdate struct {
	LineID   string
	AudioURL string
}

// CommitRequest is the input to Commit. LineTimestamps is the client's full
// last-known marker map; SceneUpdatedAt is its last-known aggregate marker
// and may be empty for older clients.
type CommitRequest struct {
	SessionID      string
	SceneUpdatedAt string
	LineTimestamps map[string]string
	Updates        []CommitUpdate
}

// Commit migrates session recordings into the canonical script. All
// preconditions are checked against fresh reads, then each update is
// applied with a per-row conditional write; a single stale row aborts the
// whole commit with ErrConflict. On success the script is finalized:
// sharing closes and the new audio is flagged for trimming.
func (s *Service) Commit(ctx context.Context, req CommitRequest) error {
	if req.SessionID == "" {
		return &ValidationError{Msg: "sessionId is required"}
	}
	if len(req.Updates) == 0 {
		return &ValidationError{Msg: "updates array is required"}
	}
	if len(req.LineTimestamps) == 0 {
		return &ValidationError{Msg: "lineTimestamps map is required"}
	}

	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}
	script, err := s.store.GetScript(ctx, sess.SceneID)
	if err != nil {
		return err
	}
	if !script.Sharable {
		return fmt.Errorf("scene %s: %w", script.ID, ErrNotSharable)
	}
	if req.SceneUpdatedAt != "" && script.UpdatedAt.Valid &&
		req.SceneUpdatedAt != scene.Marker(script.UpdatedAt.Time) {
		return fmt.Errorf("aggregate marker mismatch: %w", ErrConflict)
	}

	lines, err := s.store.ListLines(ctx, sess.SceneID)
	if err != nil {
		return err
	}
	snap := scene.BuildSnapshot(lines)
	if err := markersEqual(req.LineTimestamps, snap.Markers); err != nil {
		return err
	}
	for _, u := range req.Updates {
		if u.LineID == "" || u.AudioURL == "" {
			return &ValidationError{Msg: "every update needs a lineId and audioUrl"}
		}
		if _, ok := req.LineTimestamps[u.LineID]; !ok {
			return &ValidationError{Msg: fmt.Sprintf("no last-known timestamp for line %s", u.LineID)}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.CommitTimeout)
	defer cancel()

	newMarker := time.Now().UTC().Truncate(time.Microsecond)
	for _, u := range req.Updates {
		if err := s.applyUpdate(ctx, script, u, req.LineTimestamps[u.LineID], newMarker); err != nil {
			return err
		}
	}

	if err := s.store.FinalizeScript(ctx, script.ID, newMarker); err != nil {
		return err
	}

	s.emit(ctx, events.SessionCommitted, req.SessionID, events.SessionCommittedData{
		SceneID:      script.ID,
		LinesUpdated: len(req.Updates),
	})
	slog.InfoContext(ctx, "session committed",
		slog.String("session_id", req.SessionID),
		slog.String("scene_id", script.ID),
		slog.Int("lines_updated", len(req.Updates)))
	return nil
}

func (s *Service) applyUpdate(ctx context.Context, script *scene.Script, u CommitUpdate, lastKnown string, newMarker time.Time) error {
	// The in-process blob store serves non-network URLs; only http(s)
	// sources need the SSRF check before we fetch them.
	if strings.HasPrefix(u.AudioURL, "http://") || strings.HasPrefix(u.AudioURL, "https://") {
		if err := urlvalidation.ValidateAudioURL(u.AudioURL, s.opts.ValidateOpts...); err != nil {
			return &ValidationError{Msg: fmt.Sprintf("audio URL for line %s rejected: %v", u.LineID, err)}
		}
	}
	bucket, path, err := s.blobs.ParsePublicURL(u.AudioURL)
	if err != nil || bucket != s.opts.RecordingsBucket {
		return &ValidationError{Msg: fmt.Sprintf("invalid audio URL format for line %s", u.LineID)}
	}

	audio, err := s.blobs.Download(ctx, bucket, path)
	if err != nil {
		return fmt.Errorf("download recording for line %s: %w: %v", u.LineID, ErrUpstream, err)
	}
	dest := fmt.Sprintf("%s/%s/%s.wav", script.UserID, script.ID, u.LineID)
	publicURL, err := s.blobs.Upload(ctx, s.opts.LinesBucket, dest, audio, "audio/wav")
	if err != nil {
		return fmt.Errorf("upload line audio %s: %w: %v", u.LineID, ErrUpstream, err)
	}

	expect, err := scene.ParseMarker(lastKnown)
	if err != nil {
		return &ValidationError{Msg: fmt.Sprintf("malformed timestamp for line %s", u.LineID)}
	}
	ok, err := s.store.UpdateLineAudio(ctx, u.LineID, publicURL, expect, newMarker)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("line %s changed under the session: %w", u.LineID, ErrConflict)
	}
	return nil
}

// MarkDone flips a session to completed. The completion event is where
// owner notification hangs off, downstream of this service.
func (s *Service) MarkDone(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.store.MarkSessionCompleted(ctx, sessionID); err != nil {
		return err
	}
	s.emit(ctx, events.SessionCompleted, sessionID, events.SessionCompletedData{
		SceneID: sess.SceneID,
		OwnerID: sess.UserID,
	})
	return nil
}

// markersEqual demands exact set equality between the client's marker map
// and the current one. Missing, extra, or stale entries all mean the script
// changed shape since the client loaded it.
func markersEqual(client, current map[string]string) error {
	if len(client) != len(current) {
		return fmt.Errorf("line set changed (%d known, %d current): %w",
			len(client), len(current), ErrConflict)
	}
	for id, marker := range current {
		got, ok := client[id]
		if !ok {
			return fmt.Errorf("line %s unknown to client: %w", id, ErrConflict)
		}
		if got != marker {
			return fmt.Errorf("line %s marker stale: %w", id, ErrConflict)
		}
	}
	return nil
}

func audioOverrides(cached scene.LineSnapshotJSON) map[string]string {
	m := make(map[string]string, len(cached))
	for _, cl := range cached {
		if cl.AudioURL != "" {
			m[cl.LineID] = cl.AudioURL
		}
	}
	return m
}

func applyOverrides(lines []scene.CachedLine, audio map[string]string) scene.LineSnapshotJSON {
	out := make(scene.LineSnapshotJSON, len(lines))
	copy(out, lines)
	for i := range out {
		if url, ok := audio[out[i].LineID]; ok {
			out[i].AudioURL = url
		}
	}
	return out
}

func (s *Service) emit(ctx context.Context, et events.EventType, sessionID string, data interface{}) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Emit(ctx, et, sessionID, data); err != nil {
		slog.WarnContext(ctx, "emit session event failed",
			slog.String("event_type", string(et)),
			slog.String("error", err.Error()))
	}
}
