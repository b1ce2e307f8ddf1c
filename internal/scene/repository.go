package scene

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pitabwire/frame/datastore/pool"
)

// Repository provides access to scripts, lines, and share sessions.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a scene repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

// GetScript returns a script by ID.
func (r *Repository) GetScript(ctx context.Context, id string) (*Script, error) {
	var sc Script
	err := r.db(ctx, true).Where("id = ?", id).First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("script %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// ListLines returns every line of a script, unordered. Callers sort via
// SortLines so the ordering rule lives in one place.
func (r *Repository) ListLines(ctx context.Context, scriptID string) ([]ScriptLine, error) {
	var lines []ScriptLine
	err := r.db(ctx, true).Where("script_id = ?", scriptID).Find(&lines).Error
	return lines, err
}

// UpdateLineAudio writes a line's new audio URL only if its updated_at still
// matches expect. Returns false when the row was edited (or deleted) since
// the caller last read it; the caller treats that as a conflict.
func (r *Repository) UpdateLineAudio(ctx context.Context, lineID, audioURL string, expect, newMarker time.Time) (bool, error) {
	res := r.db(ctx, false).
		Model(&ScriptLine{}).
		Where("id = ? AND updated_at = ?", lineID, expect).
		Updates(map[string]any{
			"audio_url":  audioURL,
			"updated_at": newMarker,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FinalizeScript stamps the script after a successful commit: sharing is
// closed and the new audio is flagged for trimming.
func (r *Repository) FinalizeScript(ctx context.Context, scriptID string, marker time.Time) error {
	res := r.db(ctx, false).
		Model(&Script{}).
		Where("id = ?", scriptID).
		Updates(map[string]any{
			"sharable":   false,
			"need_trim":  true,
			"updated_at": marker,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("script %s: %w", scriptID, ErrNotFound)
	}
	return nil
}

// GetSession returns a share session by ID.
func (r *Repository) GetSession(ctx context.Context, id string) (*ShareSession, error) {
	var sess ShareSession
	err := r.db(ctx, true).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// LatestSessionByScene returns the most recently created session for a
// scene, or ErrNotFound when none exists.
func (r *Repository) LatestSessionByScene(ctx context.Context, sceneID string) (*ShareSession, error) {
	var sess ShareSession
	err := r.db(ctx, true).
		Where("scene_id = ?", sceneID).
		Order("created_at DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("scene %s: %w", sceneID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession persists a new share session.
func (r *Repository) CreateSession(ctx context.Context, sess *ShareSession) error {
	return r.db(ctx, false).Create(sess).Error
}

// UpdateSessionReaderLines replaces the cached reader lines of a session.
func (r *Repository) UpdateSessionReaderLines(ctx context.Context, id string, lines LineSnapshotJSON) error {
	res := r.db(ctx, false).
		Model(&ShareSession{}).
		Where("id = ?", id).
		Update("reader_lines", lines)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkSessionCompleted flips a session to completed.
func (r *Repository) MarkSessionCompleted(ctx context.Context, id string) error {
	res := r.db(ctx, false).
		Model(&ShareSession{}).
		Where("id = ?", id).
		Update("status", SessionCompleted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}
