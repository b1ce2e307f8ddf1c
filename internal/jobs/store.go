package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is the process-wide job map. Jobs live for the process lifetime;
// losing them on restart is acceptable for the polling contract. Every
// mutation of a job record goes through the store's lock, so concurrent
// line completions for the same job never interleave.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// Create registers a new pending job expecting total lines.
func (s *Store) Create(id, sceneID, sceneTitle string, total int) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &Job{
		ID:         id,
		SceneID:    sceneID,
		SceneTitle: sceneTitle,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		total:      total,
	}
}

// MarkProcessing transitions a pending job to processing.
func (s *Store) MarkProcessing(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != StatusPending {
		return
	}
	j.Status = StatusProcessing
	j.UpdatedAt = time.Now()
}

// SetLineTemp records the ephemeral audio payload for a line and advances
// the job towards ready/complete.
func (s *Store) SetLineTemp(id, lineID, dataURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	if line := findLine(j, lineID); line != nil {
		line.TempDataURL = dataURL
	} else {
		j.Lines = append(j.Lines, LineAudio{LineID: lineID, TempDataURL: dataURL})
	}
	j.UpdatedAt = time.Now()
	j.recompute()
}

// SetLineDurable records the durable URL for a line once its upload landed.
func (s *Store) SetLineDurable(id, lineID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	if line := findLine(j, lineID); line != nil {
		line.DurableURL = url
	} else {
		j.Lines = append(j.Lines, LineAudio{LineID: lineID, DurableURL: url})
	}
	j.UpdatedAt = time.Now()
	j.recompute()
}

// SetError moves the job to the terminal error state, preserving whatever
// partial results already exist. The first error wins.
func (s *Store) SetError(id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status == StatusError {
		return
	}
	j.Status = StatusError
	j.Error = msg
	j.UpdatedAt = time.Now()
}

// Snapshot returns a consistent deep copy of the job, if known.
func (s *Store) Snapshot(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// StartReaper marks jobs stuck in a non-terminal state past timeout as
// errored so pollers are not left hanging forever. Runs until ctx is done.
func (s *Store) StartReaper(ctx context.Context, interval, timeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reap(timeout)
			}
		}
	}()
}

func (s *Store) reap(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if !j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			j.Status = StatusError
			j.Error = "job timed out"
			j.UpdatedAt = time.Now()
			slog.Warn("reaped stale synthesis job", slog.String("job_id", j.ID))
		}
	}
}

func findLine(j *Job, lineID string) *LineAudio {
	for i := range j.Lines {
		if j.Lines[i].LineID == lineID {
			return &j.Lines[i]
		}
	}
	return nil
}
