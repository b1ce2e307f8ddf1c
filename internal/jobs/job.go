package jobs

import "time"

// Status is the lifecycle state of one synthesis job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	// StatusReady means every line has at least ephemeral audio; durable
	// uploads may still be in flight.
	StatusReady    Status = "ready"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Terminal reports whether the status is a terminal state for pollers.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// LineAudio is the per-line synthesis result. TempDataURL is populated the
// moment the vendor call returns; DurableURL once the background upload
// lands. Both may coexist during the upload window.
type LineAudio struct {
	LineID      string
	TempDataURL string
	DurableURL  string
}

// BestURL returns the durable URL when available, else the ephemeral one.
func (l LineAudio) BestURL() string {
	if l.DurableURL != "" {
		return l.DurableURL
	}
	return l.TempDataURL
}

// Job is one asynchronous speech-synthesis batch and its evolving result.
type Job struct {
	ID         string
	SceneID    string
	SceneTitle string
	Status     Status
	Lines      []LineAudio
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	total int
}

// clone returns a deep copy safe to hand to readers.
func (j *Job) clone() Job {
	cp := *j
	cp.Lines = make([]LineAudio, len(j.Lines))
	copy(cp.Lines, j.Lines)
	return cp
}

// recompute advances a non-errored job towards ready/complete. The error
// state is sticky; partial results recorded before or after the failure are
// kept but never change the status back.
func (j *Job) recompute() {
	if j.Status == StatusError || j.total == 0 || len(j.Lines) < j.total {
		return
	}
	j.Status = StatusReady
	for _, l := range j.Lines {
		if l.DurableURL == "" {
			return
		}
	}
	j.Status = StatusComplete
}
