package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	SessionCreated   EventType = "session.created"
	SessionCommitted EventType = "session.committed"
	SessionCompleted EventType = "session.completed"
	SynthesisStarted EventType = "synthesis.started"
	SynthesisReady   EventType = "synthesis.ready"
	SynthesisDone    EventType = "synthesis.complete"
	SynthesisFailed  EventType = "synthesis.failed"
	SystemError      EventType = "error"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionCreatedData is the payload for session.created events.
type SessionCreatedData struct {
	SceneID string `json:"scene_id"`
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
}

// SessionCommittedData is the payload for session.committed events.
type SessionCommittedData struct {
	SceneID      string `json:"scene_id"`
	LinesUpdated int    `json:"lines_updated"`
}

// SessionCompletedData is the payload for session.completed events. Push
// notification delivery hangs off this event and lives outside this service.
type SessionCompletedData struct {
	SceneID string `json:"scene_id"`
	OwnerID string `json:"owner_id"`
}

// SynthesisJobData is the payload for synthesis.* events.
type SynthesisJobData struct {
	JobID      string `json:"job_id"`
	SceneID    string `json:"scene_id"`
	TotalLines int    `json:"total_lines"`
	Error      string `json:"error,omitempty"`
}
