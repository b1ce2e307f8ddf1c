package api

// StartJobRequest is the request body for starting a reader-audio job.
type StartJobRequest struct {
	SceneID    string       `json:"sceneId"`
	SceneTitle string       `json:"sceneTitle"`
	Lines      []JobLineDTO `json:"lines"`
}

// JobLineDTO is one line of a reader-audio job request.
type JobLineDTO struct {
	LineID         string `json:"lineId"`
	Role           string `json:"role"`
	Text           string `json:"text"`
	PreferredVoice string `json:"preferredVoice"`
}

// StartJobResponse carries the id of a newly started job.
type StartJobResponse struct {
	JobID string `json:"jobId"`
}

// JobStatusResponse is the polling projection of a job. The status field is
// always present and the endpoint always answers 200.
type JobStatusResponse struct {
	Status string        `json:"status"`
	Audio  []JobAudioDTO `json:"audio"`
	Error  string        `json:"error,omitempty"`
}

// JobAudioDTO is one line's playable audio in a job projection.
type JobAudioDTO struct {
	LineID string `json:"lineId"`
	URL    string `json:"url"`
}

// TTSLineRequest is the request body for synchronous single-line synthesis.
type TTSLineRequest struct {
	LineID         string `json:"lineId"`
	Text           string `json:"text"`
	PreferredVoice string `json:"preferredVoice"`
}

// TTSLineResponse carries the synthesized audio as a data URL.
type TTSLineResponse struct {
	LineID       string `json:"lineId"`
	AudioDataURL string `json:"audioDataUrl"`
}

// CreateSessionRequest is the request body for opening a share session.
type CreateSessionRequest struct {
	SceneID string `json:"sceneId"`
	Title   string `json:"title,omitempty"`
}

// CreateSessionResponse carries the (possibly pre-existing) session.
type CreateSessionResponse struct {
	SessionID string      `json:"sessionId"`
	Session   SessionView `json:"session"`
}

// SessionView is the API shape of a share session.
type SessionView struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Status      string        `json:"status"`
	SceneID     string        `json:"sceneId"`
	ActorLines  []LineViewDTO `json:"actorLines"`
	ReaderLines []LineViewDTO `json:"readerLines"`
}

// LineViewDTO is one cached line in a session view.
type LineViewDTO struct {
	LineID   string `json:"lineId"`
	Index    int64  `json:"index"`
	Text     string `json:"text"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// HydrationResponse is the full reader-facing session payload.
type HydrationResponse struct {
	Session        SessionView       `json:"session"`
	SceneVersion   string            `json:"sceneVersion"`
	LineUpdatedAt  map[string]string `json:"lineUpdatedAt"`
	SceneUpdatedAt string            `json:"sceneUpdatedAt,omitempty"`
	SceneSharable  bool              `json:"sceneSharable"`
}

// SaveLineRequest records a per-session recording override.
type SaveLineRequest struct {
	LineID   string `json:"lineId"`
	AudioURL string `json:"audioUrl"`
}

// UploadResponse carries the public URL of an uploaded recording.
type UploadResponse struct {
	URL string `json:"url"`
}

// CommitRequestDTO is the request body for committing session recordings.
type CommitRequestDTO struct {
	SceneUpdatedAt string            `json:"sceneUpdatedAt,omitempty"`
	LineTimestamps map[string]string `json:"lineTimestamps"`
	Updates        []CommitUpdateDTO `json:"updates"`
}

// CommitUpdateDTO names one line whose recording becomes canonical.
type CommitUpdateDTO struct {
	LineID   string `json:"lineId"`
	AudioURL string `json:"audioUrl"`
}

// OKResponse is the generic success body.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ConflictResponse signals an optimistic concurrency failure.
type ConflictResponse struct {
	Conflict bool   `json:"conflict"`
	Error    string `json:"error"`
}

// NotSharableResponse signals that sharing was revoked.
type NotSharableResponse struct {
	NotSharable bool   `json:"notSharable"`
	Error       string `json:"error"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
