package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alexfinch7/lines/internal/jobs"
	"github.com/alexfinch7/lines/internal/scene"
	"github.com/alexfinch7/lines/internal/share"
	"github.com/alexfinch7/lines/internal/speech/backends/restutil"
	"github.com/alexfinch7/lines/internal/speech/engine"
	"github.com/alexfinch7/lines/internal/voice"
)

const (
	maxRequestBodySize = 1 << 20  // 1 MiB
	maxUploadSize      = 16 << 20 // 16 MiB per recording
)

// Config carries the handler tunables.
type Config struct {
	Backend           string // TTS backend name, for voice resolution
	MaxLineTextLength int
}

// Handler provides the REST surface: reader-audio jobs, synchronous
// synthesis, and share sessions.
type Handler struct {
	engine *jobs.Engine
	store  *jobs.Store
	shares *share.Service
	tts    engine.TTSEngine
	voices *voice.Catalog
	cfg    Config
}

// NewHandler creates the API handler.
func NewHandler(eng *jobs.Engine, store *jobs.Store, shares *share.Service, tts engine.TTSEngine, voices *voice.Catalog, cfg Config) *Handler {
	if cfg.MaxLineTextLength <= 0 {
		cfg.MaxLineTextLength = 500
	}
	return &Handler{engine: eng, store: store, shares: shares, tts: tts, voices: voices, cfg: cfg}
}

// RegisterOwnerRoutes registers the authenticated (scene owner) routes.
func (h *Handler) RegisterOwnerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/reader-audio/jobs", h.StartJob)
	mux.HandleFunc("POST /api/v1/tts-line", h.TTSLine)
	mux.HandleFunc("POST /api/v1/sessions", h.CreateSession)
}

// RegisterPublicRoutes registers the reader-facing routes. Readers are
// anonymous invitees; the session id is their capability.
func (h *Handler) RegisterPublicRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/reader-audio/jobs/{jobId}", h.JobStatus)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/lines", h.SaveLine)
	mux.HandleFunc("POST /api/v1/recordings", h.UploadRecording)
	mux.HandleFunc("POST /api/v1/sessions/{id}/commit", h.Commit)
	mux.HandleFunc("POST /api/v1/sessions/{id}/done", h.Done)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeShareError maps the session service error taxonomy onto the wire.
func writeShareError(w http.ResponseWriter, err error) {
	var verr *share.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Msg)
	case errors.Is(err, share.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, share.ErrNotSharable):
		writeJSON(w, http.StatusForbidden, NotSharableResponse{
			NotSharable: true,
			Error:       "This scene is no longer being shared.",
		})
	case errors.Is(err, share.ErrConflict):
		writeJSON(w, http.StatusConflict, ConflictResponse{
			Conflict: true,
			Error:    "The scene was edited since this session was loaded. Ask the owner to share it again.",
		})
	case errors.Is(err, share.ErrUpstream):
		writeError(w, http.StatusBadGateway, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toSessionView(sess *scene.ShareSession) SessionView {
	view := SessionView{
		ID:          sess.ID,
		Title:       sess.Title,
		Status:      sess.Status,
		SceneID:     sess.SceneID,
		ActorLines:  toLineViews(sess.ActorLines),
		ReaderLines: toLineViews(sess.ReaderLines),
	}
	return view
}

func toLineViews(cached scene.LineSnapshotJSON) []LineViewDTO {
	out := make([]LineViewDTO, 0, len(cached))
	for _, cl := range cached {
		out = append(out, LineViewDTO{
			LineID:   cl.LineID,
			Index:    cl.Index,
			Text:     cl.Text,
			AudioURL: cl.AudioURL,
		})
	}
	return out
}

// StartJob handles POST /api/v1/reader-audio/jobs
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lines := make([]jobs.LineRequest, 0, len(req.Lines))
	for _, ln := range req.Lines {
		lines = append(lines, jobs.LineRequest{
			LineID: ln.LineID,
			Role:   ln.Role,
			Text:   ln.Text,
			Voice:  voice.Selector(ln.PreferredVoice),
		})
	}

	jobID, err := h.engine.Start(r.Context(), jobs.StartRequest{
		SceneID:    req.SceneID,
		SceneTitle: req.SceneTitle,
		Lines:      lines,
	})
	if err != nil {
		var verr *jobs.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Msg)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}
	writeJSON(w, http.StatusOK, StartJobResponse{JobID: jobID})
}

// JobStatus handles GET /api/v1/reader-audio/jobs/{jobId}
//
// The polling contract: always 200, always a status field. Pollers branch
// on status, never on HTTP codes.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	snap, ok := h.store.Snapshot(jobID)
	if !ok {
		writeJSON(w, http.StatusOK, JobStatusResponse{
			Status: string(jobs.StatusError),
			Audio:  []JobAudioDTO{},
			Error:  "job not found",
		})
		return
	}

	audio := make([]JobAudioDTO, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		if url := l.BestURL(); url != "" {
			audio = append(audio, JobAudioDTO{LineID: l.LineID, URL: url})
		}
	}
	writeJSON(w, http.StatusOK, JobStatusResponse{
		Status: string(snap.Status),
		Audio:  audio,
		Error:  snap.Error,
	})
}

// TTSLine handles POST /api/v1/tts-line
func (h *Handler) TTSLine(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req TTSLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LineID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "lineId and text are required")
		return
	}
	if len(req.Text) > h.cfg.MaxLineTextLength {
		writeError(w, http.StatusBadRequest, "text is too long")
		return
	}
	sel := voice.Selector(req.PreferredVoice)
	if !sel.Valid() {
		writeError(w, http.StatusBadRequest, "unknown preferredVoice")
		return
	}

	voiceID, err := h.voices.Resolve(h.cfg.Backend, sel)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "no voice configured")
		return
	}

	audio, err := h.tts.Synthesize(r.Context(), req.Text, voiceID)
	if err != nil {
		var serr *restutil.StatusError
		if errors.As(err, &serr) {
			switch serr.StatusCode {
			case http.StatusTooManyRequests:
				writeError(w, http.StatusTooManyRequests, "speech vendor rate limited")
				return
			case http.StatusBadGateway, http.StatusServiceUnavailable:
				writeError(w, http.StatusServiceUnavailable, "speech vendor unavailable")
				return
			}
		}
		writeError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	writeJSON(w, http.StatusOK, TTSLineResponse{
		LineID:       req.LineID,
		AudioDataURL: "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio),
	})
}

// CreateSession handles POST /api/v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, _, err := h.shares.CreateSession(r.Context(), req.SceneID, req.Title)
	if err != nil {
		writeShareError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreateSessionResponse{
		SessionID: sess.ID,
		Session:   toSessionView(sess),
	})
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	hyd, err := h.shares.Hydrate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeShareError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HydrationResponse{
		Session:        toSessionView(hyd.Session),
		SceneVersion:   hyd.SceneVersion,
		LineUpdatedAt:  hyd.LineUpdatedAt,
		SceneUpdatedAt: hyd.SceneUpdatedAt,
		SceneSharable:  hyd.SceneSharable,
	})
}

// SaveLine handles POST /api/v1/sessions/{id}/lines
func (h *Handler) SaveLine(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req SaveLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.shares.SaveReaderRecording(r.Context(), r.PathValue("id"), req.LineID, req.AudioURL); err != nil {
		writeShareError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// UploadRecording handles POST /api/v1/recordings
func (h *Handler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	url, err := h.shares.UploadRecording(r.Context(),
		r.FormValue("sessionId"), r.FormValue("lineId"), r.FormValue("role"),
		data, header.Header.Get("Content-Type"))
	if err != nil {
		writeShareError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{URL: url})
}

// Commit handles POST /api/v1/sessions/{id}/commit
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req CommitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updates := make([]share.CommitUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, share.CommitUpdate{LineID: u.LineID, AudioURL: u.AudioURL})
	}
	err := h.shares.Commit(r.Context(), share.CommitRequest{
		SessionID:      r.PathValue("id"),
		SceneUpdatedAt: req.SceneUpdatedAt,
		LineTimestamps: req.LineTimestamps,
		Updates:        updates,
	})
	if err != nil {
		writeShareError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Done handles POST /api/v1/sessions/{id}/done
func (h *Handler) Done(w http.ResponseWriter, r *http.Request) {
	if err := h.shares.MarkDone(r.Context(), r.PathValue("id")); err != nil {
		writeShareError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}
