package jobs

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitabwire/frame/workerpool"
	"github.com/rs/xid"

	"github.com/alexfinch7/lines/internal/speech/engine"
	"github.com/alexfinch7/lines/internal/storage"
	"github.com/alexfinch7/lines/internal/voice"
	"github.com/alexfinch7/lines/pkg/events"
)

// ValidationError is returned synchronously by Start before any job is
// created.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// LineRequest is one line of a synthesis batch.
type LineRequest struct {
	LineID string
	Role   string
	Text   string
	Voice  voice.Selector
}

// StartRequest is the input to Engine.Start.
type StartRequest struct {
	SceneID    string
	SceneTitle string
	Lines      []LineRequest
}

// EngineConfig carries the tunables for the audio generation engine.
type EngineConfig struct {
	Backend       string // TTS backend name, for voice catalog resolution
	Bucket        string // destination bucket for durable reader audio
	BatchSize     int
	MaxTextLength int
}

// Engine orchestrates batched speech synthesis for reader lines. Each job
// runs as a background task: phase 1 exposes ephemeral audio per line as
// soon as the vendor call returns, phase 2 uploads the same bytes to the
// blob store and records the durable URL.
type Engine struct {
	store  *Store
	tts    engine.TTSEngine
	blobs  storage.BlobStore
	voices *voice.Catalog
	pool   workerpool.WorkerPool
	pub    *events.Publisher
	cfg    EngineConfig
}

// NewEngine creates an audio generation engine.
func NewEngine(store *Store, tts engine.TTSEngine, blobs storage.BlobStore, voices *voice.Catalog, pool workerpool.WorkerPool, pub *events.Publisher, cfg EngineConfig) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 6
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 500
	}
	return &Engine{
		store:  store,
		tts:    tts,
		blobs:  blobs,
		voices: voices,
		pool:   pool,
		pub:    pub,
		cfg:    cfg,
	}
}

// Start validates the request, creates a pending job, and kicks off
// background processing. It returns the job id immediately; all synthesis
// work happens out of band.
func (e *Engine) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.SceneID == "" || req.SceneTitle == "" {
		return "", &ValidationError{Msg: "sceneTitle and sceneId are required"}
	}
	if len(req.Lines) == 0 {
		return "", &ValidationError{Msg: "lines array is required"}
	}
	for _, ln := range req.Lines {
		if ln.LineID == "" || ln.Text == "" {
			return "", &ValidationError{Msg: "every line needs a lineId and text"}
		}
		if ln.Role != "reader" {
			return "", &ValidationError{Msg: fmt.Sprintf("unsupported role %q for line %s", ln.Role, ln.LineID)}
		}
		if !ln.Voice.Valid() {
			return "", &ValidationError{Msg: fmt.Sprintf("unknown voice selector %q for line %s", ln.Voice, ln.LineID)}
		}
		if len(ln.Text) > e.cfg.MaxTextLength {
			return "", &ValidationError{Msg: fmt.Sprintf("line %s exceeds maximum length of %d characters", ln.LineID, e.cfg.MaxTextLength)}
		}
	}

	jobID := "job_" + xid.New().String()
	e.store.Create(jobID, req.SceneID, req.SceneTitle, len(req.Lines))

	// The job must outlive the triggering request.
	bgCtx := context.WithoutCancel(ctx)
	task := func() { e.process(bgCtx, jobID, req) }
	if e.pool != nil {
		if err := e.pool.Submit(ctx, task); err != nil {
			slog.WarnContext(ctx, "worker pool full, running job inline",
				slog.String("job_id", jobID))
			go task()
		}
	} else {
		go task()
	}

	return jobID, nil
}

func (e *Engine) process(ctx context.Context, jobID string, req StartRequest) {
	started := time.Now()
	e.store.MarkProcessing(jobID)
	e.emit(ctx, events.SynthesisStarted, events.SynthesisJobData{
		JobID:      jobID,
		SceneID:    req.SceneID,
		TotalLines: len(req.Lines),
	})

	var uploads sync.WaitGroup
	for start := 0; start < len(req.Lines); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(req.Lines) {
			end = len(req.Lines)
		}

		var wg sync.WaitGroup
		for _, ln := range req.Lines[start:end] {
			wg.Add(1)
			go func(ln LineRequest) {
				defer wg.Done()
				e.processLine(ctx, jobID, req.SceneID, ln, &uploads)
			}(ln)
		}
		wg.Wait()
	}

	if snap, ok := e.store.Snapshot(jobID); ok && snap.Status != StatusError {
		e.emit(ctx, events.SynthesisReady, events.SynthesisJobData{
			JobID:      jobID,
			SceneID:    req.SceneID,
			TotalLines: len(req.Lines),
		})
	}
	uploads.Wait()

	snap, ok := e.store.Snapshot(jobID)
	if !ok {
		return
	}
	data := events.SynthesisJobData{
		JobID:      jobID,
		SceneID:    req.SceneID,
		TotalLines: len(req.Lines),
		Error:      snap.Error,
	}
	if snap.Status == StatusError {
		e.emit(ctx, events.SynthesisFailed, data)
	} else {
		e.emit(ctx, events.SynthesisDone, data)
	}
	slog.InfoContext(ctx, "synthesis job finished",
		slog.String("job_id", jobID),
		slog.String("status", string(snap.Status)),
		slog.Int("lines", len(req.Lines)),
		slog.Duration("duration", time.Since(started)))
}

func (e *Engine) processLine(ctx context.Context, jobID, sceneID string, ln LineRequest, uploads *sync.WaitGroup) {
	voiceID, err := e.voices.Resolve(e.cfg.Backend, ln.Voice)
	if err != nil {
		slog.ErrorContext(ctx, "voice resolution failed",
			slog.String("job_id", jobID),
			slog.String("line_id", ln.LineID),
			slog.String("error", err.Error()))
		e.store.SetError(jobID, "No voice is configured for the requested timbre.")
		return
	}

	audio, err := e.tts.Synthesize(ctx, ln.Text, voiceID)
	if err != nil {
		slog.ErrorContext(ctx, "TTS synthesis failed",
			slog.String("job_id", jobID),
			slog.String("line_id", ln.LineID),
			slog.String("voice_id", voiceID),
			slog.String("error", err.Error()))
		// Terminal for the job, but other in-flight lines keep going and
		// their results stay available to the client.
		e.store.SetError(jobID, "Failed to generate reader audio.")
		return
	}

	// Phase 1: ephemeral playback payload, available immediately.
	dataURL := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio)
	e.store.SetLineTemp(jobID, ln.LineID, dataURL)

	// Phase 2: durable upload in the background. Failures are logged and
	// swallowed; ephemeral playback remains valid.
	uploads.Add(1)
	task := func() {
		defer uploads.Done()
		path := fmt.Sprintf("scenes/%s/%s.mp3", sceneID, ln.LineID)
		url, err := e.blobs.Upload(ctx, e.cfg.Bucket, path, audio, "audio/mpeg")
		if err != nil {
			slog.WarnContext(ctx, "durable upload failed, keeping ephemeral audio",
				slog.String("job_id", jobID),
				slog.String("line_id", ln.LineID),
				slog.String("error", err.Error()))
			return
		}
		e.store.SetLineDurable(jobID, ln.LineID, url)
	}
	if e.pool != nil {
		if err := e.pool.Submit(ctx, task); err != nil {
			go task()
		}
	} else {
		go task()
	}
}

func (e *Engine) emit(ctx context.Context, et events.EventType, data events.SynthesisJobData) {
	if e.pub == nil {
		return
	}
	if err := e.pub.Emit(ctx, et, "", data); err != nil {
		slog.WarnContext(ctx, "emit synthesis event failed",
			slog.String("event_type", string(et)),
			slog.String("error", err.Error()))
	}
}
