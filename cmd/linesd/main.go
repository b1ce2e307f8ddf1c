package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	linesconfig "github.com/alexfinch7/lines/config"
	"github.com/alexfinch7/lines/internal/api"
	"github.com/alexfinch7/lines/internal/httputil"
	"github.com/alexfinch7/lines/internal/jobs"
	"github.com/alexfinch7/lines/internal/scene"
	"github.com/alexfinch7/lines/internal/share"
	"github.com/alexfinch7/lines/internal/speech/registry"
	"github.com/alexfinch7/lines/internal/storage"
	"github.com/alexfinch7/lines/internal/storage/supabase"
	"github.com/alexfinch7/lines/internal/voice"
	"github.com/alexfinch7/lines/pkg/events"

	// Register speech backends via init().
	_ "github.com/alexfinch7/lines/internal/speech/backends/elevenlabs"
	_ "github.com/alexfinch7/lines/internal/speech/backends/google"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[linesconfig.LinesConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("linesd"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)
	pub := events.NewPublisher(srv.QueueManager(), "linesd", eventRef)

	// --- Voice catalog ---
	catalog := voice.NewCatalog(cfg.VoiceCatalogDir, map[voice.Selector]string{
		voice.MalePresenting:   cfg.ElevenLabsMaleVoiceID,
		voice.FemalePresenting: cfg.ElevenLabsFemaleVoiceID,
	}, cfg.ElevenLabsDefaultVoiceID)
	if err := catalog.LoadAll(); err != nil {
		log.Printf("warning: loading voice catalog: %v", err)
	}
	go func() {
		if err := catalog.WatchAndReload(ctx.Done()); err != nil {
			slog.Warn("voice catalog watcher stopped", slog.String("error", err.Error()))
		}
	}()

	// --- Speech synthesis ---
	tts, err := registry.TTS.Create(cfg.TTSBackend, cfg.TTSServiceConfig())
	if err != nil {
		log.Fatalf("creating TTS backend: %v", err)
	}
	defer tts.Close()

	// --- Blob storage ---
	var blobs storage.BlobStore
	switch cfg.StorageBackend {
	case "memory":
		blobs = storage.NewMemoryStore()
	default:
		blobs = supabase.New(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	}

	// --- Reader audio jobs ---
	jobStore := jobs.NewStore()
	jobStore.StartReaper(ctx, time.Minute, cfg.JobTimeout())
	eng := jobs.NewEngine(jobStore, tts, blobs, catalog, pool, pub, jobs.EngineConfig{
		Backend:       cfg.TTSBackend,
		Bucket:        cfg.RecordingsBucket,
		BatchSize:     cfg.SynthesisBatchSize,
		MaxTextLength: cfg.MaxLineTextLength,
	})

	// --- Share sessions ---
	repo := scene.NewRepository(
		srv.DatastoreManager().GetPool(ctx, "__default__pool_name__"),
	)
	shares := share.NewService(repo, blobs, pub, share.Options{
		RecordingsBucket: cfg.RecordingsBucket,
		LinesBucket:      cfg.LinesBucket,
		CommitTimeout:    cfg.CommitTimeout(),
	})

	// --- HTTP surface ---
	handler := api.NewHandler(eng, jobStore, shares, tts, catalog, api.Config{
		Backend:           cfg.TTSBackend,
		MaxLineTextLength: cfg.MaxLineTextLength,
	})

	ownerMux := http.NewServeMux()
	handler.RegisterOwnerRoutes(ownerMux)

	mux := http.NewServeMux()
	handler.RegisterPublicRoutes(mux)
	mux.Handle("POST /api/v1/reader-audio/jobs",
		httputil.AuthenticatedMiddleware(ownerMux, authenticator))
	mux.Handle("POST /api/v1/tts-line",
		httputil.AuthenticatedMiddleware(ownerMux, authenticator))
	mux.Handle("POST /api/v1/sessions",
		httputil.AuthenticatedMiddleware(ownerMux, authenticator))

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".audit", eventURL, &events.AuditSubscriber{}),
		frame.WithHTTPHandler(httputil.H2CHandler(httputil.LoggingMiddleware(mux))),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
