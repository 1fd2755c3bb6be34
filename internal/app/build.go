package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/ent0n29/robocomic/internal/auth"
	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/config"
	"github.com/ent0n29/robocomic/internal/httpapi"
	"github.com/ent0n29/robocomic/internal/observability"
	"github.com/ent0n29/robocomic/internal/playback"
	"github.com/ent0n29/robocomic/internal/session"
	"github.com/ent0n29/robocomic/internal/shows"
	"github.com/ent0n29/robocomic/internal/store"
	"github.com/ent0n29/robocomic/internal/synth"
	"github.com/ent0n29/robocomic/internal/ttscache"
)

// StorageInfo describes which backends Build selected.
type StorageInfo struct {
	Shows string
	Index string
	Blobs string
	Auth  string
}

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Views   *session.Manager
	Backend backend.API
	Metrics *observability.Metrics
	Storage StorageInfo

	// Cleanup should be called on shutdown to release external resources (DB pools, clients).
	Cleanup func() error
}

type cacheStack struct {
	index    ttscache.Index
	blobs    ttscache.BlobStore
	verifier auth.Verifier
	info     StorageInfo
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	showStore, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
	if err != nil {
		return nil, fmt.Errorf("show store init failed: %w", err)
	}

	stack, ready, err := resolveCache(ctx, cfg, showStore)
	if err != nil {
		_ = showStore.Close()
		return nil, err
	}

	var api backend.API
	if cfg.BackendMode == "mock" {
		api = backend.NewMock()
	} else {
		api = backend.NewClient(backend.ClientConfig{
			BaseURL:       cfg.BackendURL,
			Timeout:       cfg.BackendTimeout,
			TTSTimeout:    cfg.BackendTTSTimeout,
			HealthTimeout: cfg.BackendHealthTimeout,
			Observer:      metrics,
		})
	}

	audio := ttscache.NewMemoryBlobStore(cfg.PublicBaseURL + "/v1/audio")
	blobs := stack.blobs
	if blobs == nil {
		blobs = audio
	}
	remote := ttscache.NewRemote(stack.index, blobs, ttscache.RemoteConfig{
		MetadataAttempts: cfg.MetadataRetries,
	}, logger.With("component", "ttscache"))
	gateway := synth.NewGateway(api, remote, audio, metrics, synth.Config{
		Timeout: cfg.BackendTTSTimeout + 30*time.Second,
	}, logger.With("component", "synth"))

	views := session.NewManager(cfg.ViewInactivityTimeout, func() *playback.Coordinator {
		return playback.NewCoordinator(remote, gateway, metrics, playback.Config{
			NoticeTTL:    cfg.NoticeTTL,
			ConfirmStart: cfg.ConfirmStart,
		}, logger.With("component", "playback"))
	})
	views.SetExpireHook(func(_ *session.View) {
		metrics.ViewEvents.WithLabelValues("expired").Inc()
		metrics.ActiveViews.Set(float64(views.ActiveCount()))
	})

	showService := shows.NewService(api, showStore, metrics, logger.With("component", "shows"))

	server := httpapi.New(httpapi.Deps{
		Config:   cfg,
		Views:    views,
		Shows:    showService,
		Backend:  api,
		Verifier: stack.verifier,
		Audio:    audio,
		Metrics:  metrics,
		Ready:    ready,
		Logger:   logger,
	})

	cleanup := func() error {
		var errs []error
		if err := showStore.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:  cfg,
		API:     server,
		Views:   views,
		Backend: api,
		Metrics: metrics,
		Storage: stack.info,
		Cleanup: cleanup,
	}, nil
}

// resolveCache picks the remote cache index, blob store and token verifier.
// Supabase wins when configured; otherwise the index shares the show store's
// database and blobs stay in process.
func resolveCache(ctx context.Context, cfg config.Config, showStore store.Store) (cacheStack, func(context.Context) error, error) {
	stack := cacheStack{
		verifier: auth.Anonymous{},
		info:     StorageInfo{Shows: "memory", Index: "memory", Blobs: "memory", Auth: "anonymous"},
	}
	if len(cfg.StaticTokens) > 0 {
		stack.verifier = auth.Static(cfg.StaticTokens)
		stack.info.Auth = "static"
	}
	var ready func(context.Context) error

	switch s := showStore.(type) {
	case *store.PostgresStore:
		idx, err := ttscache.NewPostgresIndex(ctx, s.Pool())
		if err != nil {
			return cacheStack{}, nil, fmt.Errorf("tts cache index init failed: %w", err)
		}
		stack.index = idx
		stack.info.Shows, stack.info.Index = "postgres", "postgres"
		ready = func(ctx context.Context) error { return s.Pool().Ping(ctx) }
	case *store.MongoStore:
		stack.index = ttscache.NewMongoIndex(s.Database())
		stack.info.Shows, stack.info.Index = "mongo", "mongo"
		ready = func(ctx context.Context) error { return s.Database().Client().Ping(ctx, nil) }
	default:
		stack.index = ttscache.NewMemoryIndex()
	}

	if cfg.SupabaseEnabled() {
		client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil)
		if err != nil {
			return cacheStack{}, nil, fmt.Errorf("supabase client init failed: %w", err)
		}
		stack.index = ttscache.NewSupabaseIndex(client)
		stack.blobs = ttscache.NewSupabaseBlobStore(client, cfg.SupabaseBucket)
		stack.verifier = auth.NewSupabaseVerifier(client)
		stack.info.Index, stack.info.Blobs, stack.info.Auth = "supabase", "supabase", "supabase"
	}
	return stack, ready, nil
}
