// Package synth produces durable audio URLs for lines that miss every cache
// tier: synthesize, upload, then register the cache record.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/observability"
)

var (
	// ErrRateLimited means the backend signalled a usage limit.
	ErrRateLimited = errors.New("speech synthesis rate limited")
	// ErrUnavailable covers every other synthesis failure, including quota
	// exhaustion on the synthesis provider.
	ErrUnavailable = errors.New("speech synthesis unavailable")
)

// Synthesizer is the backend call the gateway depends on.
type Synthesizer interface {
	Synthesize(ctx context.Context, req backend.TTSRequest) ([]byte, error)
}

// Cache is the remote cache the gateway writes through.
type Cache interface {
	Store(ctx context.Context, key string, data []byte) (string, error)
	RecordMetadata(ctx context.Context, key, url string, data []byte) error
}

// BlobPutter parks audio when the remote store is unavailable.
type BlobPutter interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Observer receives synthesis outcomes and stage latencies.
type Observer interface {
	ObserveSynthesis(outcome string, d time.Duration)
	ObserveStage(stage string, d time.Duration)
}

// Request identifies one line to synthesize.
type Request struct {
	Key     string
	Content string
	Lang    string
	Voice   string
}

// Result is the outcome of Produce.
type Result struct {
	URL string
	// Durable is false when the audio only landed in the fallback store.
	Durable bool
	// Registered is true when the cache index now points at URL.
	Registered bool
	// Shared is true when another caller's in-flight work was reused.
	Shared bool
}

type Config struct {
	// Timeout bounds one full synthesize, store, register pass.
	Timeout time.Duration
}

type Gateway struct {
	synth    Synthesizer
	cache    Cache
	fallback BlobPutter
	observer Observer
	timeout  time.Duration
	logger   *slog.Logger

	group singleflight.Group
}

func NewGateway(s Synthesizer, cache Cache, fallback BlobPutter, observer Observer, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		synth:    s,
		cache:    cache,
		fallback: fallback,
		observer: observer,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Synthesize calls the backend and classifies failures as ErrRateLimited or
// ErrUnavailable. The backend error stays reachable through errors.As.
func (g *Gateway) Synthesize(ctx context.Context, content, lang, voice string) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "synth.synthesize")
	defer span.End()

	start := time.Now()
	data, err := g.synth.Synthesize(ctx, backend.TTSRequest{Text: content, Lang: lang, VoiceID: voice})
	elapsed := time.Since(start)
	if err != nil {
		if backend.IsRateLimited(err) {
			g.observe("rate_limited", elapsed)
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		g.observe("unavailable", elapsed)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(data) == 0 {
		g.observe("unavailable", elapsed)
		return nil, fmt.Errorf("%w: empty audio", ErrUnavailable)
	}
	g.observe("ok", elapsed)
	g.stage("synthesis", elapsed)
	return data, nil
}

// Produce runs synthesize, store and register for req.Key. Concurrent calls
// for the same key share one pass. The work is detached from ctx so a caller
// that gives up still leaves the caches populated.
func (g *Gateway) Produce(ctx context.Context, req Request) (Result, error) {
	ch := g.group.DoChan(req.Key, func() (any, error) {
		work, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.produce(work, req)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		out := res.Val.(Result)
		out.Shared = res.Shared
		return out, nil
	}
}

func (g *Gateway) produce(ctx context.Context, req Request) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "synth.produce")
	defer span.End()
	logger := observability.Logger(ctx)

	data, err := g.Synthesize(ctx, req.Content, req.Lang, req.Voice)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	url, err := g.cache.Store(ctx, req.Key, data)
	if err != nil {
		logger.WarnContext(ctx, "audio upload failed; serving from fallback store", "cache_key", req.Key, "error", err)
		url, err = g.fallback.Put(ctx, req.Key, data)
		if err != nil {
			return Result{}, fmt.Errorf("%w: park audio: %w", ErrUnavailable, err)
		}
		return Result{URL: url}, nil
	}
	g.stage("upload", time.Since(start))

	start = time.Now()
	if err := g.cache.RecordMetadata(ctx, req.Key, url, data); err != nil {
		logger.WarnContext(ctx, "tts cache registration failed", "cache_key", req.Key, "error", err)
		return Result{URL: url, Durable: true}, nil
	}
	g.stage("register_metadata", time.Since(start))
	return Result{URL: url, Durable: true, Registered: true}, nil
}

func (g *Gateway) observe(outcome string, d time.Duration) {
	if g.observer != nil {
		g.observer.ObserveSynthesis(outcome, d)
	}
}

func (g *Gateway) stage(name string, d time.Duration) {
	if g.observer != nil {
		g.observer.ObserveStage(name, d)
	}
}
