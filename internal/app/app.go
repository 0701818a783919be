// Package app wires all Frigoscope subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// storage backends and the detection pipeline, Run drives the configured
// streams, and Shutdown tears everything down in reverse order.
//
// For testing, inject fakes via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantberg/frigoscope/internal/config"
	"github.com/vantberg/frigoscope/internal/detector"
	"github.com/vantberg/frigoscope/internal/health"
	"github.com/vantberg/frigoscope/internal/history"
	"github.com/vantberg/frigoscope/internal/observe"
	"github.com/vantberg/frigoscope/internal/report"
	"github.com/vantberg/frigoscope/internal/resilience"
)

// App owns all subsystem lifetimes and orchestrates the detection pipeline.
type App struct {
	cfg *config.Config

	metrics *observe.Metrics
	store   history.Store
	pool    *pgxpool.Pool
	cache   *report.Cache
	det     *detector.Detector
	streams *StreamManager

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a history store instead of creating one from config.
func WithStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: metrics, the
// history store (PostgreSQL behind a circuit breaker, or in-memory), the
// report cache, the detector, and the stream manager. Initialisation is
// synchronous; failures unwind any backends already connected.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	if err := a.initCache(ctx); err != nil {
		a.unwind()
		return nil, fmt.Errorf("app: init report cache: %w", err)
	}

	if err := a.initDetector(); err != nil {
		a.unwind()
		return nil, fmt.Errorf("app: init detector: %w", err)
	}

	a.streams = NewStreamManager(a.det, cfg.Workers.MaxStreams)
	if err := a.streams.OpenConfigured(ctx, cfg.Streams); err != nil {
		a.unwind()
		return nil, err
	}

	return a, nil
}

// initStore connects the PostgreSQL history store when configured, wrapping
// it in a circuit breaker with an in-memory fallback. Without a database
// URL, history lives in memory only.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	url := a.cfg.Storage.PostgresURL
	if url == "" {
		slog.Info("no database configured, using in-memory history")
		a.store = history.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	pg := history.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}

	a.pool = pool
	a.store = history.NewGuarded(pg, resilience.NewBreaker(resilience.BreakerConfig{
		Name: "history-postgres",
	}))
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("history store connected", "backend", "postgres")
	return nil
}

// initCache connects the Redis report cache when configured.
func (a *App) initCache(ctx context.Context) error {
	addr := a.cfg.Storage.RedisAddr
	if addr == "" {
		return nil
	}
	cache, err := report.NewCache(ctx, addr, a.cfg.Storage.ReportTTL.Std())
	if err != nil {
		return err
	}
	a.cache = cache
	a.closers = append(a.closers, cache.Close)
	slog.Info("report cache connected", "addr", addr)
	return nil
}

// initDetector assembles the detection pipeline from config.
func (a *App) initDetector() error {
	det, err := detector.New(detector.Config{
		SampleRate:      a.cfg.Audio.SampleRate,
		ChunkDuration:   secondsToDuration(a.cfg.Audio.ChunkSeconds),
		Bands:           a.cfg.Bands,
		Threshold:       a.cfg.Threshold,
		Patterns:        a.cfg.Patterns,
		MaxBandParallel: a.cfg.Workers.MaxBandParallel,
		Store:           a.store,
		ReportCache:     a.cache,
		Metrics:         a.metrics,
	})
	if err != nil {
		return err
	}
	a.det = det
	return nil
}

// Detector returns the assembled detection pipeline facade.
func (a *App) Detector() *detector.Detector { return a.det }

// Streams returns the stream manager.
func (a *App) Streams() *StreamManager { return a.streams }

// Metrics returns the app's metrics set.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Run drives all configured streams until their sources end or ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running", "streams", len(a.cfg.Streams))
	return a.streams.Run(ctx)
}

// HealthCheckers returns readiness checks for the connected backends.
func (a *App) HealthCheckers() []health.Checker {
	var checks []health.Checker
	if a.pool != nil {
		pool := a.pool
		checks = append(checks, health.Checker{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return pool.Ping(ctx) },
		})
	}
	if a.cache != nil {
		cache := a.cache
		checks = append(checks, health.Checker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return cache.Ping(ctx) },
		})
	}
	return checks
}

// ReportHandler serves GET /reports/{stream} as JSON.
func (a *App) ReportHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/reports/")
		if name == "" {
			http.Error(w, `{"error":"stream name required"}`, http.StatusBadRequest)
			return
		}
		rep, err := a.det.ExportReport(r.Context(), name)
		if err != nil {
			slog.Warn("report export failed", "stream", name, "err", err)
			http.Error(w, `{"error":"report unavailable"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(rep); err != nil {
			slog.Warn("report encode failed", "stream", name, "err", err)
		}
	})
}

// Shutdown stops all streams and tears down backends in reverse-init order.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.streams != nil {
			a.streams.StopAll()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// unwind tears down partially-initialised backends after a New failure.
func (a *App) unwind() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

// secondsToDuration converts a fractional seconds value from config.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
