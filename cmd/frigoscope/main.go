// Command frigoscope is the main entry point for the Frigoscope acoustic
// monitoring server. It also provides a one-shot analysis mode for field
// diagnostics: -analyze runs a single WAV file through the pipeline and
// prints the verdict as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vantberg/frigoscope/internal/app"
	"github.com/vantberg/frigoscope/internal/config"
	"github.com/vantberg/frigoscope/internal/health"
	"github.com/vantberg/frigoscope/internal/observe"
	"github.com/vantberg/frigoscope/internal/threshold"
	"github.com/vantberg/frigoscope/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	analyzePath := flag.String("analyze", "", "analyse a single WAV file and exit")
	durationSec := flag.Float64("duration", 0, "asserted condition duration in seconds for -analyze")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "frigoscope: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "frigoscope: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry providers ───────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "frigoscope",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	slog.Info("frigoscope starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── One-shot analysis mode ────────────────────────────────────────────────
	if *analyzePath != "" {
		return analyze(ctx, application, cfg, *analyzePath, *durationSec)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── HTTP server: health, metrics, reports ─────────────────────────────────
	srv := newHTTPServer(cfg, application)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		var err error
		if cfg.Server.TLS != nil {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// analyze runs one WAV file through the pipeline and prints the verdict.
func analyze(ctx context.Context, application *app.App, cfg *config.Config, path string, durationSec float64) int {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("cannot open file", "path", path, "err", err)
		return 1
	}
	buf, err := audio.DecodeWAV(f)
	f.Close()
	if err != nil {
		slog.Error("cannot decode file", "path", path, "err", err)
		return 1
	}
	buf = audio.Resample(buf, cfg.Audio.SampleRate)

	// Site context: the first configured stream's sensors, or zero readings.
	var site config.ContextConfig
	if len(cfg.Streams) > 0 {
		site = cfg.Streams[0].Context
	}
	tc := threshold.ClockContext{
		TemperatureC: site.TemperatureC,
		Vibration:    site.Vibration,
		PowerKW:      site.PowerKW,
	}.ThresholdContext()

	res, err := application.Detector().DetectOnce(ctx, buf, tc, durationSec)
	if err != nil {
		slog.Error("analysis failed", "path", path, "err", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		slog.Error("encode result", "err", err)
		return 1
	}
	return 0
}

// newHTTPServer builds the operational endpoint server: health probes,
// Prometheus metrics, and report exports, all behind the tracing middleware.
func newHTTPServer(cfg *config.Config, application *app.App) *http.Server {
	mux := http.NewServeMux()

	h := health.New(application.Streams().Statuses, application.HealthCheckers()...)
	h.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /reports/", application.ReportHandler())

	wrapped := observe.Middleware(application.Metrics())(mux)
	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           wrapped,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Frigoscope — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printField("Chunk length", fmt.Sprintf("%.1f s", cfg.Audio.ChunkSeconds))
	printField("Streams", fmt.Sprintf("%d", len(cfg.Streams)))
	if len(cfg.Bands) > 0 {
		printField("Bands", fmt.Sprintf("%d (custom)", len(cfg.Bands)))
	} else {
		printField("Bands", "default")
	}
	if cfg.Storage.PostgresURL != "" {
		printField("History", "postgres")
	} else {
		printField("History", "in-memory")
	}
	if cfg.Storage.RedisAddr != "" {
		printField("Report cache", "redis")
	} else {
		printField("Report cache", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
