// Package detector is the composition facade over the detection pipeline.
// It assembles the filter bank, feature extractor, adaptive threshold
// calculator, and classifier from configuration, and exposes the three
// entry points the rest of the system uses: one-shot analysis of a buffer,
// opening a continuous stream, and exporting a diagnostics report.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vantberg/frigoscope/internal/classify"
	"github.com/vantberg/frigoscope/internal/history"
	"github.com/vantberg/frigoscope/internal/observe"
	"github.com/vantberg/frigoscope/internal/report"
	"github.com/vantberg/frigoscope/internal/stream"
	"github.com/vantberg/frigoscope/internal/threshold"
	"github.com/vantberg/frigoscope/pkg/audio"
	"github.com/vantberg/frigoscope/pkg/dsp/feature"
	"github.com/vantberg/frigoscope/pkg/dsp/filter"
)

// seedLimit is how many persisted threshold entries are replayed into a new
// stream's in-memory history, enough to re-arm the learning adjustment
// immediately after a restart.
const seedLimit = 24

// Config assembles a [Detector]. Zero-valued fields take the defaults of
// their respective packages.
type Config struct {
	// SampleRate is the processing rate all sources are normalised to.
	SampleRate int

	// ChunkDuration is the analysis window per chunk.
	ChunkDuration time.Duration

	// Bands overrides the default filter bank specs.
	Bands []filter.Spec

	// Threshold tunes the adaptive calculator.
	Threshold threshold.Config

	// Patterns overrides the default signature catalog.
	Patterns []classify.Pattern

	// MaxBandParallel caps per-chunk band extraction parallelism.
	MaxBandParallel int

	// Store persists thresholds and detections. Nil disables persistence.
	Store history.Store

	// ReportCache caches rendered reports. Nil means reports are rebuilt
	// on every export.
	ReportCache *report.Cache

	// Metrics instruments the pipeline. Nil disables instrumentation.
	Metrics *observe.Metrics
}

// Detector wires the processing stages together. It is safe for concurrent
// use: every stage is immutable or internally synchronised, and per-stream
// state lives in the controllers it hands out.
type Detector struct {
	pipeline      *stream.Pipeline
	store         history.Store
	reports       *report.Builder
	sampleRate    int
	chunkDuration time.Duration
}

// New builds a Detector from cfg. Band specs are validated against the
// configured sample rate up front, so streams never start on an unrealisable
// filter bank.
func New(cfg Config) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("detector: sample rate %d must be positive", cfg.SampleRate)
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = time.Second
	}

	specs := cfg.Bands
	if len(specs) == 0 {
		specs = filter.DefaultSpecs()
	}
	bank, err := filter.NewBank(specs)
	if err != nil {
		return nil, err
	}
	if err := bank.Validate(cfg.SampleRate); err != nil {
		return nil, err
	}

	classifier, err := classify.NewClassifier(cfg.Patterns)
	if err != nil {
		return nil, err
	}

	extractor := &feature.Extractor{MaxParallel: cfg.MaxBandParallel}
	if cfg.Metrics != nil {
		m := cfg.Metrics
		extractor.OnDegraded = func(band string) { m.DegradedExtraction(band) }
	}

	calculator := threshold.NewCalculator(cfg.Threshold)
	if cfg.Metrics != nil {
		m := cfg.Metrics
		calculator.OnClamp = func() { m.ThresholdClamped() }
	}

	var reports *report.Builder
	if cfg.Store != nil {
		reports = report.NewBuilder(cfg.Store, cfg.ReportCache, 0)
	}

	return &Detector{
		pipeline: &stream.Pipeline{
			Bank:       bank,
			Extractor:  extractor,
			Calculator: calculator,
			Classifier: classifier,
			Metrics:    cfg.Metrics,
		},
		store:         cfg.Store,
		reports:       reports,
		sampleRate:    cfg.SampleRate,
		chunkDuration: cfg.ChunkDuration,
	}, nil
}

// SampleRate returns the processing rate the detector was built for.
func (d *Detector) SampleRate() int { return d.sampleRate }

// ChunkDuration returns the analysis window length.
func (d *Detector) ChunkDuration() time.Duration { return d.chunkDuration }

// DetectOnce analyses a single buffer under the given context.
// durationSec, when positive, asserts how long the recorded condition had
// been ongoing; zero means only the buffer's own length counts towards
// pattern duration minimums.
func (d *Detector) DetectOnce(ctx context.Context, buf audio.Buffer, tc threshold.Context, durationSec float64) (classify.Result, error) {
	ctrl := stream.NewController(d.pipeline, nil, stream.Options{
		Provider:            threshold.StaticContext(tc),
		DurationOverrideSec: durationSec,
	})
	return ctrl.Process(ctx, buf)
}

// Stream is one opened continuous stream. Run drives it; Controller exposes
// state and cooperative stop.
type Stream struct {
	name  string
	ctrl  *stream.Controller
	store history.Store
}

// Name returns the stream identifier.
func (s *Stream) Name() string { return s.name }

// Controller returns the underlying stream controller.
func (s *Stream) Controller() *stream.Controller { return s.ctrl }

// Run executes the stream's continuous loop until the source ends, ctx is
// cancelled, or the controller is stopped.
func (s *Stream) Run(ctx context.Context) error {
	return s.ctrl.Run(ctx)
}

// OpenStream prepares a continuous run over src. The stream's threshold
// history is seeded from the persistent store (when configured) so the
// learning adjustment survives restarts, and every result is persisted
// before being handed to sink.
func (d *Detector) OpenStream(ctx context.Context, name string, src audio.ChunkSource, provider threshold.ContextProvider, sink stream.Sink) (*Stream, error) {
	if name == "" {
		return nil, fmt.Errorf("detector: stream name is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("detector: stream %q: context provider is required", name)
	}

	hist := threshold.NewHistory(0)
	if d.store != nil {
		entries, err := d.store.RecentThresholds(ctx, name, seedLimit)
		if err != nil {
			slog.Warn("threshold history seed failed, starting cold",
				"stream", name, "err", err)
		} else {
			// The store returns newest first; replay oldest first so the
			// ring ends up in chronological order.
			for i := len(entries) - 1; i >= 0; i-- {
				hist.Append(entries[i])
			}
		}
	}

	ctrl := stream.NewController(d.pipeline, src, stream.Options{
		Stream:   name,
		Provider: provider,
		Sink:     d.persistingSink(name, sink),
		History:  hist,
	})
	return &Stream{name: name, ctrl: ctrl, store: d.store}, nil
}

// persistingSink wraps next so every result (and its threshold entry) lands
// in the store before delivery. Persistence failures are absorbed by the
// store's own fallback layers and never interrupt the stream.
func (d *Detector) persistingSink(name string, next stream.Sink) stream.Sink {
	if d.store == nil {
		return next
	}
	return func(res classify.Result) {
		ctx := context.Background()
		if err := d.store.SaveDetection(ctx, name, res); err != nil {
			slog.Warn("detection persist failed", "stream", name, "err", err)
		}
		entry := threshold.Entry{
			Value:      res.Threshold.Value,
			Breakdown:  res.Threshold.Breakdown,
			ObservedDB: res.Features.DecibelLevel,
			ComputedAt: res.Timestamp,
		}
		if err := d.store.SaveThreshold(ctx, name, entry); err != nil {
			slog.Warn("threshold persist failed", "stream", name, "err", err)
		}
		if next != nil {
			next(res)
		}
	}
}

// ExportReport assembles the current diagnostics report for stream. It
// requires a configured store.
func (d *Detector) ExportReport(ctx context.Context, stream string) (*report.Report, error) {
	if d.reports == nil {
		return nil, fmt.Errorf("detector: report export requires a history store")
	}
	return d.reports.Build(ctx, stream)
}
