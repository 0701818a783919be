// Package report assembles exportable diagnostics snapshots from the
// persisted detection history. A report is a point-in-time view: recent
// threshold computations, recent verdicts, and aggregate counts per failure
// type for one stream.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/vantberg/frigoscope/internal/classify"
	"github.com/vantberg/frigoscope/internal/history"
	"github.com/vantberg/frigoscope/internal/threshold"
)

// Version is the report schema version. Bump when the exported shape
// changes incompatibly.
const Version = 1

// DefaultWindow is how many recent rows per table a report includes.
const DefaultWindow = 100

// Summary aggregates the detections included in a report.
type Summary struct {
	// TotalDetections is the number of verdicts in the window.
	TotalDetections int `json:"total_detections"`

	// Anomalies is the number of non-NORMAL verdicts.
	Anomalies int `json:"anomalies"`

	// ByType counts verdicts per failure type, NORMAL included.
	ByType map[classify.FailureType]int `json:"by_type"`

	// MeanThreshold is the average adaptive threshold over the window,
	// zero when no threshold history exists.
	MeanThreshold float64 `json:"mean_threshold"`

	// MeanObservedDB is the average observed level over the window.
	MeanObservedDB float64 `json:"mean_observed_db"`
}

// Report is one exportable snapshot for a stream.
type Report struct {
	Version     int               `json:"report_version"`
	Stream      string            `json:"stream"`
	GeneratedAt time.Time         `json:"generated_at"`
	Summary     Summary           `json:"summary"`
	Thresholds  []threshold.Entry `json:"thresholds"`
	Detections  []classify.Result `json:"detections"`
}

// Builder assembles reports from a history store, optionally caching them.
type Builder struct {
	store  history.Store
	cache  *Cache
	window int
}

// NewBuilder creates a Builder over store. cache may be nil, in which case
// every Build hits the store. A non-positive window falls back to
// [DefaultWindow].
func NewBuilder(store history.Store, cache *Cache, window int) *Builder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Builder{store: store, cache: cache, window: window}
}

// Build assembles a report for stream. A cached report for the current time
// bucket is returned when available; otherwise the store is queried and the
// fresh report is cached.
func (b *Builder) Build(ctx context.Context, stream string) (*Report, error) {
	if b.cache != nil {
		if r, ok := b.cache.Get(ctx, stream); ok {
			return r, nil
		}
	}

	thresholds, err := b.store.RecentThresholds(ctx, stream, b.window)
	if err != nil {
		return nil, fmt.Errorf("report: load thresholds: %w", err)
	}
	detections, err := b.store.RecentDetections(ctx, stream, b.window)
	if err != nil {
		return nil, fmt.Errorf("report: load detections: %w", err)
	}

	r := &Report{
		Version:     Version,
		Stream:      stream,
		GeneratedAt: time.Now().UTC(),
		Summary:     summarize(thresholds, detections),
		Thresholds:  thresholds,
		Detections:  detections,
	}

	if b.cache != nil {
		b.cache.Put(ctx, stream, r)
	}
	return r, nil
}

// summarize computes the aggregate block from the windowed rows.
func summarize(thresholds []threshold.Entry, detections []classify.Result) Summary {
	s := Summary{
		TotalDetections: len(detections),
		ByType:          make(map[classify.FailureType]int),
	}
	for _, d := range detections {
		s.ByType[d.FailureType]++
		if d.IsAnomaly {
			s.Anomalies++
		}
	}
	if len(thresholds) > 0 {
		var sumTh, sumDB float64
		for _, e := range thresholds {
			sumTh += e.Value
			sumDB += e.ObservedDB
		}
		s.MeanThreshold = sumTh / float64(len(thresholds))
		s.MeanObservedDB = sumDB / float64(len(thresholds))
	}
	return s
}
