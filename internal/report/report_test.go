package report

import (
	"context"
	"testing"
	"time"

	"github.com/vantberg/frigoscope/internal/classify"
	"github.com/vantberg/frigoscope/internal/history"
	"github.com/vantberg/frigoscope/internal/threshold"
)

func seedStore(t *testing.T) history.Store {
	t.Helper()
	ctx := context.Background()
	s := history.NewMemStore()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		e := threshold.Entry{
			Value:      45 + float64(i),
			ObservedDB: 40 + float64(i),
			ComputedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveThreshold(ctx, "unit-1", e); err != nil {
			t.Fatalf("SaveThreshold: %v", err)
		}
	}

	verdicts := []classify.FailureType{
		classify.FailureNormal,
		classify.FailureNormal,
		classify.FailureBearing,
		classify.FailureElectrical,
	}
	for i, ft := range verdicts {
		r := classify.Result{
			IsAnomaly:   ft != classify.FailureNormal,
			FailureType: ft,
			Confidence:  0.75,
			Timestamp:   now.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveDetection(ctx, "unit-1", r); err != nil {
			t.Fatalf("SaveDetection: %v", err)
		}
	}
	return s
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(seedStore(t), nil, 0)

	r, err := b.Build(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if r.Version != Version {
		t.Errorf("Version = %d, want %d", r.Version, Version)
	}
	if r.Stream != "unit-1" {
		t.Errorf("Stream = %q, want unit-1", r.Stream)
	}
	if len(r.Thresholds) != 4 || len(r.Detections) != 4 {
		t.Fatalf("rows = %d/%d, want 4/4", len(r.Thresholds), len(r.Detections))
	}

	s := r.Summary
	if s.TotalDetections != 4 {
		t.Errorf("TotalDetections = %d, want 4", s.TotalDetections)
	}
	if s.Anomalies != 2 {
		t.Errorf("Anomalies = %d, want 2", s.Anomalies)
	}
	if s.ByType[classify.FailureNormal] != 2 {
		t.Errorf("ByType[NORMAL] = %d, want 2", s.ByType[classify.FailureNormal])
	}
	if s.ByType[classify.FailureBearing] != 1 {
		t.Errorf("ByType[BEARING_FAILURE] = %d, want 1", s.ByType[classify.FailureBearing])
	}
	// Values 45..48 average to 46.5; observed 40..43 average to 41.5.
	if s.MeanThreshold != 46.5 {
		t.Errorf("MeanThreshold = %v, want 46.5", s.MeanThreshold)
	}
	if s.MeanObservedDB != 41.5 {
		t.Errorf("MeanObservedDB = %v, want 41.5", s.MeanObservedDB)
	}
}

func TestBuilder_EmptyStream(t *testing.T) {
	b := NewBuilder(history.NewMemStore(), nil, 10)

	r, err := b.Build(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.Summary.TotalDetections != 0 || r.Summary.Anomalies != 0 {
		t.Errorf("empty stream summary = %+v, want zeros", r.Summary)
	}
	if r.Summary.MeanThreshold != 0 {
		t.Errorf("MeanThreshold = %v, want 0 without history", r.Summary.MeanThreshold)
	}
}

func TestBuilder_WindowLimit(t *testing.T) {
	ctx := context.Background()
	s := history.NewMemStore()
	for i := 0; i < 50; i++ {
		_ = s.SaveDetection(ctx, "unit-1", classify.Result{FailureType: classify.FailureNormal})
	}

	b := NewBuilder(s, nil, 10)
	r, err := b.Build(ctx, "unit-1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(r.Detections) != 10 {
		t.Errorf("len(Detections) = %d, want window 10", len(r.Detections))
	}
}
