package feature

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/vantberg/frigoscope/pkg/audio"
)

const testRate = 16000

func tone(freq, amp float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(testRate))
	}
	return out
}

func noise(sigma float64, n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64() * sigma
	}
	return out
}

func buffer(samples []float64) audio.Buffer {
	return audio.Buffer{Samples: samples, SampleRate: testRate}
}

func TestExtract_Deterministic(t *testing.T) {
	e := &Extractor{}
	buf := buffer(noise(0.2, testRate, 1))

	v1, deg1 := e.Extract(buf)
	v2, deg2 := e.Extract(buf)
	if deg1 || deg2 {
		t.Fatal("extraction degraded on a healthy buffer")
	}
	if v1 != v2 {
		t.Errorf("same input produced different vectors:\n%+v\n%+v", v1, v2)
	}
}

func TestExtract_DegradedInputs(t *testing.T) {
	e := &Extractor{}

	tests := []struct {
		name string
		buf  audio.Buffer
	}{
		{"empty", buffer(nil)},
		{"all zero", buffer(make([]float64, 1024))},
		{"contains NaN", buffer([]float64{0.1, math.NaN(), 0.2})},
		{"contains Inf", buffer([]float64{0.1, math.Inf(1), 0.2})},
		{"zero sample rate", audio.Buffer{Samples: tone(440, 1, 1024), SampleRate: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reported string
			e.OnDegraded = func(band string) { reported = band }

			v, degraded := e.Extract(tt.buf)
			if !degraded {
				t.Fatal("degraded = false, want true")
			}
			if !v.IsZero() {
				t.Errorf("degraded extraction returned non-zero vector: %+v", v)
			}
			if reported != "broadband" {
				t.Errorf("OnDegraded band = %q, want broadband", reported)
			}
		})
	}
}

func TestExtract_PureToneCentroid(t *testing.T) {
	e := &Extractor{}
	v, degraded := e.Extract(buffer(tone(3000, 0.8, testRate)))
	if degraded {
		t.Fatal("unexpected degradation")
	}
	if v.SpectralCentroid < 2700 || v.SpectralCentroid > 3300 {
		t.Errorf("centroid of 3 kHz tone = %.0f Hz, want near 3000", v.SpectralCentroid)
	}
	if v.SpectralFlatness > 0.3 {
		t.Errorf("flatness of a pure tone = %.3f, want tonal (small)", v.SpectralFlatness)
	}
	if v.Periodicity < 0.8 {
		t.Errorf("periodicity of a pure tone = %.3f, want near 1", v.Periodicity)
	}
}

func TestExtract_NoiseIsFlat(t *testing.T) {
	e := &Extractor{}
	v, degraded := e.Extract(buffer(noise(0.2, 2*testRate, 1)))
	if degraded {
		t.Fatal("unexpected degradation")
	}
	if v.SpectralFlatness < 0.3 {
		t.Errorf("flatness of white noise = %.3f, want noisy (closer to 1)", v.SpectralFlatness)
	}
	if v.ZeroCrossingRate < 0.3 {
		t.Errorf("zero crossing rate of white noise = %.3f, want high", v.ZeroCrossingRate)
	}
}

func TestDecibelLevel(t *testing.T) {
	tests := []struct {
		rms  float64
		want float64
	}{
		{0, 0},
		{-0.1, 0},
		{refRMS, 0},
		{refRMS / 2, 0}, // below reference: floor clamped
		{8e-3, 20},
		{8e-2, 40},
	}
	for _, tt := range tests {
		got := DecibelLevel(tt.rms)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("DecibelLevel(%g) = %.6f, want %.6f", tt.rms, got, tt.want)
		}
	}
}

func TestDecibelLevel_HealthyRange(t *testing.T) {
	// Typical healthy compressor amplitudes map into the 40–50 zone.
	for _, rms := range []float64{0.1, 0.2, 0.3} {
		db := DecibelLevel(rms)
		if db < 40 || db > 52 {
			t.Errorf("DecibelLevel(%.1f) = %.2f, want within the healthy 40–52 zone", rms, db)
		}
	}
}

func TestSanitize(t *testing.T) {
	v := Vector{RMSEnergy: 0.5, Kurtosis: math.NaN(), SpectralCentroid: math.Inf(1)}
	if !v.Sanitize() {
		t.Fatal("Sanitize() = false, want true for a dirty vector")
	}
	if v.Kurtosis != 0 || v.SpectralCentroid != 0 {
		t.Errorf("non-finite fields not zeroed: %+v", v)
	}
	if v.RMSEnergy != 0.5 {
		t.Errorf("finite field was modified: RMSEnergy = %g", v.RMSEnergy)
	}

	clean := Vector{RMSEnergy: 0.5}
	if clean.Sanitize() {
		t.Error("Sanitize() = true for a clean vector")
	}
}

func TestExtract_ModulatedCycle(t *testing.T) {
	// A 440 Hz carrier pulsed at 2 Hz with a smooth burst envelope gives one
	// envelope peak every 0.5 s.
	n := 4 * testRate
	samples := make([]float64, n)
	for i := range samples {
		tSec := float64(i) / float64(testRate)
		burst := math.Sin(2 * math.Pi * 2 * tSec)
		if burst < 0 {
			burst = 0
		}
		burst = burst * burst * burst * burst
		samples[i] = burst * 0.8 * math.Sin(2*math.Pi*440*tSec)
	}

	e := &Extractor{}
	v, degraded := e.Extract(buffer(samples))
	if degraded {
		t.Fatal("unexpected degradation")
	}
	if v.CyclePeriod < 0.35 || v.CyclePeriod > 0.65 {
		t.Errorf("cycle period = %.3f s, want near 0.5", v.CyclePeriod)
	}
	if v.CycleFrequency < 1.5 || v.CycleFrequency > 2.9 {
		t.Errorf("cycle frequency = %.2f Hz, want near 2", v.CycleFrequency)
	}
	if v.CycleStability < 0.5 {
		t.Errorf("cycle stability = %.3f, want regular (high)", v.CycleStability)
	}
}

func TestExtractBatch(t *testing.T) {
	e := &Extractor{MaxParallel: 2}
	broadband := buffer(tone(3000, 0.8, testRate))

	// A band holding the full signal and a band holding a small slice of it.
	full := buffer(tone(3000, 0.8, testRate))
	weak := buffer(tone(3000, 0.08, testRate))

	batch := e.ExtractBatch(context.Background(), broadband, map[string]audio.Buffer{
		"bearing":    full,
		"compressor": weak,
	})
	if batch.Degraded {
		t.Fatal("batch degraded on healthy inputs")
	}
	if batch.Broadband.EnergyRatio != 1 {
		t.Errorf("broadband EnergyRatio = %g, want 1", batch.Broadband.EnergyRatio)
	}
	if len(batch.Bands) != 2 {
		t.Fatalf("bands = %d, want 2", len(batch.Bands))
	}
	if r := batch.Bands["bearing"].EnergyRatio; r < 0.95 || r > 1 {
		t.Errorf("full-band EnergyRatio = %.3f, want near 1", r)
	}
	if r := batch.Bands["compressor"].EnergyRatio; math.Abs(r-0.01) > 0.005 {
		t.Errorf("weak-band EnergyRatio = %.4f, want near 0.01 (amplitude ratio squared)", r)
	}
}

func TestExtractBatch_DegradedBand(t *testing.T) {
	e := &Extractor{}
	var degradedBands []string
	e.OnDegraded = func(band string) { degradedBands = append(degradedBands, band) }

	batch := e.ExtractBatch(context.Background(), buffer(noise(0.2, testRate, 1)), map[string]audio.Buffer{
		"bearing": buffer(nil),
	})
	if !batch.Degraded {
		t.Fatal("Degraded = false, want true when a band fails")
	}
	if !batch.Bands["bearing"].IsZero() {
		t.Error("failed band should carry the zero vector")
	}
	if batch.Broadband.IsZero() {
		t.Error("broadband vector should survive a band failure")
	}
	if len(degradedBands) != 1 || degradedBands[0] != "bearing" {
		t.Errorf("OnDegraded calls = %v, want [bearing]", degradedBands)
	}
}
