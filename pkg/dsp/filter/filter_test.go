package filter

import (
	"errors"
	"math"
	"testing"

	"github.com/vantberg/frigoscope/pkg/audio"
)

const testRate = 16000

// sine builds a pure tone of the given frequency and amplitude.
func sine(freq, amp float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(testRate))
	}
	return out
}

func rms(x []float64) float64 {
	var sum float64
	for _, s := range x {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(x)))
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		rate    int
		wantErr bool
	}{
		{"valid", Spec{Band: "bearing", LowHz: 2000, HighHz: 7800}, testRate, false},
		{"zero rate", Spec{Band: "bearing", LowHz: 2000, HighHz: 7800}, 0, true},
		{"negative rate", Spec{Band: "bearing", LowHz: 2000, HighHz: 7800}, -1, true},
		{"zero low cutoff", Spec{Band: "b", LowHz: 0, HighHz: 100}, testRate, true},
		{"inverted cutoffs", Spec{Band: "b", LowHz: 500, HighHz: 100}, testRate, true},
		{"equal cutoffs", Spec{Band: "b", LowHz: 500, HighHz: 500}, testRate, true},
		{"high at nyquist", Spec{Band: "b", LowHz: 100, HighHz: 8000}, testRate, true},
		{"odd order", Spec{Band: "b", LowHz: 100, HighHz: 500, Order: 3}, testRate, true},
		{"explicit even order", Spec{Band: "b", LowHz: 100, HighHz: 500, Order: 6}, testRate, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate(tt.rate)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var rangeErr *InvalidRangeError
				if !errors.As(err, &rangeErr) {
					t.Errorf("error type = %T, want *InvalidRangeError", err)
				}
			}
		})
	}
}

func TestDesign_DefaultOrder(t *testing.T) {
	c, err := Design(Spec{Band: "compressor", LowHz: 20, HighHz: 600}, testRate)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	if got := len(c.sections); got != DefaultOrder/2 {
		t.Errorf("sections = %d, want %d for default order", got, DefaultOrder/2)
	}
	if c.SampleRate() != testRate {
		t.Errorf("SampleRate() = %d, want %d", c.SampleRate(), testRate)
	}
	if c.Spec().Band != "compressor" {
		t.Errorf("Spec().Band = %q, want compressor", c.Spec().Band)
	}
}

func TestApply_PassbandVsStopband(t *testing.T) {
	c, err := Design(Spec{Band: "bearing", LowHz: 2000, HighHz: 7800}, testRate)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}

	inBand := sine(3000, 1.0, testRate)
	outBand := sine(100, 1.0, testRate)

	passRMS := rms(c.Apply(inBand))
	stopRMS := rms(c.Apply(outBand))

	if passRMS < 0.3 {
		t.Errorf("in-band tone RMS after filtering = %.3f, want most energy retained", passRMS)
	}
	if stopRMS > passRMS/10 {
		t.Errorf("out-of-band RMS %.4f vs in-band %.4f: expected at least 20 dB separation", stopRMS, passRMS)
	}
}

func TestApply_DoesNotModifyInput(t *testing.T) {
	c, err := Design(Spec{Band: "refrigerant", LowHz: 200, HighHz: 2000}, testRate)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	in := sine(500, 1.0, 1024)
	snapshot := make([]float64, len(in))
	copy(snapshot, in)

	_ = c.Apply(in)

	for i := range in {
		if in[i] != snapshot[i] {
			t.Fatalf("input modified at sample %d", i)
		}
	}
}

func TestApply_Empty(t *testing.T) {
	c, err := Design(Spec{Band: "b", LowHz: 100, HighHz: 500}, testRate)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	if got := c.Apply(nil); len(got) != 0 {
		t.Errorf("Apply(nil) = %d samples, want 0", len(got))
	}
}

func TestNewBank_RejectsDuplicates(t *testing.T) {
	_, err := NewBank([]Spec{
		{Band: "bearing", LowHz: 2000, HighHz: 7800},
		{Band: "bearing", LowHz: 100, HighHz: 500},
	})
	if err == nil {
		t.Fatal("expected error for duplicate band name")
	}
}

func TestNewBank_RejectsEmptyName(t *testing.T) {
	if _, err := NewBank([]Spec{{LowHz: 100, HighHz: 500}}); err == nil {
		t.Fatal("expected error for empty band name")
	}
}

func TestBank_Validate(t *testing.T) {
	b, err := NewBank(DefaultSpecs())
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	if err := b.Validate(testRate); err != nil {
		t.Errorf("Validate(%d): %v", testRate, err)
	}
	// The bearing band tops out at 7800 Hz, unrealisable at 8 kHz.
	if err := b.Validate(8000); err == nil {
		t.Error("Validate(8000) = nil, want range error for the bearing band")
	}
}

func TestBank_Apply(t *testing.T) {
	b, err := NewBank(DefaultSpecs())
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	buf := audio.Buffer{Samples: sine(3000, 1.0, testRate), SampleRate: testRate}

	out, err := b.Apply(buf, "bearing")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.SampleRate != testRate {
		t.Errorf("output rate = %d, want %d", out.SampleRate, testRate)
	}
	if len(out.Samples) != len(buf.Samples) {
		t.Errorf("output length = %d, want %d", len(out.Samples), len(buf.Samples))
	}

	if _, err := b.Apply(buf, "no-such-band"); err == nil {
		t.Error("Apply with unknown band: expected error")
	}
}

func TestBank_CachesCoefficients(t *testing.T) {
	b, err := NewBank(DefaultSpecs())
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	spec, _ := b.Spec("bearing")

	c1, err := b.coefficients(spec, testRate)
	if err != nil {
		t.Fatalf("coefficients: %v", err)
	}
	c2, err := b.coefficients(spec, testRate)
	if err != nil {
		t.Fatalf("coefficients: %v", err)
	}
	if c1 != c2 {
		t.Error("second lookup returned a fresh design, want the cached one")
	}

	c3, err := b.coefficients(spec, 32000)
	if err != nil {
		t.Fatalf("coefficients at 32 kHz: %v", err)
	}
	if c3 == c1 {
		t.Error("different sample rate must design fresh coefficients")
	}
}

func TestBank_Bands(t *testing.T) {
	b, err := NewBank(DefaultSpecs())
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	names := b.Bands()
	if len(names) != 3 {
		t.Fatalf("Bands() = %d names, want 3", len(names))
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, want := range []string{"compressor", "bearing", "refrigerant"} {
		if !seen[want] {
			t.Errorf("Bands() missing %q", want)
		}
	}
}
