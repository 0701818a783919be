// Package filter implements the cached band-pass filter bank that isolates
// the frequency sub-bands of interest (compressor, bearing, refrigerant)
// ahead of feature extraction.
//
// Filters are designed as a cascade of identical second-order band-pass
// sections (audio-EQ-cookbook topology) and applied forward-backward so the
// net result is zero-phase — periodicity analysis downstream depends on the
// filter not smearing the signal in time.
package filter

import (
	"fmt"
	"math"
)

// DefaultOrder is the filter order used when a [Spec] leaves Order zero.
// Order 4 means two cascaded biquad sections.
const DefaultOrder = 4

// Spec describes one band-pass filter. Specs are immutable; the process
// builds a small fixed set at startup and caches the designed coefficients
// per (band, sample rate) in a [Bank].
type Spec struct {
	// Band is the cache key and log label (e.g. "bearing").
	Band string `yaml:"name"`

	// LowHz and HighHz are the passband edges.
	LowHz  float64 `yaml:"low_hz"`
	HighHz float64 `yaml:"high_hz"`

	// Order of the filter; must be even. Zero means [DefaultOrder].
	Order int `yaml:"order"`
}

// InvalidRangeError reports a filter spec that cannot be realised at the
// given sample rate. It is a caller configuration error: fatal to the call
// that triggered it, never to the surrounding stream.
type InvalidRangeError struct {
	Spec       Spec
	SampleRate int
	Reason     string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("filter: band %q (%.0f–%.0f Hz) at %d Hz: %s",
		e.Spec.Band, e.Spec.LowHz, e.Spec.HighHz, e.SampleRate, e.Reason)
}

// Validate checks that the spec can be realised at sampleRate. Callers open
// streams only after validating every configured band against the canonical
// rate, so [InvalidRangeError] at apply time indicates a programming error.
func (s Spec) Validate(sampleRate int) error {
	if sampleRate <= 0 {
		return &InvalidRangeError{Spec: s, SampleRate: sampleRate, Reason: "sample rate must be positive"}
	}
	if s.LowHz <= 0 || s.HighHz <= s.LowHz {
		return &InvalidRangeError{Spec: s, SampleRate: sampleRate, Reason: "cutoffs must satisfy 0 < low < high"}
	}
	nyquist := float64(sampleRate) / 2
	if s.HighHz >= nyquist {
		return &InvalidRangeError{Spec: s, SampleRate: sampleRate,
			Reason: fmt.Sprintf("high cutoff %.0f Hz is at or above Nyquist %.0f Hz", s.HighHz, nyquist)}
	}
	order := s.Order
	if order == 0 {
		order = DefaultOrder
	}
	if order < 2 || order%2 != 0 {
		return &InvalidRangeError{Spec: s, SampleRate: sampleRate, Reason: "order must be a positive even number"}
	}
	return nil
}

// biquad holds normalised second-order section coefficients (a0 == 1).
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// Coefficients is one designed filter: an immutable cascade of biquad
// sections. Safe to share read-only across concurrent streams.
type Coefficients struct {
	spec     Spec
	rate     int
	sections []biquad
}

// Spec returns the spec the coefficients were designed from.
func (c *Coefficients) Spec() Spec { return c.spec }

// SampleRate returns the rate the coefficients were designed for.
func (c *Coefficients) SampleRate() int { return c.rate }

// Design computes band-pass coefficients for the spec at sampleRate.
// The passband is realised as Order/2 identical constant-peak-gain
// band-pass biquads centred on the geometric mean of the cutoffs.
func Design(s Spec, sampleRate int) (*Coefficients, error) {
	if err := s.Validate(sampleRate); err != nil {
		return nil, err
	}
	order := s.Order
	if order == 0 {
		order = DefaultOrder
	}

	center := math.Sqrt(s.LowHz * s.HighHz)
	q := center / (s.HighHz - s.LowHz)

	w0 := 2 * math.Pi * center / float64(sampleRate)
	alpha := math.Sin(w0) / (2 * q)
	cosW0 := math.Cos(w0)

	a0 := 1 + alpha
	sec := biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}

	sections := make([]biquad, order/2)
	for i := range sections {
		sections[i] = sec
	}
	return &Coefficients{spec: s, rate: sampleRate, sections: sections}, nil
}

// Apply runs the filter over samples forward and backward (zero phase) and
// returns a new slice; the input is not modified. An empty input returns an
// empty output.
func (c *Coefficients) Apply(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	if len(out) == 0 {
		return out
	}

	for _, sec := range c.sections {
		applyBiquad(sec, out)
	}
	reverse(out)
	for _, sec := range c.sections {
		applyBiquad(sec, out)
	}
	reverse(out)
	return out
}

// applyBiquad filters x in place using direct form II transposed.
func applyBiquad(s biquad, x []float64) {
	var z1, z2 float64
	for i, in := range x {
		out := s.b0*in + z1
		z1 = s.b1*in - s.a1*out + z2
		z2 = s.b2*in - s.a2*out
		x[i] = out
	}
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
