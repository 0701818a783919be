package filter

import (
	"fmt"
	"sync"

	"github.com/vantberg/frigoscope/pkg/audio"
)

// DefaultSpecs returns the stock band catalog for refrigeration units:
// the compressor fundamental and harmonics, the bearing wear band, and the
// refrigerant flow band. Deployments override these via configuration.
func DefaultSpecs() []Spec {
	return []Spec{
		{Band: "compressor", LowHz: 20, HighHz: 600},
		{Band: "bearing", LowHz: 2000, HighHz: 7800},
		{Band: "refrigerant", LowHz: 200, HighHz: 2000},
	}
}

// Bank caches designed filter coefficients keyed by band name and sample
// rate. Coefficients are designed once on first use and shared read-only
// afterwards, so a single Bank may serve any number of concurrent streams.
// Construct one Bank at startup and pass it by reference — there is no
// package-level instance.
type Bank struct {
	specs map[string]Spec

	mu    sync.RWMutex
	cache map[bankKey]*Coefficients
}

type bankKey struct {
	band string
	rate int
}

// NewBank creates a Bank over the given specs. Duplicate band names are
// rejected so a lookup is always unambiguous.
func NewBank(specs []Spec) (*Bank, error) {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		if s.Band == "" {
			return nil, fmt.Errorf("filter: band spec with empty name")
		}
		if _, dup := m[s.Band]; dup {
			return nil, fmt.Errorf("filter: duplicate band %q", s.Band)
		}
		m[s.Band] = s
	}
	return &Bank{specs: m, cache: make(map[bankKey]*Coefficients)}, nil
}

// Bands returns the configured band names in unspecified order.
func (b *Bank) Bands() []string {
	out := make([]string, 0, len(b.specs))
	for name := range b.specs {
		out = append(out, name)
	}
	return out
}

// Spec returns the spec for band and whether it exists.
func (b *Bank) Spec(band string) (Spec, bool) {
	s, ok := b.specs[band]
	return s, ok
}

// Validate checks every configured band against sampleRate. Stream open
// calls this once so that Apply never fails mid-stream on a range error.
func (b *Bank) Validate(sampleRate int) error {
	for _, s := range b.specs {
		if err := s.Validate(sampleRate); err != nil {
			return err
		}
	}
	return nil
}

// Apply filters buf through the named band, designing and caching the
// coefficients on first use for the buffer's sample rate.
func (b *Bank) Apply(buf audio.Buffer, band string) (audio.Buffer, error) {
	spec, ok := b.specs[band]
	if !ok {
		return audio.Buffer{}, fmt.Errorf("filter: unknown band %q", band)
	}

	coeffs, err := b.coefficients(spec, buf.SampleRate)
	if err != nil {
		return audio.Buffer{}, err
	}

	return audio.Buffer{
		Samples:    coeffs.Apply(buf.Samples),
		SampleRate: buf.SampleRate,
	}, nil
}

// coefficients returns the cached design for (spec, rate), designing it
// under the write lock on first use.
func (b *Bank) coefficients(spec Spec, rate int) (*Coefficients, error) {
	key := bankKey{band: spec.Band, rate: rate}

	b.mu.RLock()
	c, ok := b.cache[key]
	b.mu.RUnlock()
	if ok {
		return c, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.cache[key]; ok {
		return c, nil
	}
	c, err := Design(spec, rate)
	if err != nil {
		return nil, err
	}
	b.cache[key] = c
	return c, nil
}
