package classify

import (
	"fmt"
	"time"

	"github.com/vantberg/frigoscope/internal/threshold"
	"github.com/vantberg/frigoscope/pkg/dsp/feature"
)

// Confidence weights and normalisation spans. The decibel margin saturates
// over a 20-unit span above the threshold; the duration margin saturates at
// twice the pattern's minimum duration.
const (
	weightDecibel   = 0.4
	weightDuration  = 0.3
	weightFrequency = 0.3

	decibelSpan = 20.0

	// partialBandFactor is the frequency factor for patterns that declare
	// no frequency range and therefore matched on level and duration only.
	partialBandFactor = 0.5
)

// Result is the verdict for one analysed segment. It carries enough context
// (threshold breakdown, feature snapshot) that an operator can audit why
// the verdict was reached, including in degraded-feature cases.
type Result struct {
	// IsAnomaly reports whether any catalog pattern matched.
	IsAnomaly bool `json:"is_anomaly"`

	// FailureType is the matched pattern's type, or NORMAL.
	FailureType FailureType `json:"failure_type"`

	// Confidence is in [0, 1]. For a match it blends decibel margin,
	// duration margin, and frequency-band agreement; for NORMAL it
	// reflects the distance below the threshold.
	Confidence float64 `json:"confidence"`

	// Threshold is the adaptive boundary used, with its full breakdown.
	Threshold threshold.Threshold `json:"threshold_used"`

	// Features is the broadband feature snapshot the verdict was based on.
	Features feature.Vector `json:"feature_snapshot"`

	// DurationSec is the accumulated condition duration evaluated against
	// pattern minimums.
	DurationSec float64 `json:"duration_sec"`

	// Degraded marks verdicts computed from the default zero vector after
	// a feature extraction failure.
	Degraded bool `json:"degraded,omitempty"`

	// Stream identifies the originating stream in multi-device setups.
	Stream string `json:"stream,omitempty"`

	// Timestamp is when the verdict was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Classifier evaluates feature vectors against its pattern catalog. It is
// immutable after construction and safe for concurrent use across streams.
type Classifier struct {
	catalog []Pattern
}

// NewClassifier builds a Classifier over the given catalog, preserving
// order. An empty catalog falls back to [DefaultCatalog].
func NewClassifier(catalog []Pattern) (*Classifier, error) {
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	seen := make(map[FailureType]bool, len(catalog))
	for _, p := range catalog {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Type] {
			return nil, fmt.Errorf("classify: duplicate pattern type %s", p.Type)
		}
		seen[p.Type] = true
	}
	cp := make([]Pattern, len(catalog))
	copy(cp, catalog)
	return &Classifier{catalog: cp}, nil
}

// Catalog returns the patterns in priority order. The returned slice is a
// copy; the catalog itself is never mutated.
func (c *Classifier) Catalog() []Pattern {
	cp := make([]Pattern, len(c.catalog))
	copy(cp, c.catalog)
	return cp
}

// Classify evaluates features against the catalog in priority order.
// A pattern matches when the decibel level is inside its range, the
// spectral centroid is inside its frequency range (when declared), and the
// accumulated duration reaches its minimum. The first match wins; no match
// yields a NORMAL verdict whose confidence grows with the distance below
// the threshold.
func (c *Classifier) Classify(features feature.Vector, th threshold.Threshold, durationSec float64) Result {
	res := Result{
		FailureType: FailureNormal,
		Threshold:   th,
		Features:    features,
		DurationSec: durationSec,
		Degraded:    features.IsZero(),
		Timestamp:   time.Now().UTC(),
	}

	db := features.DecibelLevel
	for _, p := range c.catalog {
		if db < p.MinDB || db > p.MaxDB {
			continue
		}
		if p.hasFreqRange() && (features.SpectralCentroid < p.MinHz || features.SpectralCentroid > p.MaxHz) {
			continue
		}
		if durationSec < p.MinDurationSec {
			continue
		}

		res.IsAnomaly = true
		res.FailureType = p.Type
		res.Confidence = matchConfidence(p, db, th.Value, durationSec)
		return res
	}

	res.Confidence = clamp01((th.Value - db) / decibelSpan)
	return res
}

// matchConfidence blends the three margin factors for a matched pattern.
func matchConfidence(p Pattern, db, thresholdValue, durationSec float64) float64 {
	dbFactor := clamp01((db - thresholdValue) / decibelSpan)

	durFactor := 1.0
	if p.MinDurationSec > 0 {
		durFactor = clamp01(durationSec / (2 * p.MinDurationSec))
	}

	freqFactor := partialBandFactor
	if p.hasFreqRange() {
		freqFactor = 1.0
	}

	return clamp01(weightDecibel*dbFactor + weightDuration*durFactor + weightFrequency*freqFactor)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
