// Package classify matches extracted feature vectors against a static
// catalog of known failure signatures and produces typed, confidence-scored
// verdicts. The catalog is rule-based by design: verdicts must be
// explainable on-site without a model artefact, and a learned classifier
// can later be slotted in behind the same Classify contract.
package classify

import "fmt"

// FailureType names one diagnosable condition. The NORMAL type is the
// no-match verdict, not a catalog entry.
type FailureType string

const (
	FailureNormal       FailureType = "NORMAL"
	FailureBearing      FailureType = "BEARING_FAILURE"
	FailureCompressor   FailureType = "COMPRESSOR_OVERLOAD"
	FailureImbalance    FailureType = "MOTOR_IMBALANCE"
	FailureRefrigerant  FailureType = "REFRIGERANT_LEAK"
	FailureElectrical   FailureType = "ELECTRICAL_FAULT"
	FailureLooseness    FailureType = "MECHANICAL_LOOSENESS"
	FailureOverloadMisc FailureType = "GENERAL_OVERLOAD"
)

// TemporalTag is an informational label describing how a signature evolves
// over time. It is carried into reports but does not gate matching.
type TemporalTag string

const (
	TagContinuous   TemporalTag = "continuous"
	TagIntermittent TemporalTag = "intermittent"
	TagGrinding     TemporalTag = "grinding"
	TagHum          TemporalTag = "hum"
	TagHiss         TemporalTag = "hiss"
)

// Pattern is one static failure signature. Patterns are loaded once at
// startup and never mutated at runtime.
type Pattern struct {
	// Type is the verdict produced when this pattern matches.
	Type FailureType `yaml:"type"`

	// MinDB and MaxDB bound the decibel-equivalent level.
	MinDB float64 `yaml:"min_db"`
	MaxDB float64 `yaml:"max_db"`

	// MinHz and MaxHz bound the spectral centroid. Both zero means the
	// pattern matches on level and duration alone (and scores only a
	// partial frequency-band factor).
	MinHz float64 `yaml:"min_hz"`
	MaxHz float64 `yaml:"max_hz"`

	// MinDurationSec is the minimum time the condition must have
	// persisted. For chunked streams the controller accumulates duration
	// across consecutive above-threshold chunks.
	MinDurationSec float64 `yaml:"min_duration_sec"`

	// Tag describes the temporal character of the signature.
	Tag TemporalTag `yaml:"tag"`
}

// hasFreqRange reports whether the pattern constrains the centroid.
func (p Pattern) hasFreqRange() bool { return p.MaxHz > 0 }

// Validate rejects patterns with inverted or senseless ranges.
func (p Pattern) Validate() error {
	if p.Type == "" || p.Type == FailureNormal {
		return fmt.Errorf("classify: pattern must name a non-NORMAL failure type")
	}
	if p.MaxDB <= p.MinDB {
		return fmt.Errorf("classify: pattern %s: decibel range %.1f–%.1f is empty", p.Type, p.MinDB, p.MaxDB)
	}
	if p.hasFreqRange() && p.MaxHz <= p.MinHz {
		return fmt.Errorf("classify: pattern %s: frequency range %.0f–%.0f is empty", p.Type, p.MinHz, p.MaxHz)
	}
	if p.MinDurationSec < 0 {
		return fmt.Errorf("classify: pattern %s: negative minimum duration", p.Type)
	}
	return nil
}

// DefaultCatalog returns the stock signature catalog in priority order:
// specific, high-confidence signatures first, the generic level-only
// overload signature last. Catalog order is the tie-break — when two
// patterns both match, the earlier one wins.
func DefaultCatalog() []Pattern {
	return []Pattern{
		{Type: FailureBearing, MinDB: 50, MaxDB: 75, MinHz: 2000, MaxHz: 8000, MinDurationSec: 600, Tag: TagGrinding},
		{Type: FailureCompressor, MinDB: 55, MaxDB: 80, MinHz: 20, MaxHz: 600, MinDurationSec: 120, Tag: TagContinuous},
		{Type: FailureImbalance, MinDB: 52, MaxDB: 72, MinHz: 100, MaxHz: 1000, MinDurationSec: 180, Tag: TagContinuous},
		{Type: FailureRefrigerant, MinDB: 52, MaxDB: 68, MinHz: 1500, MaxHz: 6000, MinDurationSec: 300, Tag: TagHiss},
		{Type: FailureElectrical, MinDB: 50, MaxDB: 70, MinHz: 90, MaxHz: 130, MinDurationSec: 60, Tag: TagHum},
		{Type: FailureLooseness, MinDB: 53, MaxDB: 78, MinHz: 30, MaxHz: 300, MinDurationSec: 90, Tag: TagIntermittent},
		{Type: FailureOverloadMisc, MinDB: 62, MaxDB: 100, MinDurationSec: 60, Tag: TagContinuous},
	}
}
