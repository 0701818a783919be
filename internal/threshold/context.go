// Package threshold computes the adaptive decision boundary: a base value
// adjusted by environmental context (temperature, time of day, season,
// vibration, power draw) and by recent detection history, clamped to a
// configured range. Computation is a pure function of its inputs plus the
// caller-owned history buffer — there is no package-level state.
package threshold

import "time"

// Season is the coarse seasonal context supplied by the caller.
type Season string

const (
	SeasonWinter Season = "winter"
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
)

// IsValid reports whether s is a recognised season.
func (s Season) IsValid() bool {
	switch s {
	case SeasonWinter, SeasonSpring, SeasonSummer, SeasonAutumn:
		return true
	}
	return false
}

// SeasonOf returns the meteorological season for t (northern hemisphere).
// Callers with site-specific knowledge supply the season directly instead.
func SeasonOf(t time.Time) Season {
	switch t.Month() {
	case time.December, time.January, time.February:
		return SeasonWinter
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	default:
		return SeasonAutumn
	}
}

// Context carries the environmental and operational readings used to adapt
// the decision boundary. It is a read-only input; the sensor collaborators
// that produce it are outside this package.
type Context struct {
	// TemperatureC is the ambient temperature in °C.
	TemperatureC float64

	// Hour is the local hour of day, 0–23.
	Hour int

	// Season is the current season; an unrecognised value contributes no
	// adjustment.
	Season Season

	// Vibration is the normalised vibration level from the accelerometer,
	// nominally in [0, 1].
	Vibration float64

	// PowerKW is the unit's current power draw.
	PowerKW float64
}

// ContextProvider supplies the current [Context]. The streaming controller
// polls it once per chunk so the boundary tracks live sensor readings.
type ContextProvider interface {
	ThresholdContext() Context
}

// StaticContext is a [ContextProvider] returning a fixed context. Used for
// one-shot analysis and in tests.
type StaticContext Context

// ThresholdContext returns the wrapped context.
func (s StaticContext) ThresholdContext() Context { return Context(s) }

// ClockContext is a [ContextProvider] for installations with fixed sensor
// readings: hour and season are derived from the clock on every poll, the
// remaining fields are static site configuration.
type ClockContext struct {
	TemperatureC float64
	Vibration    float64
	PowerKW      float64

	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

// ThresholdContext returns the static readings with the current hour and
// season filled in.
func (c ClockContext) ThresholdContext() Context {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	return Context{
		TemperatureC: c.TemperatureC,
		Hour:         now.Hour(),
		Season:       SeasonOf(now),
		Vibration:    c.Vibration,
		PowerKW:      c.PowerKW,
	}
}
