package threshold

import (
	"log/slog"
	"time"
)

// Defaults for the calculator. All are overridable via [Config].
const (
	DefaultBase = 45.0
	DefaultMin  = 30.0
	DefaultMax  = 70.0

	// learningWindow is how many recent entries feed the learning
	// adjustment; learningMinEntries is the minimum required before the
	// adjustment contributes at all.
	learningWindow     = 24
	learningMinEntries = 10
)

// Breakdown itemises the additive adjustments behind one threshold value.
// Exposed in every detection result so an operator can audit why the
// boundary sat where it did.
type Breakdown struct {
	Base        float64 `json:"base"`
	Temperature float64 `json:"temperature"`
	TimeOfDay   float64 `json:"time_of_day"`
	Season      float64 `json:"season"`
	Vibration   float64 `json:"vibration"`
	Power       float64 `json:"power"`
	Learning    float64 `json:"learning"`

	// Clamped is set when the summed value fell outside [min, max] and
	// was pulled back in.
	Clamped bool `json:"clamped,omitempty"`
}

// Sum returns base plus all adjustments, before clamping.
func (b Breakdown) Sum() float64 {
	return b.Base + b.Temperature + b.TimeOfDay + b.Season + b.Vibration + b.Power + b.Learning
}

// Threshold is one computed decision boundary.
type Threshold struct {
	// Value is the final boundary on the decibel-equivalent scale,
	// always within the calculator's [min, max].
	Value float64 `json:"value"`

	// Breakdown is the per-factor audit trail.
	Breakdown Breakdown `json:"breakdown"`
}

// Config tunes a [Calculator]. Zero fields take the package defaults.
type Config struct {
	// Base is the starting value before adjustments.
	Base float64 `yaml:"base"`

	// Min and Max clamp the final value.
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Calculator computes adaptive thresholds. It is immutable after
// construction and safe for concurrent use; per-stream state lives in the
// [History] the caller passes to Compute.
type Calculator struct {
	base, min, max float64

	// OnClamp, when non-nil, is invoked whenever a computed value had to
	// be clamped. Wired to the observability layer by the application.
	OnClamp func()
}

// NewCalculator builds a Calculator from cfg, substituting defaults for
// zero fields.
func NewCalculator(cfg Config) *Calculator {
	c := &Calculator{base: cfg.Base, min: cfg.Min, max: cfg.Max}
	if c.base == 0 {
		c.base = DefaultBase
	}
	if c.min == 0 {
		c.min = DefaultMin
	}
	if c.max == 0 {
		c.max = DefaultMax
	}
	return c
}

// Bounds returns the configured [min, max] clamp range.
func (c *Calculator) Bounds() (min, max float64) { return c.min, c.max }

// Compute derives the current threshold from ctx and the stream's history.
// The result is appended to hist (when non-nil) with its full breakdown.
// Compute has no side effects beyond that append.
func (c *Calculator) Compute(ctx Context, hist *History) Threshold {
	b := Breakdown{
		Base:        c.base,
		Temperature: temperatureAdjustment(ctx.TemperatureC),
		TimeOfDay:   timeOfDayAdjustment(ctx.Hour),
		Season:      seasonAdjustment(ctx.Season),
		Vibration:   vibrationAdjustment(ctx.Vibration),
		Power:       powerAdjustment(ctx.PowerKW),
		Learning:    learningAdjustment(hist),
	}

	value := b.Sum()
	if value < c.min || value > c.max {
		b.Clamped = true
		clamped := value
		if clamped < c.min {
			clamped = c.min
		}
		if clamped > c.max {
			clamped = c.max
		}
		slog.Debug("adaptive threshold clamped",
			"raw", value, "clamped", clamped, "min", c.min, "max", c.max)
		if c.OnClamp != nil {
			c.OnClamp()
		}
		value = clamped
	}

	return Threshold{Value: value, Breakdown: b}
}

// Record appends the applied threshold together with the observed decibel
// level so future learning adjustments can see what the unit actually
// sounded like under this boundary.
func (c *Calculator) Record(hist *History, t Threshold, observedDB float64, now time.Time) {
	if hist == nil {
		return
	}
	hist.Append(Entry{
		Value:      t.Value,
		Breakdown:  t.Breakdown,
		ObservedDB: observedDB,
		ComputedAt: now,
	})
}

// temperatureAdjustment is a piecewise step over ambient °C: cold ambients
// make the unit quieter (lower the boundary), hot ambients louder.
func temperatureAdjustment(tempC float64) float64 {
	switch {
	case tempC < 0:
		return -5
	case tempC < 10:
		return -2
	case tempC <= 25:
		return 0
	case tempC <= 30:
		return 2
	default:
		return 5
	}
}

// timeOfDayAdjustment lowers the boundary during the quiet night window and
// raises it through the morning compressor peak.
func timeOfDayAdjustment(hour int) float64 {
	switch {
	case hour >= 22 || hour < 6:
		return -2
	case hour >= 7 && hour <= 9:
		return 1
	case hour >= 18 && hour < 22:
		return 0.5
	default:
		return 0
	}
}

func seasonAdjustment(s Season) float64 {
	switch s {
	case SeasonWinter:
		return -3
	case SeasonSummer:
		return 2
	default:
		return 0
	}
}

// vibrationAdjustment raises the boundary when the mount is already
// shaking: acoustic level rises with vibration even on a healthy unit.
// The steps are monotonic in the vibration level by construction.
func vibrationAdjustment(level float64) float64 {
	switch {
	case level > 0.8:
		return 3
	case level > 0.5:
		return 1
	default:
		return 0
	}
}

func powerAdjustment(kw float64) float64 {
	switch {
	case kw > 150:
		return 2
	case kw < 50:
		return -1
	default:
		return 0
	}
}

// learningAdjustment shifts the boundary by ±2 based on the mean observed
// decibel level over the last learningWindow entries. It contributes
// nothing until learningMinEntries have accumulated, so a freshly started
// stream runs on context alone.
func learningAdjustment(hist *History) float64 {
	if hist == nil {
		return 0
	}
	recent := hist.Recent(learningWindow)
	if len(recent) < learningMinEntries {
		return 0
	}
	var sum float64
	for _, e := range recent {
		sum += e.ObservedDB
	}
	mean := sum / float64(len(recent))
	switch {
	case mean > 50:
		return 2
	case mean < 35:
		return -2
	default:
		return 0
	}
}
