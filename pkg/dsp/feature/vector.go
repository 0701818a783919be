// Package feature computes the statistical, spectral, and temporal
// descriptors the classifier matches against failure signatures. All
// spectral metrics for one buffer are derived from a single shared FFT, and
// extraction is deterministic: the same buffer always yields the same
// vector.
package feature

import "math"

// refRMS is the RMS amplitude mapped to 0 on the decibel-equivalent scale
// used by the adaptive threshold. It places typical healthy compressor
// noise (RMS ≈ 0.1–0.3) in the 40–50 range of the 30–70 decision domain.
const refRMS = 8e-4

// Vector is the fixed feature schema for one (segment × band). Using a
// struct instead of a name→value map means a mismatched feature reference
// is a compile error, not a runtime lookup miss.
//
// A Vector never carries NaN or Inf: extraction failures degrade to the
// zero value of this struct (the documented default vector).
type Vector struct {
	// --- Statistical (time domain) ---

	// RMSEnergy is the root-mean-square amplitude.
	RMSEnergy float64 `json:"rms_energy"`

	// MeanAmplitude and StdAmplitude describe the absolute-amplitude
	// distribution.
	MeanAmplitude float64 `json:"mean_amplitude"`
	StdAmplitude  float64 `json:"std_amplitude"`

	// Skewness and Kurtosis are the third and fourth standardised moments
	// of the raw samples. Kurtosis is excess kurtosis (normal ≈ 0).
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`

	// ZeroCrossingRate is sign changes per sample, in [0, 1].
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`

	// DynamicRange is peak minus trough amplitude.
	DynamicRange float64 `json:"dynamic_range"`

	// --- Spectral (one shared transform) ---

	// SpectralCentroid is the magnitude-weighted mean frequency in Hz.
	SpectralCentroid float64 `json:"spectral_centroid"`

	// SpectralRolloff is the frequency in Hz below which 85% of the total
	// spectral magnitude lies.
	SpectralRolloff float64 `json:"spectral_rolloff"`

	// SpectralBandwidth is the magnitude-weighted standard deviation
	// around the centroid, in Hz.
	SpectralBandwidth float64 `json:"spectral_bandwidth"`

	// SpectralFlatness is the geometric/arithmetic mean ratio of the
	// magnitude spectrum: ≈1 for noise, →0 for tones.
	SpectralFlatness float64 `json:"spectral_flatness"`

	// EnergyRatio is this band's share of broadband signal energy, in
	// [0, 1]. Always 1 for the broadband vector itself.
	EnergyRatio float64 `json:"energy_ratio"`

	// --- Temporal / periodicity ---

	// Periodicity is the peak-to-zero-lag ratio of the normalised
	// autocorrelation, in [0, 1]. High values indicate strong cyclic
	// content (rotating machinery).
	Periodicity float64 `json:"periodicity"`

	// CyclePeriod (s) and CycleFrequency (Hz) come from peak-interval
	// analysis of the energy envelope. Zero when fewer than two envelope
	// peaks are found.
	CyclePeriod    float64 `json:"cycle_period"`
	CycleFrequency float64 `json:"cycle_frequency"`

	// CycleStability is 1/(1+stddev/mean) over the envelope peak
	// intervals: 1 for perfectly regular cycles, →0 for erratic ones,
	// exactly 0 when fewer than two peaks are found.
	CycleStability float64 `json:"cycle_stability"`

	// DecibelLevel is the RMS energy on the decibel-equivalent scale the
	// adaptive threshold operates on (see refRMS). Floor-clamped at 0.
	DecibelLevel float64 `json:"decibel_level"`
}

// DecibelLevel converts an RMS amplitude to the decision-domain
// decibel-equivalent scale.
func DecibelLevel(rms float64) float64 {
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms/refRMS)
	if db < 0 {
		return 0
	}
	return db
}

// Sanitize replaces any non-finite field with zero, returning true when a
// replacement happened. The extractor calls this before returning so a
// numeric edge case in one metric can never poison downstream maths.
func (v *Vector) Sanitize() bool {
	dirty := false
	for _, f := range []*float64{
		&v.RMSEnergy, &v.MeanAmplitude, &v.StdAmplitude,
		&v.Skewness, &v.Kurtosis, &v.ZeroCrossingRate, &v.DynamicRange,
		&v.SpectralCentroid, &v.SpectralRolloff, &v.SpectralBandwidth,
		&v.SpectralFlatness, &v.EnergyRatio,
		&v.Periodicity, &v.CyclePeriod, &v.CycleFrequency, &v.CycleStability,
		&v.DecibelLevel,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
			dirty = true
		}
	}
	return dirty
}

// IsZero reports whether v equals the documented default (all-zero) vector.
func (v Vector) IsZero() bool {
	return v == Vector{}
}
