package feature

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Envelope analysis parameters. The 20 ms window / 10 ms hop resolution is
// enough to resolve compressor cycling while staying cheap on long chunks.
const (
	envelopeWindowSec = 0.020
	envelopeHopSec    = 0.010
)

// periodicity fills the temporal fields of v: the autocorrelation
// periodicity score and the envelope peak-interval cycle metrics.
func periodicity(samples []float64, sampleRate int, v *Vector) {
	v.Periodicity = autocorrelationScore(samples, sampleRate)

	period, stability := envelopeCycle(samples, sampleRate)
	v.CyclePeriod = period
	if period > 0 {
		v.CycleFrequency = 1 / period
	}
	v.CycleStability = stability
}

// autocorrelationScore returns the peak-to-zero-lag ratio of the normalised
// autocorrelation over the lag range of mechanical interest. The ACF is
// computed via the power spectrum (Wiener–Khinchin) with 2n zero padding so
// the correlation is linear, not circular.
func autocorrelationScore(samples []float64, sampleRate int) float64 {
	n := len(samples)
	minLag := sampleRate / 500 // ignore lags under 2 ms: trivially correlated
	maxLag := sampleRate / 2   // nothing slower than 0.5 s cycles
	if maxLag > n/2 {
		maxLag = n / 2
	}
	if minLag < 1 {
		minLag = 1
	}
	if maxLag <= minLag {
		return 0
	}

	padded := make([]float64, 2*n)
	copy(padded, samples)
	spectrum := fft.FFTReal(padded)
	for i, c := range spectrum {
		p := real(c)*real(c) + imag(c)*imag(c)
		spectrum[i] = complex(p, 0)
	}
	acf := fft.IFFT(spectrum)

	zeroLag := real(acf[0])
	if zeroLag <= 0 {
		return 0
	}

	var peak float64
	for lag := minLag; lag <= maxLag; lag++ {
		if r := real(acf[lag]) / zeroLag; r > peak {
			peak = r
		}
	}
	return clamp01(peak)
}

// envelopeCycle detects local maxima on the short-time RMS envelope and
// derives the mean peak interval (cycle period, seconds) and its stability
// score 1/(1+stddev/mean). Fewer than two peaks degenerate to (0, 0).
func envelopeCycle(samples []float64, sampleRate int) (period, stability float64) {
	win := int(envelopeWindowSec * float64(sampleRate))
	hop := int(envelopeHopSec * float64(sampleRate))
	if win < 1 || hop < 1 || len(samples) < 2*win {
		return 0, 0
	}

	var env []float64
	for start := 0; start+win <= len(samples); start += hop {
		var sumSq float64
		for _, s := range samples[start : start+win] {
			sumSq += s * s
		}
		env = append(env, math.Sqrt(sumSq/float64(win)))
	}
	if len(env) < 3 {
		return 0, 0
	}

	// Peaks must rise above the envelope mean plus half a standard
	// deviation; a flat envelope yields no peaks and hence no cycle.
	var sum float64
	for _, e := range env {
		sum += e
	}
	mean := sum / float64(len(env))
	var varSum float64
	for _, e := range env {
		d := e - mean
		varSum += d * d
	}
	floor := mean + 0.5*math.Sqrt(varSum/float64(len(env)))

	var peaks []int
	for i := 1; i < len(env)-1; i++ {
		if env[i] > floor && env[i] > env[i-1] && env[i] >= env[i+1] {
			peaks = append(peaks, i)
		}
	}
	if len(peaks) < 2 {
		return 0, 0
	}

	hopSec := float64(hop) / float64(sampleRate)
	intervals := make([]float64, len(peaks)-1)
	var intervalSum float64
	for i := 1; i < len(peaks); i++ {
		intervals[i-1] = float64(peaks[i]-peaks[i-1]) * hopSec
		intervalSum += intervals[i-1]
	}
	meanInterval := intervalSum / float64(len(intervals))
	if meanInterval <= 0 {
		return 0, 0
	}

	var intVar float64
	for _, iv := range intervals {
		d := iv - meanInterval
		intVar += d * d
	}
	stddev := math.Sqrt(intVar / float64(len(intervals)))

	return meanInterval, 1 / (1 + stddev/meanInterval)
}
