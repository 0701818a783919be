package feature

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"golang.org/x/sync/errgroup"

	"github.com/vantberg/frigoscope/pkg/audio"
)

// rolloffFraction is the cumulative-magnitude fraction used for the
// spectral rolloff point.
const rolloffFraction = 0.85

// maxBandParallel caps per-band extraction workers regardless of core
// count; the target hardware is small and oversubscription costs more than
// it saves.
const maxBandParallel = 4

// Batch is the result of extracting one chunk across all bands.
type Batch struct {
	// Broadband is the vector for the unfiltered signal. Its EnergyRatio
	// is always 1.
	Broadband Vector

	// Bands maps band name to that band's vector. Each EnergyRatio is the
	// band's share of broadband energy.
	Bands map[string]Vector

	// Degraded is set when any vector in the batch fell back to the
	// default zero vector. Degradation is a warning, never an error — a
	// continuous stream must survive a bad chunk.
	Degraded bool
}

// Extractor computes feature vectors. It holds no mutable state and is safe
// for concurrent use by any number of streams.
type Extractor struct {
	// MaxParallel bounds concurrent per-band extractions within one batch.
	// Zero means min(GOMAXPROCS, 4).
	MaxParallel int

	// OnDegraded, when non-nil, is invoked once per degraded extraction
	// with the band name ("broadband" for the unfiltered signal). Wired to
	// the observability layer by the application.
	OnDegraded func(band string)
}

// parallelism resolves the effective worker bound.
func (e *Extractor) parallelism() int {
	if e.MaxParallel > 0 {
		return e.MaxParallel
	}
	n := runtime.GOMAXPROCS(0)
	if n > maxBandParallel {
		n = maxBandParallel
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Extract computes the vector for a single buffer. degraded reports whether
// the documented default vector was substituted for an unusable input.
func (e *Extractor) Extract(buf audio.Buffer) (v Vector, degraded bool) {
	v, _, degraded = extract(buf.Samples, buf.SampleRate)
	if degraded {
		e.reportDegraded("broadband")
	}
	return v, degraded
}

// ExtractBatch computes the broadband vector plus one vector per filtered
// band, dispatching bands to a bounded worker group. Band energy ratios are
// relative to broadband energy. The batch never fails: unusable inputs
// degrade to zero vectors with Degraded set.
func (e *Extractor) ExtractBatch(ctx context.Context, broadband audio.Buffer, byBand map[string]audio.Buffer) Batch {
	wide, wideEnergy, wideDegraded := extract(broadband.Samples, broadband.SampleRate)
	wide.EnergyRatio = 1
	if wideDegraded {
		wide.EnergyRatio = 0
		e.reportDegraded("broadband")
	}

	batch := Batch{
		Broadband: wide,
		Bands:     make(map[string]Vector, len(byBand)),
		Degraded:  wideDegraded,
	}

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism())

	for name, buf := range byBand {
		name, buf := name, buf
		g.Go(func() error {
			v, energy, degraded := extract(buf.Samples, buf.SampleRate)
			if !degraded && wideEnergy > 0 {
				v.EnergyRatio = clamp01(energy / wideEnergy)
			}
			if degraded {
				e.reportDegraded(name)
			}
			mu.Lock()
			batch.Bands[name] = v
			if degraded {
				batch.Degraded = true
			}
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; degradation is recorded in the batch.
	_ = g.Wait()
	return batch
}

func (e *Extractor) reportDegraded(band string) {
	slog.Warn("feature extraction degraded to default vector", "band", band)
	if e.OnDegraded != nil {
		e.OnDegraded(band)
	}
}

// extract is the single-pass worker behind Extract and ExtractBatch. It
// returns the vector, the raw signal energy (Σx²) for ratio computation,
// and whether the input was unusable.
func extract(samples []float64, sampleRate int) (Vector, float64, bool) {
	if len(samples) == 0 || sampleRate <= 0 {
		return Vector{}, 0, true
	}

	n := len(samples)
	var (
		sum, sumSq  float64
		absSum      float64
		minS, maxS  = samples[0], samples[0]
		zeroCrosses int
	)
	for i, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return Vector{}, 0, true
		}
		sum += s
		sumSq += s * s
		absSum += math.Abs(s)
		if s < minS {
			minS = s
		}
		if s > maxS {
			maxS = s
		}
		if i > 0 && (s >= 0) != (samples[i-1] >= 0) {
			zeroCrosses++
		}
	}
	if sumSq == 0 {
		// All-zero input: silence carries no diagnostic information.
		return Vector{}, 0, true
	}

	mean := sum / float64(n)
	rms := math.Sqrt(sumSq / float64(n))

	// Central moments for std/skewness/kurtosis of the raw samples.
	var m2, m3, m4 float64
	var absVar float64
	absMean := absSum / float64(n)
	for _, s := range samples {
		d := s - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
		da := math.Abs(s) - absMean
		absVar += da * da
	}
	m2 /= float64(n)
	m3 /= float64(n)
	m4 /= float64(n)
	absVar /= float64(n)

	var skew, kurt float64
	if m2 > 0 {
		skew = m3 / math.Pow(m2, 1.5)
		kurt = m4/(m2*m2) - 3
	}

	v := Vector{
		RMSEnergy:        rms,
		MeanAmplitude:    absMean,
		StdAmplitude:     math.Sqrt(absVar),
		Skewness:         skew,
		Kurtosis:         kurt,
		ZeroCrossingRate: float64(zeroCrosses) / float64(n),
		DynamicRange:     maxS - minS,
		DecibelLevel:     DecibelLevel(rms),
	}

	spectral(samples, sampleRate, &v)
	periodicity(samples, sampleRate, &v)

	v.Sanitize()
	return v, sumSq, false
}

// spectral fills the frequency-domain fields from one shared transform.
func spectral(samples []float64, sampleRate int, v *Vector) {
	n := len(samples)
	windowed := make([]float64, n)
	copy(windowed, samples)
	window.Apply(windowed, window.Hann)

	spectrum := fft.FFTReal(windowed)
	bins := len(spectrum)/2 + 1
	freqStep := float64(sampleRate) / float64(n)

	mags := make([]float64, bins)
	var magSum, weightedSum float64
	for i := 0; i < bins; i++ {
		m := cmplxAbs(spectrum[i])
		mags[i] = m
		magSum += m
		weightedSum += m * float64(i) * freqStep
	}
	if magSum <= 0 {
		return
	}

	centroid := weightedSum / magSum
	v.SpectralCentroid = centroid

	// Rolloff: first bin where the cumulative magnitude crosses the
	// configured fraction of the total.
	target := rolloffFraction * magSum
	var cum float64
	for i, m := range mags {
		cum += m
		if cum >= target {
			v.SpectralRolloff = float64(i) * freqStep
			break
		}
	}

	// Bandwidth: magnitude-weighted spread around the centroid.
	var spread float64
	for i, m := range mags {
		d := float64(i)*freqStep - centroid
		spread += m * d * d
	}
	v.SpectralBandwidth = math.Sqrt(spread / magSum)

	// Flatness: geometric over arithmetic mean, epsilon-guarded so silent
	// bins do not zero the geometric mean outright.
	const eps = 1e-12
	var logSum float64
	for _, m := range mags {
		logSum += math.Log(m + eps)
	}
	geoMean := math.Exp(logSum / float64(bins))
	arithMean := magSum / float64(bins)
	v.SpectralFlatness = clamp01(geoMean / (arithMean + eps))
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
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
