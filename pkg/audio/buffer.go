// Package audio provides the ingest layer of the acoustic monitoring
// pipeline: sample buffers, PCM decoding, resampling to the canonical
// analysis rate, and chunk sources for one-shot and continuous operation.
package audio

import (
	"math"
	"time"
)

// Buffer holds a mono waveform at a fixed sample rate. Buffers are passed by
// value between pipeline stages and are never mutated in place once handed
// off — a stage that needs a modified copy calls [Buffer.Clone] first.
type Buffer struct {
	// Samples are normalised amplitudes, nominally in [-1, 1].
	Samples []float64

	// SampleRate in Hz (e.g. 16000 for the canonical analysis rate).
	SampleRate int
}

// Duration returns the buffer length as wall-clock audio time.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds returns the buffer length in seconds.
func (b Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Empty reports whether the buffer contains no samples.
func (b Buffer) Empty() bool { return len(b.Samples) == 0 }

// Clone returns a deep copy of the buffer.
func (b Buffer) Clone() Buffer {
	out := Buffer{SampleRate: b.SampleRate}
	if b.Samples != nil {
		out.Samples = make([]float64, len(b.Samples))
		copy(out.Samples, b.Samples)
	}
	return out
}

// RMS returns the root-mean-square amplitude of the buffer, or 0 for an
// empty buffer.
func (b Buffer) RMS() float64 {
	if len(b.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range b.Samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(b.Samples)))
}

// Peak returns the maximum absolute amplitude of the buffer.
func (b Buffer) Peak() float64 {
	var peak float64
	for _, s := range b.Samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// DecodePCM16 converts little-endian 16-bit mono PCM bytes into a [Buffer]
// at the given sample rate. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte, sampleRate int) Buffer {
	n := len(pcm) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float64(s) / 32768.0
	}
	return Buffer{Samples: samples, SampleRate: sampleRate}
}

// Resample converts the buffer to dstRate using linear interpolation.
// If the buffer is already at dstRate (or either rate is invalid) it is
// returned unchanged. Linear interpolation is adequate here: the analysis
// bands sit well below the Nyquist limit of the canonical rate.
func Resample(b Buffer, dstRate int) Buffer {
	if b.SampleRate <= 0 || dstRate <= 0 || b.SampleRate == dstRate || len(b.Samples) < 2 {
		return b
	}

	srcSamples := len(b.Samples)
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(b.SampleRate))
	if dstSamples == 0 {
		return Buffer{SampleRate: dstRate}
	}

	out := make([]float64, dstSamples)
	ratio := float64(b.SampleRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := b.Samples[srcIdx]
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = b.Samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return Buffer{Samples: out, SampleRate: dstRate}
}
