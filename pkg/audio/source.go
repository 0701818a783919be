package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mjibson/go-dsp/wav"
)

// ChunkSource delivers bounded-duration audio chunks to the streaming
// controller. Implementations must be safe for sequential use from a single
// goroutine; they are never shared between streams.
type ChunkSource interface {
	// NextChunk returns the next chunk of audio. It returns
	// [ErrStreamEnded] when the source is exhausted, [ErrIngestTimeout]
	// when the read exceeded the source's timeout, or an [*IngestError]
	// for transient I/O failures. After a timeout or transient error the
	// source remains usable for subsequent calls.
	NextChunk(ctx context.Context) (Buffer, error)

	// Close releases the underlying resource.
	Close() error
}

// FileSource replays a WAV file in chunk-sized windows. The file is decoded
// and resampled once at open time; NextChunk then slices successive windows
// without further I/O. Useful for one-shot analysis and stream replay in
// tests and field diagnostics.
type FileSource struct {
	buf       Buffer
	chunkSize int
	pos       int
}

// OpenFile opens a WAV file, downmixes it to mono, and resamples it to
// sampleRate. chunkDuration controls the window served per NextChunk call.
// Decode or format errors are fatal to the open call — a stream is never
// started on a malformed source.
func OpenFile(path string, sampleRate int, chunkDuration time.Duration) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	buf, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	buf = Resample(buf, sampleRate)

	chunkSize := int(float64(sampleRate) * chunkDuration.Seconds())
	if chunkSize <= 0 {
		chunkSize = len(buf.Samples)
	}
	return &FileSource{buf: buf, chunkSize: chunkSize}, nil
}

// DecodeWAV reads a complete WAV stream into a mono [Buffer]. Multi-channel
// input is downmixed by averaging.
func DecodeWAV(r io.Reader) (Buffer, error) {
	w, err := wav.New(r)
	if err != nil {
		return Buffer{}, err
	}

	floats, err := w.ReadFloats(w.Samples)
	if err != nil && err != io.EOF {
		return Buffer{}, err
	}

	channels := int(w.NumChannels)
	if channels <= 0 {
		channels = 1
	}

	frames := len(floats) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(floats[i*channels+c])
		}
		samples[i] = sum / float64(channels)
	}
	return Buffer{Samples: samples, SampleRate: int(w.SampleRate)}, nil
}

// NextChunk returns the next window of the decoded file.
func (s *FileSource) NextChunk(_ context.Context) (Buffer, error) {
	if s.pos >= len(s.buf.Samples) {
		return Buffer{}, ErrStreamEnded
	}
	end := s.pos + s.chunkSize
	if end > len(s.buf.Samples) {
		end = len(s.buf.Samples)
	}
	chunk := Buffer{Samples: s.buf.Samples[s.pos:end], SampleRate: s.buf.SampleRate}
	s.pos = end
	return chunk, nil
}

// Close is a no-op for file sources; the file handle is released at open time.
func (s *FileSource) Close() error { return nil }

// readResult carries one chunk read off the reader goroutine.
type readResult struct {
	buf Buffer
	err error
}

// ReaderSource streams little-endian 16-bit mono PCM from an io.Reader —
// typically a capture FIFO fed by the recording hardware. Reads happen on a
// dedicated goroutine so NextChunk can enforce a per-chunk timeout without
// abandoning data: a chunk that arrives after its deadline is delivered on
// the following call rather than dropped.
type ReaderSource struct {
	name    string
	timeout time.Duration
	results chan readResult
	closed  chan struct{}
}

// ReaderSourceConfig configures a [ReaderSource].
type ReaderSourceConfig struct {
	// Name identifies the source in errors and logs.
	Name string

	// SampleRate of the incoming PCM stream.
	SampleRate int

	// ChunkDuration is the amount of audio delivered per NextChunk call.
	ChunkDuration time.Duration

	// ReadTimeout bounds how long NextChunk waits for a full chunk before
	// failing with [ErrIngestTimeout]. Default: 5s.
	ReadTimeout time.Duration
}

// NewReaderSource starts the reader goroutine and returns the source.
func NewReaderSource(r io.Reader, cfg ReaderSourceConfig) *ReaderSource {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	chunkBytes := int(float64(cfg.SampleRate)*cfg.ChunkDuration.Seconds()) * 2
	if chunkBytes <= 0 {
		chunkBytes = cfg.SampleRate * 2 // 1 second fallback
	}

	s := &ReaderSource{
		name:    cfg.Name,
		timeout: cfg.ReadTimeout,
		results: make(chan readResult, 1),
		closed:  make(chan struct{}),
	}

	go func() {
		defer close(s.results)
		buf := make([]byte, chunkBytes)
		for {
			n, err := io.ReadFull(r, buf)
			eof := err == io.EOF || err == io.ErrUnexpectedEOF

			var res readResult
			switch {
			case n > 0:
				res.buf = DecodePCM16(buf[:n], cfg.SampleRate)
			case eof:
				res.err = ErrStreamEnded
			case err != nil:
				res.err = &IngestError{Source: cfg.Name, Err: err}
			}

			select {
			case s.results <- res:
			case <-s.closed:
				return
			}

			// A closed results channel signals end-of-stream to NextChunk,
			// so a final partial chunk is delivered before returning.
			if eof {
				return
			}
		}
	}()
	return s
}

// NextChunk waits up to the configured timeout for the next chunk.
func (s *ReaderSource) NextChunk(ctx context.Context) (Buffer, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res, ok := <-s.results:
		if !ok {
			return Buffer{}, ErrStreamEnded
		}
		return res.buf, res.err
	case <-timer.C:
		return Buffer{}, ErrIngestTimeout
	case <-ctx.Done():
		return Buffer{}, ctx.Err()
	}
}

// Close stops the reader goroutine. The underlying reader is owned by the
// caller and is not closed here.
func (s *ReaderSource) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}
