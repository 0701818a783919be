package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// pcm16 encodes int16 samples as little-endian bytes.
func pcm16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// makeWAV builds a canonical PCM16 RIFF stream from interleaved samples.
func makeWAV(samples []int16, rate int, channels int) []byte {
	data := pcm16(samples)
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(data)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, uint16(channels))
	binary.Write(&b, binary.LittleEndian, uint32(rate))
	binary.Write(&b, binary.LittleEndian, uint32(rate*channels*2))
	binary.Write(&b, binary.LittleEndian, uint16(channels*2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

func TestBuffer_Duration(t *testing.T) {
	b := Buffer{Samples: make([]float64, 8000), SampleRate: 16000}
	if got := b.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration() = %v, want 500ms", got)
	}
	if got := b.Seconds(); got != 0.5 {
		t.Errorf("Seconds() = %v, want 0.5", got)
	}
	if got := (Buffer{Samples: []float64{1}}).Duration(); got != 0 {
		t.Errorf("Duration() without a rate = %v, want 0", got)
	}
}

func TestBuffer_RMSAndPeak(t *testing.T) {
	b := Buffer{Samples: []float64{0.5, -0.5, 0.5, -0.5}, SampleRate: 16000}
	if got := b.RMS(); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("RMS() = %v, want 0.5", got)
	}
	if got := b.Peak(); got != 0.5 {
		t.Errorf("Peak() = %v, want 0.5", got)
	}
	if got := (Buffer{}).RMS(); got != 0 {
		t.Errorf("empty RMS() = %v, want 0", got)
	}
}

func TestBuffer_Clone(t *testing.T) {
	b := Buffer{Samples: []float64{0.1, 0.2}, SampleRate: 16000}
	c := b.Clone()
	c.Samples[0] = 9
	if b.Samples[0] != 0.1 {
		t.Error("Clone shares the sample slice with the original")
	}
}

func TestDecodePCM16(t *testing.T) {
	buf := DecodePCM16(pcm16([]int16{0, 16384, -16384, 32767}), 16000)
	if buf.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", buf.SampleRate)
	}
	want := []float64{0, 0.5, -0.5, 32767.0 / 32768.0}
	if len(buf.Samples) != len(want) {
		t.Fatalf("samples = %d, want %d", len(buf.Samples), len(want))
	}
	for i, w := range want {
		if math.Abs(buf.Samples[i]-w) > 1e-9 {
			t.Errorf("sample %d = %v, want %v", i, buf.Samples[i], w)
		}
	}
}

func TestDecodePCM16_TrailingByte(t *testing.T) {
	raw := append(pcm16([]int16{100, 200}), 0x7f)
	if got := len(DecodePCM16(raw, 16000).Samples); got != 2 {
		t.Errorf("samples = %d, want 2 with the odd byte dropped", got)
	}
}

func TestResample(t *testing.T) {
	// One second of a 100 Hz tone at 8 kHz, resampled to 16 kHz.
	src := make([]float64, 8000)
	for i := range src {
		src[i] = math.Sin(2 * math.Pi * 100 * float64(i) / 8000)
	}
	in := Buffer{Samples: src, SampleRate: 8000}

	out := Resample(in, 16000)
	if out.SampleRate != 16000 {
		t.Fatalf("rate = %d, want 16000", out.SampleRate)
	}
	if len(out.Samples) != 16000 {
		t.Fatalf("samples = %d, want 16000", len(out.Samples))
	}
	// Linear interpolation preserves a low tone almost exactly.
	if math.Abs(out.RMS()-in.RMS()) > 0.01 {
		t.Errorf("RMS drifted from %.4f to %.4f", in.RMS(), out.RMS())
	}
}

func TestResample_Identity(t *testing.T) {
	in := Buffer{Samples: []float64{0.1, 0.2, 0.3}, SampleRate: 16000}
	out := Resample(in, 16000)
	if &out.Samples[0] != &in.Samples[0] {
		t.Error("same-rate resample should return the buffer unchanged")
	}
}

func TestDecodeWAV_Mono(t *testing.T) {
	samples := []int16{0, 8192, -8192, 16384}
	buf, err := DecodeWAV(bytes.NewReader(makeWAV(samples, 16000, 1)))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if buf.SampleRate != 16000 {
		t.Errorf("rate = %d, want 16000", buf.SampleRate)
	}
	if len(buf.Samples) != 4 {
		t.Fatalf("samples = %d, want 4", len(buf.Samples))
	}
	if math.Abs(buf.Samples[1]-0.25) > 1e-3 {
		t.Errorf("sample 1 = %v, want 0.25", buf.Samples[1])
	}
}

func TestDecodeWAV_StereoDownmix(t *testing.T) {
	// Interleaved L/R frames; downmix averages the channels.
	samples := []int16{16384, 0, 0, 16384}
	buf, err := DecodeWAV(bytes.NewReader(makeWAV(samples, 16000, 2)))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(buf.Samples) != 2 {
		t.Fatalf("frames = %d, want 2", len(buf.Samples))
	}
	for i, s := range buf.Samples {
		if math.Abs(s-0.25) > 1e-3 {
			t.Errorf("frame %d = %v, want 0.25", i, s)
		}
	}
}

func TestDecodeWAV_Garbage(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav file"))); err == nil {
		t.Fatal("expected error for malformed input")
	}
}

func TestFileSource(t *testing.T) {
	// 2.5 seconds of audio served in one-second chunks.
	samples := make([]int16, 2*16000+8000)
	for i := range samples {
		samples[i] = int16(4000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	path := filepath.Join(t.TempDir(), "unit.wav")
	if err := os.WriteFile(path, makeWAV(samples, 16000, 1), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenFile(path, 16000, time.Second)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	var lengths []int
	for {
		chunk, err := src.NextChunk(ctx)
		if errors.Is(err, ErrStreamEnded) {
			break
		}
		if err != nil {
			t.Fatalf("NextChunk: %v", err)
		}
		lengths = append(lengths, len(chunk.Samples))
	}
	want := []int{16000, 16000, 8000}
	if len(lengths) != len(want) {
		t.Fatalf("chunks = %v, want %v", lengths, want)
	}
	for i := range want {
		if lengths[i] != want[i] {
			t.Errorf("chunk %d = %d samples, want %d", i, lengths[i], want[i])
		}
	}
}

func TestOpenFile_Missing(t *testing.T) {
	if _, err := OpenFile(filepath.Join(t.TempDir(), "nope.wav"), 16000, time.Second); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestReaderSource_Chunks(t *testing.T) {
	// 2.5 chunks worth of PCM: two full chunks, then a partial final one.
	samples := make([]int16, 2*16000+8000)
	r := bytes.NewReader(pcm16(samples))

	src := NewReaderSource(r, ReaderSourceConfig{
		Name:          "fifo",
		SampleRate:    16000,
		ChunkDuration: time.Second,
	})
	defer src.Close()

	ctx := context.Background()
	var lengths []int
	for {
		chunk, err := src.NextChunk(ctx)
		if errors.Is(err, ErrStreamEnded) {
			break
		}
		if err != nil {
			t.Fatalf("NextChunk: %v", err)
		}
		lengths = append(lengths, len(chunk.Samples))
	}
	want := []int{16000, 16000, 8000}
	if len(lengths) != len(want) {
		t.Fatalf("chunks = %v, want %v", lengths, want)
	}
	for i := range want {
		if lengths[i] != want[i] {
			t.Errorf("chunk %d = %d samples, want %d", i, lengths[i], want[i])
		}
	}
}

// stallReader blocks until released, then reports EOF.
type stallReader struct{ release chan struct{} }

func (r *stallReader) Read([]byte) (int, error) {
	<-r.release
	return 0, io.EOF
}

func TestReaderSource_Timeout(t *testing.T) {
	r := &stallReader{release: make(chan struct{})}
	src := NewReaderSource(r, ReaderSourceConfig{
		Name:          "fifo",
		SampleRate:    16000,
		ChunkDuration: time.Second,
		ReadTimeout:   20 * time.Millisecond,
	})
	defer func() {
		close(r.release)
		src.Close()
	}()

	if _, err := src.NextChunk(context.Background()); !errors.Is(err, ErrIngestTimeout) {
		t.Fatalf("err = %v, want ErrIngestTimeout", err)
	}
}

func TestReaderSource_ContextCancelled(t *testing.T) {
	r := &stallReader{release: make(chan struct{})}
	src := NewReaderSource(r, ReaderSourceConfig{
		Name:          "fifo",
		SampleRate:    16000,
		ChunkDuration: time.Second,
	})
	defer func() {
		close(r.release)
		src.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.NextChunk(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// flakyReader fails its first read, then reports EOF.
type flakyReader struct{ calls int }

func (r *flakyReader) Read([]byte) (int, error) {
	r.calls++
	if r.calls == 1 {
		return 0, errors.New("device glitch")
	}
	return 0, io.EOF
}

func TestReaderSource_TransientError(t *testing.T) {
	src := NewReaderSource(&flakyReader{}, ReaderSourceConfig{
		Name:          "mic-0",
		SampleRate:    16000,
		ChunkDuration: time.Second,
	})
	defer src.Close()

	ctx := context.Background()
	_, err := src.NextChunk(ctx)
	var ingest *IngestError
	if !errors.As(err, &ingest) {
		t.Fatalf("err = %v, want *IngestError", err)
	}
	if ingest.Source != "mic-0" {
		t.Errorf("Source = %q, want mic-0", ingest.Source)
	}

	// The source survives the transient error and reports stream end next.
	if _, err := src.NextChunk(ctx); !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("err after transient failure = %v, want ErrStreamEnded", err)
	}
}
