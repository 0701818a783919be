package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vantberg/frigoscope/internal/classify"
	"github.com/vantberg/frigoscope/internal/config"
	"github.com/vantberg/frigoscope/internal/detector"
	"github.com/vantberg/frigoscope/internal/health"
	"github.com/vantberg/frigoscope/internal/threshold"
	"github.com/vantberg/frigoscope/pkg/audio"
)

// managedStream pairs an opened stream with its latest verdict for status
// reporting.
type managedStream struct {
	stream *detector.Stream

	mu   sync.Mutex
	last classify.Result
	seen bool
}

func (m *managedStream) record(r classify.Result) {
	m.mu.Lock()
	m.last = r
	m.seen = true
	m.mu.Unlock()
}

func (m *managedStream) lastResult() (classify.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.seen
}

// StreamManager opens the configured streams and runs them on a bounded
// worker pool. All exported methods are safe for concurrent use.
type StreamManager struct {
	det           *detector.Detector
	chunkDuration time.Duration
	maxStreams    int

	mu      sync.Mutex
	streams map[string]*managedStream

	// OnResult, when non-nil, receives every result from every stream in
	// addition to the per-stream status tracking. Set before Run.
	OnResult func(classify.Result)
}

// NewStreamManager creates a manager over det. maxStreams caps concurrent
// stream goroutines; zero means no cap beyond the number of streams.
func NewStreamManager(det *detector.Detector, maxStreams int) *StreamManager {
	return &StreamManager{
		det:           det,
		chunkDuration: det.ChunkDuration(),
		maxStreams:    maxStreams,
		streams:       make(map[string]*managedStream),
	}
}

// OpenConfigured opens every stream in cfg that names a source file.
// Streams without a file are skipped; they are fed programmatically through
// [StreamManager.Add].
func (sm *StreamManager) OpenConfigured(ctx context.Context, cfgs []config.StreamConfig) error {
	for _, sc := range cfgs {
		if sc.File == "" {
			slog.Info("stream has no source file, awaiting programmatic feed", "stream", sc.Name)
			continue
		}
		src, err := audio.OpenFile(sc.File, sm.det.SampleRate(), sm.chunkDuration)
		if err != nil {
			return fmt.Errorf("app: open stream %q: %w", sc.Name, err)
		}
		provider := threshold.ClockContext{
			TemperatureC: sc.Context.TemperatureC,
			Vibration:    sc.Context.Vibration,
			PowerKW:      sc.Context.PowerKW,
		}
		if err := sm.Add(ctx, sc.Name, src, provider); err != nil {
			return err
		}
	}
	return nil
}

// Add opens one stream over src and registers it for the next Run. Returns
// an error if a stream with the same name is already registered.
func (sm *StreamManager) Add(ctx context.Context, name string, src audio.ChunkSource, provider threshold.ContextProvider) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.streams[name]; exists {
		return fmt.Errorf("app: stream %q is already registered", name)
	}

	ms := &managedStream{}
	sink := func(r classify.Result) {
		ms.record(r)
		if sm.OnResult != nil {
			sm.OnResult(r)
		}
	}
	s, err := sm.det.OpenStream(ctx, name, src, provider, sink)
	if err != nil {
		return err
	}
	ms.stream = s
	sm.streams[name] = ms

	slog.Info("stream registered", "stream", name)
	return nil
}

// Run drives all registered streams until every source ends or ctx is
// cancelled. The first non-cancellation stream error aborts the remaining
// streams and is returned.
func (sm *StreamManager) Run(ctx context.Context) error {
	sm.mu.Lock()
	streams := make([]*managedStream, 0, len(sm.streams))
	for _, ms := range sm.streams {
		streams = append(streams, ms)
	}
	sm.mu.Unlock()

	if len(streams) == 0 {
		slog.Warn("no streams registered")
		<-ctx.Done()
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	if sm.maxStreams > 0 {
		g.SetLimit(sm.maxStreams)
	}
	for _, ms := range streams {
		ms := ms
		g.Go(func() error {
			name := ms.stream.Name()
			slog.Info("stream starting", "stream", name)
			err := ms.stream.Run(gctx)
			slog.Info("stream finished", "stream", name, "err", err)
			return err
		})
	}
	return g.Wait()
}

// StopAll requests cooperative termination of every running stream.
func (sm *StreamManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, ms := range sm.streams {
		ms.stream.Controller().Stop()
	}
}

// Statuses returns the current state of every registered stream, sorted by
// registration map order (callers sort if they need stable output).
func (sm *StreamManager) Statuses() []health.StreamStatus {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make([]health.StreamStatus, 0, len(sm.streams))
	for name, ms := range sm.streams {
		st := health.StreamStatus{
			Name:  name,
			State: ms.stream.Controller().State().String(),
		}
		if last, ok := ms.lastResult(); ok {
			st.LastVerdict = string(last.FailureType)
		}
		out = append(out, st)
	}
	return out
}
