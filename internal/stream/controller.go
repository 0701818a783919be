// Package stream runs the detection pipeline over chunked audio: one-shot
// analysis of a single buffer, or a continuous loop over a chunk source
// with per-chunk error isolation and cooperative cancellation.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vantberg/frigoscope/internal/classify"
	"github.com/vantberg/frigoscope/internal/observe"
	"github.com/vantberg/frigoscope/internal/threshold"
	"github.com/vantberg/frigoscope/pkg/audio"
	"github.com/vantberg/frigoscope/pkg/dsp/feature"
	"github.com/vantberg/frigoscope/pkg/dsp/filter"
)

// State is the controller's position in its processing cycle.
type State int32

const (
	// StateIdle means no work is in flight.
	StateIdle State = iota

	// StateLoading means a chunk read is in progress.
	StateLoading

	// StateProcessing means the filter/feature/threshold/classify stages
	// are running on a chunk.
	StateProcessing

	// StateEmitting means a result is being delivered to the sink.
	StateEmitting

	// StateStreaming means the continuous loop is active (the per-chunk
	// sub-states cycle within it).
	StateStreaming

	// StateStopped means a continuous run has terminated.
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateProcessing:
		return "processing"
	case StateEmitting:
		return "emitting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sink receives detection results, one per chunk, in chunk arrival order.
type Sink func(classify.Result)

// Pipeline bundles the four processing stages plus observability. One
// Pipeline is shared by all streams: every component in it is immutable or
// internally synchronised.
type Pipeline struct {
	Bank       *filter.Bank
	Extractor  *feature.Extractor
	Calculator *threshold.Calculator
	Classifier *classify.Classifier

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics
}

// Options configures one stream run.
type Options struct {
	// Stream names the stream in results, logs, and metrics.
	Stream string

	// Provider is polled once per chunk for the current threshold
	// context. Required.
	Provider threshold.ContextProvider

	// Sink receives each result. Required.
	Sink Sink

	// History and Log are the stream-owned bounded buffers. When nil the
	// controller creates fresh ones with default capacities.
	History *threshold.History
	Log     *classify.FailureLog

	// DurationOverrideSec, when positive, is passed to the classifier
	// instead of the accumulated condition duration. Used by one-shot
	// analysis of a segment known to represent a longer-running
	// condition.
	DurationOverrideSec float64
}

// Controller drives the pipeline over a chunk source. A Controller owns its
// source, history, and log; it is used by exactly one goroutine, with only
// State and Stop safe to call from outside.
type Controller struct {
	pipeline *Pipeline
	source   audio.ChunkSource
	opts     Options

	state atomic.Int32
	stop  atomic.Bool

	// conditionSec accumulates audio time across consecutive chunks whose
	// level exceeded the threshold. It resets on the first quiet chunk,
	// so pattern minimum durations gate on sustained conditions.
	conditionSec float64
}

// NewController creates a controller over src. The source is closed when a
// continuous run finishes.
func NewController(p *Pipeline, src audio.ChunkSource, opts Options) *Controller {
	if opts.History == nil {
		opts.History = threshold.NewHistory(0)
	}
	if opts.Log == nil {
		opts.Log = classify.NewFailureLog(0)
	}
	return &Controller{pipeline: p, source: src, opts: opts}
}

// State returns the controller's current state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Stop requests cooperative termination of a continuous run. The controller
// finishes the chunk in flight — a result is never emitted half-built — and
// exits before loading the next one.
func (c *Controller) Stop() { c.stop.Store(true) }

// History returns the stream-owned threshold history.
func (c *Controller) History() *threshold.History { return c.opts.History }

// Log returns the stream-owned failure log.
func (c *Controller) Log() *classify.FailureLog { return c.opts.Log }

// Process runs the one-shot cycle Idle → Loading → Processing → Emitting →
// Idle over a single buffer and returns the result.
func (c *Controller) Process(ctx context.Context, buf audio.Buffer) (classify.Result, error) {
	c.state.Store(int32(StateLoading))
	defer c.state.Store(int32(StateIdle))

	if err := c.pipeline.Bank.Validate(buf.SampleRate); err != nil {
		return classify.Result{}, err
	}
	res := c.processChunk(ctx, buf)

	c.state.Store(int32(StateEmitting))
	if c.opts.Sink != nil {
		c.opts.Sink(res)
	}
	return res, nil
}

// Run executes the continuous loop until the source ends, ctx is cancelled,
// or Stop is called. Per-chunk ingest failures are logged and skipped; only
// the end of the source or cancellation terminates the loop.
func (c *Controller) Run(ctx context.Context) error {
	c.state.Store(int32(StateStreaming))
	defer func() {
		c.state.Store(int32(StateStopped))
		if err := c.source.Close(); err != nil {
			slog.Warn("chunk source close failed", "stream", c.opts.Stream, "err", err)
		}
	}()

	if c.pipeline.Metrics != nil {
		c.pipeline.Metrics.StreamStarted(ctx)
		defer c.pipeline.Metrics.StreamStopped(ctx)
	}

	for {
		// Cancellation is checked only between chunks: a chunk in flight
		// always completes, so partial results are never emitted.
		if c.stop.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		buf, err := c.source.NextChunk(ctx)
		switch {
		case errors.Is(err, audio.ErrStreamEnded):
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			// Timeout or transient I/O: skip this chunk, keep the stream.
			slog.Warn("chunk ingest failed, skipping",
				"stream", c.opts.Stream, "err", err)
			if c.pipeline.Metrics != nil {
				c.pipeline.Metrics.IngestErrors.Add(ctx, 1)
			}
			continue
		}

		res := c.processChunk(ctx, buf)
		if c.opts.Sink != nil {
			c.opts.Sink(res)
		}
	}
}

// processChunk runs one buffer through filter → extract → threshold →
// classify, updates the condition-duration accumulator, and records the
// outcome in the stream's history buffers.
func (c *Controller) processChunk(ctx context.Context, buf audio.Buffer) classify.Result {
	c.state.Store(int32(StateProcessing))
	start := time.Now()

	byBand := make(map[string]audio.Buffer)
	for _, band := range c.pipeline.Bank.Bands() {
		filtered, err := c.pipeline.Bank.Apply(buf, band)
		if err != nil {
			// Bands are validated at open time, so this is limited to
			// pathological per-chunk sample-rate changes. Skip the band.
			slog.Warn("band filter failed", "stream", c.opts.Stream, "band", band, "err", err)
			continue
		}
		byBand[band] = filtered
	}

	batch := c.pipeline.Extractor.ExtractBatch(ctx, buf, byBand)

	tc := c.opts.Provider.ThresholdContext()
	th := c.pipeline.Calculator.Compute(tc, c.opts.History)

	// Accumulate condition duration across consecutive loud chunks.
	if batch.Broadband.DecibelLevel > th.Value {
		c.conditionSec += buf.Seconds()
	} else {
		c.conditionSec = 0
	}
	duration := c.conditionSec
	if c.opts.DurationOverrideSec > 0 {
		duration = c.opts.DurationOverrideSec
	}

	res := c.pipeline.Classifier.Classify(batch.Broadband, th, duration)
	res.Stream = c.opts.Stream
	res.Degraded = res.Degraded || batch.Degraded

	c.pipeline.Calculator.Record(c.opts.History, th, batch.Broadband.DecibelLevel, res.Timestamp)
	c.opts.Log.Append(res)

	if c.pipeline.Metrics != nil {
		c.pipeline.Metrics.ObserveChunk(ctx, time.Since(start), res)
	}
	return res
}
