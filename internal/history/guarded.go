package history

import (
	"context"
	"log/slog"

	"github.com/vantberg/frigoscope/internal/classify"
	"github.com/vantberg/frigoscope/internal/resilience"
	"github.com/vantberg/frigoscope/internal/threshold"
)

// Guarded wraps a primary [Store] with a circuit breaker and an in-memory
// fallback. Writes that fail (or are rejected while the breaker is open) are
// redirected to the fallback so the detection loop never blocks on a sick
// database. Reads prefer the primary and fall back on error.
type Guarded struct {
	primary  Store
	fallback *MemStore
	breaker  *resilience.Breaker
}

// Compile-time interface check.
var _ Store = (*Guarded)(nil)

// NewGuarded wraps primary with the given breaker. A nil breaker gets
// default settings.
func NewGuarded(primary Store, breaker *resilience.Breaker) *Guarded {
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "history"})
	}
	return &Guarded{
		primary:  primary,
		fallback: NewMemStore(),
		breaker:  breaker,
	}
}

// SaveThreshold writes to the primary store through the breaker, spilling to
// the in-memory fallback if the primary is unavailable.
func (g *Guarded) SaveThreshold(ctx context.Context, stream string, e threshold.Entry) error {
	err := g.breaker.Do(func() error {
		return g.primary.SaveThreshold(ctx, stream, e)
	})
	if err != nil {
		slog.Warn("threshold write degraded to memory",
			"stream", stream, "error", err)
		return g.fallback.SaveThreshold(ctx, stream, e)
	}
	return nil
}

// SaveDetection writes to the primary store through the breaker, spilling to
// the in-memory fallback if the primary is unavailable.
func (g *Guarded) SaveDetection(ctx context.Context, stream string, r classify.Result) error {
	err := g.breaker.Do(func() error {
		return g.primary.SaveDetection(ctx, stream, r)
	})
	if err != nil {
		slog.Warn("detection write degraded to memory",
			"stream", stream, "error", err)
		return g.fallback.SaveDetection(ctx, stream, r)
	}
	return nil
}

// RecentThresholds reads from the primary, falling back to entries spilled
// into memory when the primary errors.
func (g *Guarded) RecentThresholds(ctx context.Context, stream string, limit int) ([]threshold.Entry, error) {
	var out []threshold.Entry
	err := g.breaker.Do(func() error {
		var inner error
		out, inner = g.primary.RecentThresholds(ctx, stream, limit)
		return inner
	})
	if err != nil {
		return g.fallback.RecentThresholds(ctx, stream, limit)
	}
	return out, nil
}

// RecentDetections reads from the primary, falling back to results spilled
// into memory when the primary errors.
func (g *Guarded) RecentDetections(ctx context.Context, stream string, limit int) ([]classify.Result, error) {
	var out []classify.Result
	err := g.breaker.Do(func() error {
		var inner error
		out, inner = g.primary.RecentDetections(ctx, stream, limit)
		return inner
	})
	if err != nil {
		return g.fallback.RecentDetections(ctx, stream, limit)
	}
	return out, nil
}

// Prune prunes both the primary and the fallback. A primary failure is
// reported but does not prevent fallback pruning.
func (g *Guarded) Prune(ctx context.Context, keep int) error {
	err := g.breaker.Do(func() error {
		return g.primary.Prune(ctx, keep)
	})
	if ferr := g.fallback.Prune(ctx, keep); ferr != nil {
		return ferr
	}
	return err
}

// Close closes the primary store.
func (g *Guarded) Close() error {
	return g.primary.Close()
}
