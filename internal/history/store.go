// Package history persists recent threshold computations and detection
// results. The persistent log exists for two purposes only: seeding the
// threshold learning adjustment after a restart, and serving report
// exports. It is bounded — Prune keeps the newest N rows per stream.
package history

import (
	"context"

	"github.com/vantberg/frigoscope/internal/classify"
	"github.com/vantberg/frigoscope/internal/threshold"
)

// Store is the persistence interface for detection history. Implementations
// must be safe for concurrent use: multiple streams write through one Store.
type Store interface {
	// SaveThreshold records one threshold computation for stream.
	SaveThreshold(ctx context.Context, stream string, e threshold.Entry) error

	// SaveDetection records one detection result for stream.
	SaveDetection(ctx context.Context, stream string, r classify.Result) error

	// RecentThresholds returns up to limit entries for stream, newest
	// first.
	RecentThresholds(ctx context.Context, stream string, limit int) ([]threshold.Entry, error)

	// RecentDetections returns up to limit results for stream, newest
	// first.
	RecentDetections(ctx context.Context, stream string, limit int) ([]classify.Result, error)

	// Prune drops all but the newest keep rows per stream.
	Prune(ctx context.Context, keep int) error

	// Close releases underlying resources.
	Close() error
}
