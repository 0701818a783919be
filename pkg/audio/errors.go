package audio

import (
	"errors"
	"fmt"
)

// ErrIngestTimeout is returned by a [ChunkSource] when a chunk read exceeds
// the configured timeout. The chunk is lost but the stream remains usable.
var ErrIngestTimeout = errors.New("audio: chunk read timed out")

// ErrStreamEnded is returned by a [ChunkSource] when the underlying source
// has no further audio. It plays the role io.EOF plays for readers.
var ErrStreamEnded = errors.New("audio: stream ended")

// IngestError wraps a transient I/O failure while reading a chunk. Callers
// skip the affected chunk and continue the stream.
type IngestError struct {
	// Source identifies the failing source (file path, device name, …).
	Source string

	// Err is the underlying failure.
	Err error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("audio: ingest from %s: %v", e.Source, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }
