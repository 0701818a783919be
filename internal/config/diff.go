package config

// DiffResult describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked; sample-rate or band changes
// require a restart because designed filter coefficients and open streams
// depend on them.
type DiffResult struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ThresholdChanged is set when base/min/max changed. Applies on the
	// next Compute call per stream.
	ThresholdChanged bool

	// PatternsChanged is set when the signature catalog changed. The
	// classifier is rebuilt for subsequent chunks.
	PatternsChanged bool

	StreamsChanged bool
	StreamChanges  []StreamDiff
}

// StreamDiff describes what changed for a single stream between two configs.
type StreamDiff struct {
	Name           string
	ContextChanged bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) DiffResult {
	d := DiffResult{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Threshold tuning
	if old.Threshold != new.Threshold {
		d.ThresholdChanged = true
	}

	// Pattern catalog
	if len(old.Patterns) != len(new.Patterns) {
		d.PatternsChanged = true
	} else {
		for i := range old.Patterns {
			if old.Patterns[i] != new.Patterns[i] {
				d.PatternsChanged = true
				break
			}
		}
	}

	// Build stream lookup maps keyed by name.
	oldStreams := make(map[string]*StreamConfig, len(old.Streams))
	for i := range old.Streams {
		oldStreams[old.Streams[i].Name] = &old.Streams[i]
	}
	newStreams := make(map[string]*StreamConfig, len(new.Streams))
	for i := range new.Streams {
		newStreams[new.Streams[i].Name] = &new.Streams[i]
	}

	// Detect modified and removed streams.
	for name, oldS := range oldStreams {
		newS, exists := newStreams[name]
		if !exists {
			d.StreamChanges = append(d.StreamChanges, StreamDiff{
				Name:    name,
				Removed: true,
			})
			d.StreamsChanged = true
			continue
		}
		if oldS.Context != newS.Context {
			d.StreamChanges = append(d.StreamChanges, StreamDiff{
				Name:           name,
				ContextChanged: true,
			})
			d.StreamsChanged = true
		}
	}

	// Detect added streams.
	for name := range newStreams {
		if _, exists := oldStreams[name]; !exists {
			d.StreamChanges = append(d.StreamChanges, StreamDiff{
				Name:  name,
				Added: true,
			})
			d.StreamsChanged = true
		}
	}

	return d
}
