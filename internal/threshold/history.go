package threshold

import "time"

// DefaultHistoryCapacity bounds the threshold audit ring when the config
// leaves it zero.
const DefaultHistoryCapacity = 1000

// Entry is one recorded threshold computation with its full breakdown,
// retained for auditing and for the learning adjustment.
type Entry struct {
	// Value is the final clamped threshold.
	Value float64 `json:"value"`

	// Breakdown itemises the additive adjustments behind Value.
	Breakdown Breakdown `json:"breakdown"`

	// ObservedDB is the decibel level of the chunk this threshold was
	// applied to. It feeds the learning adjustment of later computations.
	ObservedDB float64 `json:"observed_db"`

	// ComputedAt is when the computation ran.
	ComputedAt time.Time `json:"computed_at"`
}

// History is a bounded append-only ring of threshold [Entry] values. Oldest
// entries are evicted once capacity is reached. A History instance is owned
// by exactly one stream; appends are sequential, so no locking is needed.
type History struct {
	entries []Entry
	head    int
	full    bool
}

// NewHistory creates a ring with the given capacity (≤0 means
// [DefaultHistoryCapacity]).
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{entries: make([]Entry, capacity)}
}

// Append records e, evicting the oldest entry when full.
func (h *History) Append(e Entry) {
	h.entries[h.head] = e
	h.head = (h.head + 1) % len(h.entries)
	if h.head == 0 {
		h.full = true
	}
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	if h.full {
		return len(h.entries)
	}
	return h.head
}

// Recent returns up to n entries, newest first.
func (h *History) Recent(n int) []Entry {
	count := h.Len()
	if n > count {
		n = count
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.head - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}

// Seed preloads entries (oldest first) into the ring, typically from the
// persistent store after a restart so the learning adjustment does not
// start cold.
func (h *History) Seed(entries []Entry) {
	for _, e := range entries {
		h.Append(e)
	}
}
