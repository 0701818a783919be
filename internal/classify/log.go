package classify

// DefaultLogCapacity bounds the failure log when the config leaves it zero.
const DefaultLogCapacity = 500

// FailureLog is a bounded append-only ring of detection [Result] values,
// used for report export and as learning input to later threshold
// computations. One stream owns one log; appends are sequential, so no
// locking is needed.
type FailureLog struct {
	entries []Result
	head    int
	full    bool
}

// NewFailureLog creates a ring with the given capacity (≤0 means
// [DefaultLogCapacity]).
func NewFailureLog(capacity int) *FailureLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &FailureLog{entries: make([]Result, capacity)}
}

// Append records r, evicting the oldest entry when full.
func (l *FailureLog) Append(r Result) {
	l.entries[l.head] = r
	l.head = (l.head + 1) % len(l.entries)
	if l.head == 0 {
		l.full = true
	}
}

// Len returns the number of retained results.
func (l *FailureLog) Len() int {
	if l.full {
		return len(l.entries)
	}
	return l.head
}

// Recent returns up to n results, newest first.
func (l *FailureLog) Recent(n int) []Result {
	count := l.Len()
	if n > count {
		n = count
	}
	out := make([]Result, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.head - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}
