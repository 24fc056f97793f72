package service

// DefaultRingSize bounds the in-memory tail of recent log lines kept per
// running service.
const DefaultRingSize = 500

// Ring is a fixed-capacity buffer of log lines; appending beyond capacity
// evicts the oldest line. Not safe for concurrent use, callers synchronize.
type Ring struct {
	buf  []string
	head int
	n    int
}

// NewRing returns a ring holding at most capacity lines. Non-positive
// capacities fall back to DefaultRingSize.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{buf: make([]string, capacity)}
}

// Append adds lines in order, evicting the oldest when full.
func (r *Ring) Append(lines ...string) {
	for _, ln := range lines {
		idx := (r.head + r.n) % len(r.buf)
		r.buf[idx] = ln
		if r.n < len(r.buf) {
			r.n++
		} else {
			r.head = (r.head + 1) % len(r.buf)
		}
	}
}

// Tail returns up to n of the most recent lines in arrival order.
// n <= 0 returns everything retained. The result is a fresh slice.
func (r *Ring) Tail(n int) []string {
	if n <= 0 || n > r.n {
		n = r.n
	}
	out := make([]string, n)
	start := r.n - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of lines currently retained.
func (r *Ring) Len() int { return r.n }
