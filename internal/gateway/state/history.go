package state

import "time"

// Record is one entry of the telemetry history.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Data      Delta     `json:"data"`
}

// ring keeps the most recent records, evicting the oldest once full.
type ring struct {
	buf   []Record
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]Record, capacity)}
}

func (r *ring) push(rec Record) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = rec
		r.n++
		return
	}
	r.buf[r.start] = rec
	r.start = (r.start + 1) % len(r.buf)
}

// items returns the records oldest first.
func (r *ring) items() []Record {
	out := make([]Record, r.n)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int { return r.n }

func (r *ring) capacity() int { return len(r.buf) }
