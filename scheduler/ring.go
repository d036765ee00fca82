package scheduler

import "time"

// ring is a fixed-size buffer of the most recent frame times.
type ring struct {
	buf  []time.Duration
	next int
	full bool
	sum  time.Duration
}

func newRing(n int) *ring {
	return &ring{buf: make([]time.Duration, n)}
}

func (r *ring) push(d time.Duration) {
	if r.full {
		r.sum -= r.buf[r.next]
	}
	r.buf[r.next] = d
	r.sum += d
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) mean() time.Duration {
	n := r.len()
	if n == 0 {
		return 0
	}
	return r.sum / time.Duration(n)
}
