package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop cancels the callback and reports whether it was still pending.
	Stop() bool
}

// Host supplies time and the two primitives the scheduler needs from its
// environment. Callbacks must run on the goroutine that owns the scheduler.
type Host interface {
	Now() time.Time
	// AfterFunc calls f once after d.
	AfterFunc(d time.Duration, f func()) Timer
	// RequestRefresh calls f at the next display refresh.
	RequestRefresh(f func()) Timer
}

type manualTimer struct {
	when   time.Time
	seq    int
	f      func()
	active bool
}

func (t *manualTimer) Stop() bool {
	was := t.active
	t.active = false
	return was
}

// ManualHost is a deterministic Host. Time only moves when told to and
// refresh callbacks only run on Refresh.
type ManualHost struct {
	now     time.Time
	seq     int
	timers  []*manualTimer
	refresh []*manualTimer
}

// NewManualHost returns a host whose clock starts at start.
func NewManualHost(start time.Time) *ManualHost {
	return &ManualHost{now: start}
}

func (h *ManualHost) Now() time.Time {
	return h.now
}

func (h *ManualHost) AfterFunc(d time.Duration, f func()) Timer {
	h.seq++
	t := &manualTimer{when: h.now.Add(d), seq: h.seq, f: f, active: true}
	h.timers = append(h.timers, t)
	return t
}

func (h *ManualHost) RequestRefresh(f func()) Timer {
	h.seq++
	t := &manualTimer{seq: h.seq, f: f, active: true}
	h.refresh = append(h.refresh, t)
	return t
}

// Elapse moves the clock without firing anything. Draw callbacks use it to
// simulate work that takes time.
func (h *ManualHost) Elapse(d time.Duration) {
	h.now = h.now.Add(d)
}

// Advance moves the clock by d, firing due timers in deadline order.
func (h *ManualHost) Advance(d time.Duration) {
	end := h.now.Add(d)
	for {
		t := h.nextTimer()
		if t == nil || t.when.After(end) {
			break
		}
		if t.when.After(h.now) {
			h.now = t.when
		}
		t.active = false
		t.f()
	}
	if end.After(h.now) {
		h.now = end
	}
}

func (h *ManualHost) nextTimer() *manualTimer {
	live := h.timers[:0]
	for _, t := range h.timers {
		if t.active {
			live = append(live, t)
		}
	}
	h.timers = live
	if len(h.timers) == 0 {
		return nil
	}
	sort.Slice(h.timers, func(i, j int) bool {
		if h.timers[i].when.Equal(h.timers[j].when) {
			return h.timers[i].seq < h.timers[j].seq
		}
		return h.timers[i].when.Before(h.timers[j].when)
	})
	return h.timers[0]
}

// Refresh runs the callbacks requested before this call and returns how many
// ran. Callbacks requested while it runs wait for the next Refresh.
func (h *ManualHost) Refresh() int {
	queued := h.refresh
	h.refresh = nil
	n := 0
	for _, t := range queued {
		if !t.active {
			continue
		}
		t.active = false
		t.f()
		n++
	}
	return n
}

// PendingTimers returns the number of armed timers.
func (h *ManualHost) PendingTimers() int {
	n := 0
	for _, t := range h.timers {
		if t.active {
			n++
		}
	}
	return n
}

// PendingRefreshes returns the number of queued refresh callbacks.
func (h *ManualHost) PendingRefreshes() int {
	n := 0
	for _, t := range h.refresh {
		if t.active {
			n++
		}
	}
	return n
}

// Settle alternates refreshes and timer expiry until nothing is due within
// limit of the current time.
func (h *ManualHost) Settle(limit time.Duration) {
	end := h.now.Add(limit)
	for {
		if h.PendingRefreshes() > 0 {
			h.Refresh()
			continue
		}
		t := h.nextTimer()
		if t == nil || t.when.After(end) {
			return
		}
		h.Advance(t.when.Sub(h.now))
	}
}

type realtimeTimer struct {
	host   *RealtimeHost
	timer  *time.Timer
	f      func()
	active bool
}

func (t *realtimeTimer) Stop() bool {
	t.host.mu.Lock()
	defer t.host.mu.Unlock()
	was := t.active
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
	}
	return was
}

// RealtimeHost runs on the wall clock. Timer callbacks and refresh callbacks
// are queued and only run from Pump, which the render loop calls once per
// displayed frame, so every callback runs on the render goroutine.
type RealtimeHost struct {
	mu      sync.Mutex
	ready   []*realtimeTimer
	refresh []*realtimeTimer
	wake    chan struct{}
}

// NewRealtimeHost returns a wall-clock host.
func NewRealtimeHost() *RealtimeHost {
	return &RealtimeHost{wake: make(chan struct{}, 1)}
}

func (h *RealtimeHost) Now() time.Time {
	return time.Now()
}

func (h *RealtimeHost) AfterFunc(d time.Duration, f func()) Timer {
	t := &realtimeTimer{host: h, f: f, active: true}
	h.mu.Lock()
	defer h.mu.Unlock()
	t.timer = time.AfterFunc(d, func() {
		h.mu.Lock()
		if t.active {
			h.ready = append(h.ready, t)
		}
		h.mu.Unlock()
		h.signal()
	})
	return t
}

func (h *RealtimeHost) RequestRefresh(f func()) Timer {
	t := &realtimeTimer{host: h, f: f, active: true}
	h.mu.Lock()
	h.refresh = append(h.refresh, t)
	h.mu.Unlock()
	h.signal()
	return t
}

func (h *RealtimeHost) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Wake is signaled whenever a callback becomes runnable. Loops that block
// waiting for events can select on it.
func (h *RealtimeHost) Wake() <-chan struct{} {
	return h.wake
}

// Pump runs expired timers and then the refresh callbacks queued before the
// call. It returns the number of callbacks run.
func (h *RealtimeHost) Pump() int {
	h.mu.Lock()
	batch := append(h.ready, h.refresh...)
	h.ready = nil
	h.refresh = nil
	h.mu.Unlock()

	n := 0
	for _, t := range batch {
		h.mu.Lock()
		run := t.active
		t.active = false
		h.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}
