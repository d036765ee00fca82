package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batch = 16 * time.Millisecond

func newTestScheduler(draw func(h *ManualHost)) (*Scheduler, *ManualHost, *int) {
	h := NewManualHost(time.Unix(1_700_000_000, 0))
	n := new(int)
	s := New(h, DefaultConfig(), func() {
		*n++
		if draw != nil {
			draw(h)
		}
	})
	return s, h, n
}

// frame advances past the batch window and runs one refresh.
func frame(h *ManualHost) {
	h.Advance(batch)
	h.Refresh()
}

func TestRequestsInsideBatchWindowCoalesce(t *testing.T) {
	s, h, draws := newTestScheduler(nil)

	for i := 0; i < 10; i++ {
		s.RequestFrame()
		h.Advance(time.Millisecond)
	}
	assert.Equal(t, Batching, s.State())
	h.Advance(batch)
	assert.Equal(t, Rendering, s.State())
	assert.Equal(t, 1, h.Refresh())

	assert.Equal(t, 1, *draws)
	assert.Equal(t, Idle, s.State())
	// only the fps sampler stays armed, until an interval passes without frames
	assert.Equal(t, 1, h.PendingTimers())
	h.Advance(2 * DefaultConfig().FPSInterval)
	assert.Zero(t, h.PendingTimers())
}

func TestBatchWindowRestartsOnRequest(t *testing.T) {
	s, h, draws := newTestScheduler(nil)

	s.RequestFrame()
	h.Advance(10 * time.Millisecond)
	s.RequestFrame()
	h.Advance(10 * time.Millisecond)
	assert.Equal(t, 0, h.PendingRefreshes())
	h.Advance(10 * time.Millisecond)
	h.Refresh()
	assert.Equal(t, 1, *draws)
}

func TestRequestsDuringRenderingProduceOneFollowUp(t *testing.T) {
	var s *Scheduler
	first := true
	s, h, draws := newTestScheduler(func(h *ManualHost) {
		if first {
			first = false
			for i := 0; i < 5; i++ {
				s.RequestFrame()
			}
			assert.True(t, s.Pending())
		}
	})

	s.RequestFrame()
	frame(h)
	assert.Equal(t, 1, *draws)
	assert.Equal(t, Rendering, s.State())
	assert.Equal(t, 1, h.PendingRefreshes())

	h.Refresh()
	assert.Equal(t, 2, *draws)
	assert.Equal(t, Idle, s.State())
	assert.False(t, s.Pending())
}

func TestSlowFramesSkipNextDraw(t *testing.T) {
	s, h, draws := newTestScheduler(func(h *ManualHost) {
		h.Elapse(50 * time.Millisecond)
	})

	s.RequestFrame()
	frame(h)
	s.RequestFrame()
	frame(h)
	require.Equal(t, 2, *draws)
	assert.True(t, s.Degraded())

	s.RequestFrame()
	frame(h)
	assert.Equal(t, 2, *draws, "skipped frame must not invoke the callback")
	assert.Equal(t, 1, s.Stats().DroppedFrames)

	// the skip schedules a fresh batch so the latest state still lands
	assert.Equal(t, Batching, s.State())
	frame(h)
	assert.Equal(t, 3, *draws)
	assert.Equal(t, 3, s.Stats().TotalFrames)
}

func TestFastFrameResetsSlowCounter(t *testing.T) {
	slow := true
	s, h, draws := newTestScheduler(func(h *ManualHost) {
		if slow {
			h.Elapse(50 * time.Millisecond)
		}
		slow = !slow
	})
	for i := 0; i < 6; i++ {
		s.RequestFrame()
		frame(h)
	}
	assert.Equal(t, 6, *draws)
	assert.Zero(t, s.Stats().DroppedFrames)
}

func TestCancelPending(t *testing.T) {
	s, h, draws := newTestScheduler(nil)

	s.RequestFrame()
	s.CancelPending()
	h.Advance(time.Second)
	h.Refresh()
	assert.Zero(t, *draws)

	s.RequestFrame()
	h.Advance(batch)
	s.CancelPending()
	h.Refresh()
	assert.Zero(t, *draws)
	assert.Equal(t, Idle, s.State())
}

func TestPanicInDrawIsRecovered(t *testing.T) {
	s, h, draws := newTestScheduler(func(*ManualHost) { panic("boom") })

	s.RequestFrame()
	assert.NotPanics(t, func() { frame(h) })
	assert.Equal(t, 1, *draws)
	assert.Equal(t, Idle, s.State())

	s.RequestFrame()
	frame(h)
	assert.Equal(t, 2, *draws)
}

func TestDisposeIgnoresLaterRequests(t *testing.T) {
	s, h, draws := newTestScheduler(nil)
	s.RequestFrame()
	s.Dispose()
	s.RequestFrame()
	h.Advance(time.Second)
	h.Refresh()
	assert.Zero(t, *draws)
}

func TestFPSResampling(t *testing.T) {
	s, h, _ := newTestScheduler(func(h *ManualHost) {
		h.Elapse(10 * time.Millisecond)
	})
	for i := 0; i < 30; i++ {
		s.RequestFrame()
		frame(h)
	}
	// each frame spans a 16ms batch plus 10ms of drawing
	assert.InDelta(t, 1000.0/26, s.FPS(), 2)

	p := s.Stats()
	assert.Equal(t, 10*time.Millisecond, p.LastFrameTime)
	assert.Equal(t, 10*time.Millisecond, p.AverageFrameTime)
	assert.InDelta(t, 100, p.AverageFPS, 0.001)
	assert.False(t, p.Degraded)
}

func TestFPSDecaysWhenIdle(t *testing.T) {
	s, h, _ := newTestScheduler(func(h *ManualHost) {
		h.Elapse(10 * time.Millisecond)
	})
	for i := 0; i < 100; i++ {
		s.RequestFrame()
		frame(h)
	}
	assert.InDelta(t, 1000.0/26, s.FPS(), 2)

	h.Advance(10 * time.Second)
	assert.Zero(t, s.FPS())
	assert.Zero(t, h.PendingTimers())

	// the idle gap is not folded into the next sample
	s.RequestFrame()
	frame(h)
	h.Advance(DefaultConfig().FPSInterval)
	assert.InDelta(t, 1000.0/510, s.FPS(), 0.01)
	h.Advance(DefaultConfig().FPSInterval)
	assert.Zero(t, s.FPS())
}

func TestDisposeStopsFPSSampler(t *testing.T) {
	s, h, _ := newTestScheduler(nil)
	s.RequestFrame()
	frame(h)
	require.Equal(t, 1, h.PendingTimers())
	s.Dispose()
	assert.Zero(t, h.PendingTimers())
}

func TestRingMean(t *testing.T) {
	r := newRing(3)
	assert.Zero(t, r.mean())
	for _, d := range []time.Duration{1, 2, 3, 10} {
		r.push(d * time.Millisecond)
	}
	assert.Equal(t, 3, r.len())
	assert.Equal(t, 5*time.Millisecond, r.mean())
}

func TestManualHostSettle(t *testing.T) {
	s, h, draws := newTestScheduler(nil)
	s.RequestFrame()
	h.Settle(100 * time.Millisecond)
	assert.Equal(t, 1, *draws)
	assert.Equal(t, Idle, s.State())
}

func TestRealtimeHostPump(t *testing.T) {
	h := NewRealtimeHost()
	ran := 0
	h.RequestRefresh(func() { ran++ })
	stopped := h.RequestRefresh(func() { ran += 100 })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	assert.Equal(t, 1, h.Pump())

	done := make(chan struct{})
	h.AfterFunc(time.Millisecond, func() { ran += 10; close(done) })
	require.Eventually(t, func() bool {
		h.Pump()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, 11, ran)
}
