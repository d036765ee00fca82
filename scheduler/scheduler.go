// Package scheduler decouples "an edit happened" from "a frame was drawn".
// Requests are batched on a short debounce, coalesced while a frame is in
// flight, and throttled by skipping a frame after sustained slow draws.
package scheduler

import (
	"fmt"
	"time"

	"github.com/richinsley/darkroom/logging"
)

// State of the scheduler.
type State int

const (
	Idle State = iota
	Batching
	Rendering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Batching:
		return "batching"
	case Rendering:
		return "rendering"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config controls batching and throttling.
type Config struct {
	// BatchDelay is the debounce window for RequestFrame.
	BatchDelay time.Duration
	// MinFPS sets the slow frame threshold at 1s/MinFPS.
	MinFPS float64
	// SlowFramesBeforeSkip consecutive slow frames make the next draw skip.
	SlowFramesBeforeSkip int
	// FPSInterval is how often CurrentFPS is resampled.
	FPSInterval time.Duration
	// Samples is the size of the frame time ring buffer.
	Samples int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		BatchDelay:           16 * time.Millisecond,
		MinFPS:               30,
		SlowFramesBeforeSkip: 2,
		FPSInterval:          500 * time.Millisecond,
		Samples:              60,
	}
}

// Performance is a snapshot of frame timing.
type Performance struct {
	CurrentFPS       float64
	AverageFPS       float64
	LastFrameTime    time.Duration
	AverageFrameTime time.Duration
	DroppedFrames    int
	TotalFrames      int
	Degraded         bool
}

// Scheduler drives a draw callback. It is not safe for concurrent use; every
// method and every host callback must run on the owning goroutine.
type Scheduler struct {
	host Host
	cfg  Config
	draw func()

	state    State
	pending  bool
	running  bool
	disposed bool

	batch   Timer
	refresh Timer
	sampler Timer

	slow     int
	skipNext bool

	times      *ring
	dropped    int
	total      int
	last       time.Duration
	fps        float64
	fpsFrames  int
	fpsStarted time.Time
}

// New creates a scheduler that calls draw on host refreshes.
func New(host Host, cfg Config, draw func()) *Scheduler {
	def := DefaultConfig()
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = def.BatchDelay
	}
	if cfg.MinFPS <= 0 {
		cfg.MinFPS = def.MinFPS
	}
	if cfg.SlowFramesBeforeSkip <= 0 {
		cfg.SlowFramesBeforeSkip = def.SlowFramesBeforeSkip
	}
	if cfg.FPSInterval <= 0 {
		cfg.FPSInterval = def.FPSInterval
	}
	if cfg.Samples <= 0 {
		cfg.Samples = def.Samples
	}
	return &Scheduler{host: host, cfg: cfg, draw: draw, times: newRing(cfg.Samples)}
}

// State returns the current state.
func (s *Scheduler) State() State {
	return s.state
}

// Pending reports whether a request arrived while a frame was rendering.
func (s *Scheduler) Pending() bool {
	return s.pending
}

func (s *Scheduler) slowThreshold() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.MinFPS)
}

// RequestFrame asks for a redraw. Requests inside the batch window restart
// it; requests while rendering collapse into one follow-up frame.
func (s *Scheduler) RequestFrame() {
	if s.disposed {
		return
	}
	if s.state == Rendering {
		s.pending = true
		return
	}
	if s.batch != nil {
		s.batch.Stop()
	}
	s.state = Batching
	s.batch = s.host.AfterFunc(s.cfg.BatchDelay, s.onBatch)
}

func (s *Scheduler) onBatch() {
	s.batch = nil
	if s.disposed {
		return
	}
	if s.state == Rendering {
		s.pending = true
		return
	}
	s.state = Rendering
	s.refresh = s.host.RequestRefresh(s.onRefresh)
}

func (s *Scheduler) onRefresh() {
	s.refresh = nil
	if s.disposed {
		return
	}
	if s.skipNext {
		s.skipNext = false
		s.slow = 0
		s.dropped++
		s.pending = false
		s.state = Idle
		logging.Logger().Warn("scheduler: skipping frame after slow draws", "dropped", s.dropped)
		s.RequestFrame()
		return
	}

	start := s.host.Now()
	s.running = true
	s.invoke()
	s.running = false
	end := s.host.Now()
	s.record(start, end.Sub(start))

	if s.disposed {
		return
	}
	if s.pending {
		s.pending = false
		s.refresh = s.host.RequestRefresh(s.onRefresh)
		return
	}
	if s.state == Rendering {
		s.state = Idle
	}
}

func (s *Scheduler) invoke() {
	defer func() {
		if r := recover(); r != nil {
			logging.Logger().Error("scheduler: draw panicked", "panic", fmt.Sprint(r))
		}
	}()
	s.draw()
}

func (s *Scheduler) record(start time.Time, d time.Duration) {
	s.total++
	s.last = d
	s.times.push(d)

	if d > s.slowThreshold() {
		s.slow++
		if s.slow >= s.cfg.SlowFramesBeforeSkip {
			s.skipNext = true
		}
	} else {
		s.slow = 0
	}

	s.fpsFrames++
	if s.sampler == nil && !s.disposed {
		s.fpsStarted = start
		s.sampler = s.host.AfterFunc(s.cfg.FPSInterval, s.resample)
	}
}

// resample runs every FPSInterval while frames are being drawn. An interval
// without frames drops the rate to zero and stops the timer until the next
// frame.
func (s *Scheduler) resample() {
	s.sampler = nil
	if s.disposed {
		return
	}
	now := s.host.Now()
	if s.fpsFrames == 0 {
		s.fps = 0
		return
	}
	if elapsed := now.Sub(s.fpsStarted); elapsed > 0 {
		s.fps = float64(s.fpsFrames) / elapsed.Seconds()
	}
	s.fpsFrames = 0
	s.fpsStarted = now
	s.sampler = s.host.AfterFunc(s.cfg.FPSInterval, s.resample)
}

// CancelPending withdraws the batch timer, any queued refresh and the pending
// flag. A draw already running completes.
func (s *Scheduler) CancelPending() {
	if s.batch != nil {
		s.batch.Stop()
		s.batch = nil
	}
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
	s.pending = false
	if !s.running {
		s.state = Idle
	}
}

// Dispose cancels everything; later requests are ignored.
func (s *Scheduler) Dispose() {
	s.CancelPending()
	if s.sampler != nil {
		s.sampler.Stop()
		s.sampler = nil
	}
	s.disposed = true
}

// FPS returns the frame rate of the last FPSInterval. It falls to zero once
// a whole interval passes without a frame.
func (s *Scheduler) FPS() float64 {
	return s.fps
}

// Degraded reports whether frames are being skipped or the average frame
// time is over the slow threshold.
func (s *Scheduler) Degraded() bool {
	if s.skipNext {
		return true
	}
	return s.times.len() > 0 && s.times.mean() > s.slowThreshold()
}

// Stats returns a performance snapshot.
func (s *Scheduler) Stats() Performance {
	p := Performance{
		CurrentFPS:    s.fps,
		LastFrameTime: s.last,
		DroppedFrames: s.dropped,
		TotalFrames:   s.total,
		Degraded:      s.Degraded(),
	}
	if s.times.len() > 0 {
		p.AverageFrameTime = s.times.mean()
		if p.AverageFrameTime > 0 {
			p.AverageFPS = float64(time.Second) / float64(p.AverageFrameTime)
		}
	}
	return p
}
