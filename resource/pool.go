// Package resource pools GPU render targets keyed by size and format.
package resource

import (
	"errors"
	"fmt"
	"time"

	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/logging"
)

// ErrResourceCreation is returned when a render target cannot be allocated
// or is incomplete. The caller decides what to do; the pool never retries.
var ErrResourceCreation = errors.New("resource: render target creation failed")

// Config controls pool sizing and reclamation.
type Config struct {
	// Capacity is the soft bound on tracked entries.
	Capacity int
	// IdleTTL is how long an idle entry survives a sweep.
	IdleTTL time.Duration
	// SweepInterval is how often owners should call Sweep.
	SweepInterval time.Duration
	// Clock returns the current time; nil means time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:      16,
		IdleTTL:       30 * time.Second,
		SweepInterval: 10 * time.Second,
	}
}

// Entry is one pooled render target.
type Entry struct {
	Framebuffer graphics.FramebufferID
	Texture     graphics.TextureID
	Width       int
	Height      int
	Format      graphics.Format
	LastUsed    time.Time
	InUse       bool
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Hits         int
	Misses       int
	Evictions    int
	Live         int
	InUse        int
	OverCapacity int
}

// Pool hands out render targets without ever giving the same in-use entry to
// two callers. It is not safe for concurrent use.
type Pool struct {
	device   graphics.Device
	cfg      Config
	entries  []*Entry
	floatOK  bool
	degraded bool
	warned   map[graphics.Format]bool
	stats    Stats
}

// NewPool creates a pool on device and probes float target support once.
func NewPool(device graphics.Device, cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	p := &Pool{device: device, cfg: cfg, warned: make(map[graphics.Format]bool)}
	p.floatOK = p.probeFloat()
	if !p.floatOK {
		p.degraded = true
		logging.Logger().Warn("resource: float render targets unsupported, using 8-bit targets")
	}
	return p
}

func (p *Pool) probeFloat() bool {
	if !p.device.Info().FloatTargets {
		return false
	}
	tex, fb, err := p.create(1, 1, graphics.FormatRGBA16F)
	if err != nil {
		return false
	}
	p.device.DeleteFramebuffer(fb)
	p.device.DeleteTexture(tex)
	return true
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// Degraded reports whether float formats are being downgraded.
func (p *Pool) Degraded() bool {
	return p.degraded
}

// Format returns the format Acquire will actually allocate for f.
func (p *Pool) Format(f graphics.Format) graphics.Format {
	if f.IsFloat() && !p.floatOK {
		return graphics.FormatRGBA8
	}
	return f
}

func (p *Pool) create(w, h int, f graphics.Format) (graphics.TextureID, graphics.FramebufferID, error) {
	tex, err := p.device.CreateTexture(w, h, f)
	if err != nil {
		return 0, 0, err
	}
	fb, err := p.device.CreateFramebuffer()
	if err != nil {
		p.device.DeleteTexture(tex)
		return 0, 0, err
	}
	if err := p.device.AttachTexture(fb, tex); err != nil {
		p.device.DeleteFramebuffer(fb)
		p.device.DeleteTexture(tex)
		return 0, 0, err
	}
	if err := p.device.FramebufferStatus(fb); err != nil {
		p.device.DeleteFramebuffer(fb)
		p.device.DeleteTexture(tex)
		return 0, 0, err
	}
	return tex, fb, nil
}

// Acquire returns an idle entry matching (w, h, format), allocating one on a
// miss. The entry stays in use until Release.
func (p *Pool) Acquire(w, h int, format graphics.Format) (*Entry, error) {
	actual := p.Format(format)
	if actual != format && !p.warned[format] {
		p.warned[format] = true
		logging.Logger().Warn("resource: downgrading render target format",
			"requested", format.String(),
			"actual", actual.String(),
		)
	}
	now := p.cfg.Clock()
	for _, e := range p.entries {
		if !e.InUse && e.Width == w && e.Height == h && e.Format == actual {
			e.InUse = true
			e.LastUsed = now
			p.stats.Hits++
			return e, nil
		}
	}

	p.stats.Misses++
	if len(p.entries) >= p.cfg.Capacity {
		p.evictOldestIdle()
	}
	tex, fb, err := p.create(w, h, actual)
	if err != nil {
		return nil, fmt.Errorf("%w: %dx%d %s: %w", ErrResourceCreation, w, h, actual, err)
	}
	e := &Entry{
		Framebuffer: fb,
		Texture:     tex,
		Width:       w,
		Height:      h,
		Format:      actual,
		LastUsed:    now,
		InUse:       true,
	}
	p.entries = append(p.entries, e)
	if len(p.entries) > p.cfg.Capacity {
		p.stats.OverCapacity++
		logging.Logger().Debug("resource: pool over capacity",
			"live", len(p.entries),
			"capacity", p.cfg.Capacity,
		)
	}
	logging.Logger().Debug("resource: pool miss", "width", w, "height", h, "format", actual.String())
	return e, nil
}

func (p *Pool) evictOldestIdle() {
	idx := -1
	for i, e := range p.entries {
		if e.InUse {
			continue
		}
		if idx < 0 || e.LastUsed.Before(p.entries[idx].LastUsed) {
			idx = i
		}
	}
	if idx >= 0 {
		p.remove(idx)
	}
}

func (p *Pool) remove(i int) {
	e := p.entries[i]
	p.device.DeleteFramebuffer(e.Framebuffer)
	p.device.DeleteTexture(e.Texture)
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	p.stats.Evictions++
}

// Release returns the entry owning fb to the idle set. GPU resources are kept.
func (p *Pool) Release(fb graphics.FramebufferID) {
	for _, e := range p.entries {
		if e.Framebuffer == fb {
			e.InUse = false
			e.LastUsed = p.cfg.Clock()
			return
		}
	}
}

// Sweep deletes idle entries unused for longer than IdleTTL, then idle
// entries beyond capacity, oldest first. It returns how many were deleted.
func (p *Pool) Sweep(now time.Time) int {
	n := 0
	for i := 0; i < len(p.entries); {
		e := p.entries[i]
		if !e.InUse && now.Sub(e.LastUsed) > p.cfg.IdleTTL {
			p.remove(i)
			n++
			continue
		}
		i++
	}
	for len(p.entries) > p.cfg.Capacity {
		before := len(p.entries)
		p.evictOldestIdle()
		if len(p.entries) == before {
			break
		}
		n++
	}
	if n > 0 {
		logging.Logger().Debug("resource: sweep", "deleted", n, "live", len(p.entries))
	}
	return n
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	s := p.stats
	s.Live = len(p.entries)
	for _, e := range p.entries {
		if e.InUse {
			s.InUse++
		}
	}
	return s
}

// Reset forgets every entry without touching the device. Use it after the
// context that owned the handles is gone.
func (p *Pool) Reset() {
	p.entries = nil
}

// Dispose deletes every entry.
func (p *Pool) Dispose() {
	for _, e := range p.entries {
		p.device.DeleteFramebuffer(e.Framebuffer)
		p.device.DeleteTexture(e.Texture)
	}
	p.entries = nil
}
