package resource

import (
	"testing"
	"time"

	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/graphics/graphicstest"
	"github.com/richinsley/darkroom/softgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newPool(t *testing.T, capacity int, floatTargets bool) (*Pool, *softgpu.Device, *fakeClock) {
	t.Helper()
	dev := softgpu.New(softgpu.Options{Width: 4, Height: 4, FloatTargets: floatTargets})
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	p := NewPool(dev, Config{Capacity: capacity, IdleTTL: time.Second, Clock: clk.Now})
	return p, dev, clk
}

func TestAcquireHitAfterRelease(t *testing.T) {
	p, _, _ := newPool(t, 4, true)

	a, err := p.Acquire(8, 8, graphics.FormatRGBA16F)
	require.NoError(t, err)
	p.Release(a.Framebuffer)

	b, err := p.Acquire(8, 8, graphics.FormatRGBA16F)
	require.NoError(t, err)
	assert.Same(t, a, b)

	s := p.Stats()
	assert.Equal(t, 1, s.Hits)
	assert.Equal(t, 1, s.Misses)
	assert.Equal(t, 1, s.Live)
	assert.Equal(t, 1, s.InUse)
}

func TestInUseEntriesNeverAlias(t *testing.T) {
	p, _, _ := newPool(t, 4, true)

	seen := map[graphics.FramebufferID]bool{}
	for i := 0; i < 6; i++ {
		e, err := p.Acquire(16, 16, graphics.FormatRGBA16F)
		require.NoError(t, err)
		require.False(t, seen[e.Framebuffer], "framebuffer %d handed out twice", e.Framebuffer)
		seen[e.Framebuffer] = true
	}
	// everything is in use so the pool tracked past its capacity
	s := p.Stats()
	assert.Equal(t, 6, s.Live)
	assert.Equal(t, 2, s.OverCapacity)
}

func TestDifferentKeysMiss(t *testing.T) {
	p, _, _ := newPool(t, 4, true)

	a, err := p.Acquire(8, 8, graphics.FormatRGBA16F)
	require.NoError(t, err)
	p.Release(a.Framebuffer)

	b, err := p.Acquire(8, 4, graphics.FormatRGBA16F)
	require.NoError(t, err)
	c, err := p.Acquire(8, 8, graphics.FormatRGBA8)
	require.NoError(t, err)
	assert.NotEqual(t, a.Framebuffer, b.Framebuffer)
	assert.NotEqual(t, a.Framebuffer, c.Framebuffer)
	assert.Equal(t, 3, p.Stats().Misses)
}

func TestAtCapacityEvictsOldestIdle(t *testing.T) {
	p, dev, clk := newPool(t, 2, true)

	a, err := p.Acquire(4, 4, graphics.FormatRGBA8)
	require.NoError(t, err)
	clk.Advance(time.Millisecond)
	b, err := p.Acquire(5, 5, graphics.FormatRGBA8)
	require.NoError(t, err)
	p.Release(a.Framebuffer)
	clk.Advance(time.Millisecond)
	p.Release(b.Framebuffer)

	_, err = p.Acquire(6, 6, graphics.FormatRGBA8)
	require.NoError(t, err)

	s := p.Stats()
	assert.Equal(t, 2, s.Live)
	assert.Equal(t, 1, s.Evictions)
	_, _, fbs := dev.Live()
	assert.Equal(t, 2, fbs)

	// b survived, a was evicted
	hit, err := p.Acquire(5, 5, graphics.FormatRGBA8)
	require.NoError(t, err)
	assert.Same(t, b, hit)
}

func TestSweepReclaimsIdleAfterTTL(t *testing.T) {
	p, dev, clk := newPool(t, 8, true)

	a, err := p.Acquire(4, 4, graphics.FormatRGBA8)
	require.NoError(t, err)
	_, err = p.Acquire(4, 4, graphics.FormatRGBA8)
	require.NoError(t, err)
	p.Release(a.Framebuffer)

	assert.Zero(t, p.Sweep(clk.Now()))
	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, p.Sweep(clk.Now()))

	s := p.Stats()
	assert.Equal(t, 1, s.Live)
	assert.Equal(t, 1, s.InUse)
	_, tex, fbs := dev.Live()
	assert.Equal(t, 1, tex)
	assert.Equal(t, 1, fbs)
}

func TestSweepBoundsLivePlusIdle(t *testing.T) {
	p, _, clk := newPool(t, 2, true)

	var fbs []graphics.FramebufferID
	for i := 0; i < 4; i++ {
		e, err := p.Acquire(4+i, 4, graphics.FormatRGBA8)
		require.NoError(t, err)
		fbs = append(fbs, e.Framebuffer)
		clk.Advance(time.Millisecond)
	}
	for _, fb := range fbs {
		p.Release(fb)
	}
	assert.Equal(t, 2, p.Sweep(clk.Now()))
	assert.Equal(t, 2, p.Stats().Live)
}

func TestFloatDowngrade(t *testing.T) {
	p, _, _ := newPool(t, 4, false)
	assert.True(t, p.Degraded())

	e, err := p.Acquire(4, 4, graphics.FormatRGBA16F)
	require.NoError(t, err)
	assert.Equal(t, graphics.FormatRGBA8, e.Format)
	assert.Equal(t, graphics.FormatRGBA8, p.Format(graphics.FormatRGBA32F))
}

func TestFloatProbeFailureDegrades(t *testing.T) {
	dev := graphicstest.Wrap(softgpu.New(softgpu.Options{Width: 1, Height: 1, FloatTargets: true}))
	dev.FailFloatTargets = true
	p := NewPool(dev, DefaultConfig())
	assert.True(t, p.Degraded())
}

func TestCreationFailureCleansUp(t *testing.T) {
	sw := softgpu.New(softgpu.Options{Width: 1, Height: 1, FloatTargets: true})
	dev := graphicstest.Wrap(sw)
	p := NewPool(dev, DefaultConfig())

	dev.FailTargets = true
	_, err := p.Acquire(4, 4, graphics.FormatRGBA8)
	assert.ErrorIs(t, err, ErrResourceCreation)
	assert.ErrorIs(t, err, graphics.ErrIncompleteTarget)

	_, tex, fbs := sw.Live()
	assert.Zero(t, tex)
	assert.Zero(t, fbs)
	assert.Zero(t, p.Stats().Live)
}

func TestDisposeAndReset(t *testing.T) {
	p, dev, _ := newPool(t, 4, true)
	_, err := p.Acquire(4, 4, graphics.FormatRGBA8)
	require.NoError(t, err)

	p.Dispose()
	_, tex, fbs := dev.Live()
	assert.Zero(t, tex+fbs)
	assert.Zero(t, p.Stats().Live)

	_, err = p.Acquire(4, 4, graphics.FormatRGBA8)
	require.NoError(t, err)
	p.Reset()
	assert.Zero(t, p.Stats().Live)
}
