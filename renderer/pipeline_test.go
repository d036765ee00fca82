package renderer

import (
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/richinsley/darkroom/adjust"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/graphics/graphicstest"
	"github.com/richinsley/darkroom/scheduler"
	"github.com/richinsley/darkroom/shader"
	"github.com/richinsley/darkroom/softgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settle = 100 * time.Millisecond

type fixture struct {
	host    *scheduler.ManualHost
	factory *graphicstest.Factory
	manager *graphics.Manager
	p       *Pipeline
}

func (f *fixture) device() *graphicstest.FaultyDevice {
	return f.factory.Last()
}

func (f *fixture) soft() *softgpu.Device {
	return f.device().Device.(*softgpu.Device)
}

// newFixture builds a pipeline on a software device whose surface is w x h.
// arm runs on the first device before any program is compiled.
func newFixture(t *testing.T, w, h int, opts Options, arm func(*graphicstest.FaultyDevice)) *fixture {
	t.Helper()
	f := &fixture{host: scheduler.NewManualHost(time.Unix(1_700_000_000, 0))}
	f.factory = graphicstest.NewFactory(func() graphics.Device {
		return softgpu.New(softgpu.Options{Width: w, Height: h, FloatTargets: true})
	})
	var err error
	f.manager, err = graphics.NewManager(f.factory.New)
	require.NoError(t, err)
	if arm != nil {
		arm(f.device())
	}
	f.p, err = New(f.manager, nil, f.host, opts)
	require.NoError(t, err)
	t.Cleanup(f.p.Dispose)
	return f
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: uint8((x*37 + y*91) % 256),
				A: 255,
			})
		}
	}
	return img
}

func assertImagesClose(t *testing.T, want, got *image.NRGBA, delta int) {
	t.Helper()
	require.Equal(t, want.Bounds().Size(), got.Bounds().Size())
	b := want.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			w := want.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			g := got.NRGBAAt(x, y)
			ok := absDiff(w.R, g.R) <= delta && absDiff(w.G, g.G) <= delta &&
				absDiff(w.B, g.B) <= delta && w.A == g.A
			if !ok {
				t.Fatalf("pixel (%d,%d): want %v, got %v", x, y, w, g)
			}
		}
	}
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestSubmitBeforeLoadSource(t *testing.T) {
	f := newFixture(t, 8, 8, DefaultOptions(), nil)
	assert.ErrorIs(t, f.p.Submit(adjust.Default()), ErrNotInitialized)
	assert.ErrorIs(t, f.p.RenderNow(adjust.Default()), ErrNotInitialized)
}

func TestIdentityRenderReproducesSource(t *testing.T) {
	img := testImage(16, 12)
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(img))
	require.NoError(t, f.p.RenderNow(adjust.Default()))

	got, err := f.p.ReadPreview()
	require.NoError(t, err)
	assertImagesClose(t, img, got, 1)
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))

	s := adjust.Default()
	s.Tone.Exposure = 0.5
	require.NoError(t, f.p.Submit(s))
	f.host.Settle(settle)
	require.Equal(t, 1, f.p.Frames())
	before := f.p.PassExecutions()

	require.NoError(t, f.p.Submit(s))
	assert.Empty(t, f.p.DirtyPasses())
	assert.Equal(t, scheduler.Idle, f.p.sched.State())
	f.host.Settle(settle)
	assert.Equal(t, 1, f.p.Frames())
	assert.Equal(t, before, f.p.PassExecutions())
}

func TestSubmitWithNaNIsIdempotent(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))
	require.NoError(t, f.p.RenderNow(adjust.Default()))

	s := adjust.Default()
	s.Color.Tint = float32(math.NaN())
	require.NoError(t, f.p.Submit(s))
	assert.Empty(t, f.p.DirtyPasses())
	require.NoError(t, f.p.Submit(s))
	assert.Empty(t, f.p.DirtyPasses())
	assert.Equal(t, scheduler.Idle, f.p.sched.State())
}

func TestDirtyPropagatesDownstreamOnly(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))
	require.NoError(t, f.p.RenderNow(adjust.Default()))

	s := adjust.Default()
	s.Effects.Vignette.Amount = -0.5
	require.NoError(t, f.p.Submit(s))
	assert.Equal(t, []string{"effects", "output"}, f.p.DirtyPasses())

	s.Color.Saturation = 0.3
	require.NoError(t, f.p.Submit(s))
	assert.Equal(t, []string{"color", "channel", "clarity", "detail", "effects", "output"}, f.p.DirtyPasses())

	f.host.Settle(settle)
	ex := f.p.PassExecutions()
	assert.Equal(t, 1, ex["geometry"])
	assert.Equal(t, 1, ex["tonal"])
	assert.Equal(t, 2, ex["color"])
	assert.Equal(t, 2, ex["output"])
	assert.Empty(t, f.p.DirtyPasses())
}

func TestExposureChangeReusesGeometryOutput(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))
	require.NoError(t, f.p.RenderNow(adjust.Default()))
	before, ok := f.p.PassOutput("geometry")
	require.True(t, ok)
	draws := f.soft().Draws(shader.ProgramGeometry)

	s := adjust.Default()
	s.Tone.Exposure = 1
	require.NoError(t, f.p.Submit(s))
	f.host.Settle(settle)

	after, ok := f.p.PassOutput("geometry")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, draws, f.soft().Draws(shader.ProgramGeometry))
	assert.Equal(t, 2, f.p.PassExecutions()["tonal"])
}

func TestOutputOnlyChangeSkipsUpstreamDraws(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))
	require.NoError(t, f.p.RenderNow(adjust.Default()))
	sw := f.soft()
	geometry, tonal := sw.Draws(shader.ProgramGeometry), sw.Draws(shader.ProgramTonal)

	s := adjust.Default()
	s.Output.Gamma = 1.4
	require.NoError(t, f.p.RenderNow(s))
	assert.Equal(t, geometry, sw.Draws(shader.ProgramGeometry))
	assert.Equal(t, tonal, sw.Draws(shader.ProgramTonal))
	assert.Equal(t, 2, sw.Draws(shader.ProgramOutput))

	// upstream outputs are still cached
	_, ok := f.p.PassOutput("effects")
	assert.True(t, ok)
}

func TestSubmitsCoalesceIntoOneFrame(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))

	s := adjust.Default()
	for i := 0; i < 10; i++ {
		s.Tone.Exposure = float32(i) / 10
		require.NoError(t, f.p.Submit(s))
		f.host.Advance(time.Millisecond)
	}
	f.host.Settle(settle)
	assert.Equal(t, 1, f.p.Frames())
	assert.Equal(t, float32(0.9), f.p.State().Tone.Exposure)
}

func TestMissingProgramFailsFrame(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), func(d *graphicstest.FaultyDevice) {
		d.FailCompileNamed = map[string]bool{shader.ProgramTonal: true}
	})
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))

	err := f.p.RenderNow(adjust.Default())
	assert.ErrorIs(t, err, ErrMissingProgram)
	assert.ErrorIs(t, err, graphics.ErrShader)
	assert.Equal(t, 1, f.p.ProgramStats().Failed)

	// the geometry pass ran; everything from tonal on stays dirty
	assert.Equal(t, 1, f.p.PassExecutions()["geometry"])
	assert.Contains(t, f.p.DirtyPasses(), "tonal")
}

func TestFrameErrorsReachObserversAndSchedulerContinues(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))

	var errs []error
	completed := 0
	f.p.OnFrameError(func(err error) { errs = append(errs, err) })
	f.p.OnFrameComplete(func() { completed++ })

	f.device().FailDraw = map[string]bool{shader.ProgramEffects: true}
	require.NoError(t, f.p.Submit(adjust.Default()))
	f.host.Settle(settle)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], graphics.ErrShader)
	assert.Zero(t, completed)

	f.device().FailDraw = nil
	s := adjust.Default()
	s.Detail.Sharpness = 0.4
	require.NoError(t, f.p.Submit(s))
	f.host.Settle(settle)
	assert.Len(t, errs, 1)
	assert.Equal(t, 1, completed)
}

func TestClarityUsesPooledTemporaries(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))

	s := adjust.Default()
	s.Clarity.Amount = 0.6
	s.Clarity.Radius = 3
	require.NoError(t, f.p.RenderNow(s))
	assert.Equal(t, 2, f.soft().Draws(shader.ProgramBlur))

	// the blur temporaries were released before detail and effects acquired
	// their targets, so those two are pool hits
	stats := f.p.PoolStats()
	assert.Equal(t, 7, stats.InUse)
	assert.Equal(t, 7, stats.Live)
	assert.Equal(t, 2, stats.Hits)

	// now every cached output is in use while clarity needs temporaries
	s.Clarity.Amount = 0.7
	require.NoError(t, f.p.RenderNow(s))
	assert.Equal(t, 4, f.soft().Draws(shader.ProgramBlur))
	stats = f.p.PoolStats()
	assert.Equal(t, 7, stats.InUse)
	assert.Equal(t, 9, stats.Live)
}

func TestCropChangesRenderSize(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))

	s := adjust.Default()
	s.Geometry.Crop = adjust.Rect{X: 0.5, Y: 0.5, W: 0.5, H: 0.5}
	require.NoError(t, f.p.RenderNow(s))
	w, h := f.p.PreviewSize()
	assert.Equal(t, 8, w)
	assert.Equal(t, 6, h)
	ow, oh := f.p.OriginalSize()
	assert.Equal(t, 16, ow)
	assert.Equal(t, 12, oh)

	got, err := f.p.ReadPreview()
	require.NoError(t, err)
	want := testImage(16, 12).SubImage(image.Rect(8, 6, 16, 12)).(*image.NRGBA)
	assertImagesClose(t, want, got, 1)
}

func TestPreviewDownscale(t *testing.T) {
	opts := DefaultOptions()
	opts.PreviewMaxDimension = 8
	f := newFixture(t, 8, 8, opts, nil)
	require.NoError(t, f.p.LoadSource(testImage(32, 16)))
	w, h := f.p.PreviewSize()
	assert.Equal(t, 8, w)
	assert.Equal(t, 4, h)
}

func TestDisposeReleasesEverythingOnce(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))
	require.NoError(t, f.p.RenderNow(adjust.Default()))

	f.p.Dispose()
	programs, textures, framebuffers := f.soft().Live()
	assert.Zero(t, programs)
	assert.Zero(t, textures)
	assert.Zero(t, framebuffers)

	assert.NotPanics(t, f.p.Dispose)
	assert.ErrorIs(t, f.p.Submit(adjust.Default()), ErrDisposed)
}

func TestLoadSourceReleasesIntermediates(t *testing.T) {
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))
	require.NoError(t, f.p.RenderNow(adjust.Default()))
	require.Equal(t, 7, f.p.PoolStats().InUse)

	require.NoError(t, f.p.LoadSource(testImage(16, 12)))
	assert.Zero(t, f.p.PoolStats().InUse)
	assert.Len(t, f.p.DirtyPasses(), adjust.NumStages)

	// same size again: every target is a pool hit
	require.NoError(t, f.p.RenderNow(adjust.Default()))
	assert.Equal(t, 7, f.p.PoolStats().Hits)
}

func TestRebuildAfterContextLoss(t *testing.T) {
	img := testImage(16, 12)
	f := newFixture(t, 16, 12, DefaultOptions(), nil)
	require.NoError(t, f.p.LoadSource(img))
	require.NoError(t, f.p.RenderNow(adjust.Default()))

	f.device().Lose()
	f.manager.NotifyLost("test")
	assert.ErrorIs(t, f.p.RenderNow(adjust.Default()), graphics.ErrContextLost)

	require.NoError(t, f.manager.Reinitialize())
	require.NoError(t, f.p.Rebuild())
	require.NoError(t, f.p.RenderNow(adjust.Default()))

	got, err := f.p.ReadPreview()
	require.NoError(t, err)
	assertImagesClose(t, img, got, 1)
	assert.Equal(t, 2, f.factory.Calls)
}

func TestPeriodicSweep(t *testing.T) {
	opts := DefaultOptions()
	opts.Pool.IdleTTL = time.Second
	opts.Pool.SweepInterval = 2 * time.Second
	f := newFixture(t, 16, 12, opts, nil)
	require.NoError(t, f.p.LoadSource(testImage(16, 12)))

	s := adjust.Default()
	s.Clarity.Amount = 0.5
	require.NoError(t, f.p.RenderNow(s))
	s.Clarity.Amount = 0.6
	require.NoError(t, f.p.RenderNow(s))
	require.Equal(t, 9, f.p.PoolStats().Live)

	f.host.Advance(5 * time.Second)
	assert.Equal(t, 7, f.p.PoolStats().Live)
}

func TestProgramCacheHits(t *testing.T) {
	f := newFixture(t, 4, 4, DefaultOptions(), nil)
	stats := f.p.ProgramStats()
	assert.Equal(t, len(shader.ProgramNames()), stats.Programs)
	assert.Equal(t, len(shader.ProgramNames()), stats.Misses)

	src, err := shader.FragmentSource(shader.ProgramTonal)
	require.NoError(t, err)
	_, _, err = f.p.programs.Compile(shader.ProgramTonal, src)
	require.NoError(t, err)
	assert.Equal(t, 1, f.p.ProgramStats().Hits)
}
