package fallback

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/richinsley/darkroom/adjust"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/graphics/graphicstest"
	"github.com/richinsley/darkroom/renderer"
	"github.com/richinsley/darkroom/scheduler"
	"github.com/richinsley/darkroom/shader"
	"github.com/richinsley/darkroom/softgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoDriver = errors.New("no driver")

type fixture struct {
	host        *scheduler.ManualHost
	primary     *graphicstest.Factory
	reduced     *graphicstest.Factory
	h           *Handler
	transitions []Transition
	events      []ErrorEvent
}

func newFixture(t *testing.T, cfg Config, primaryFailures ...error) *fixture {
	t.Helper()
	f := &fixture{host: scheduler.NewManualHost(time.Unix(1_700_000_000, 0))}
	f.primary = graphicstest.NewFactory(func() graphics.Device {
		return softgpu.New(softgpu.Options{Width: 16, Height: 16, FloatTargets: true})
	}, primaryFailures...)
	f.reduced = graphicstest.NewFactory(func() graphics.Device {
		return softgpu.New(softgpu.Options{Width: 16, Height: 16})
	})
	f.h = New(f.host, f.primary.New, f.reduced.New, cfg)
	f.h.OnTransition(func(tr Transition) { f.transitions = append(f.transitions, tr) })
	f.h.OnError(func(ev ErrorEvent) { f.events = append(f.events, ev) })
	t.Cleanup(f.h.Dispose)
	return f
}

func (f *fixture) to() []State {
	var out []State
	for _, tr := range f.transitions {
		out = append(out, tr.To)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SettleDelay = 100 * time.Millisecond
	cfg.Pipeline.Offscreen = true
	return cfg
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	return img
}

func TestInitPrimary(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.h.Init())

	assert.Equal(t, Primary, f.h.State())
	assert.Equal(t, ModePrimary, f.h.Mode())
	assert.Equal(t, []State{Primary}, f.to())
	assert.Equal(t, 0, f.reduced.Calls)
	assert.Empty(t, f.events)
}

func TestInitFallsBack(t *testing.T) {
	f := newFixture(t, testConfig(), errNoDriver)
	require.NoError(t, f.h.Init())

	assert.Equal(t, Fallback, f.h.State())
	assert.Equal(t, ModeFallback, f.h.Mode())
	require.Len(t, f.transitions, 1)
	assert.Equal(t, CodeInitFailed, f.transitions[0].Code)
	require.Len(t, f.events, 1)
	assert.Equal(t, CodeInitFailed, f.events[0].Code)
	assert.NotEmpty(t, f.events[0].ID)

	require.NoError(t, f.h.LoadSource(testImage(32, 32)))
	require.NoError(t, f.h.RenderNow(adjust.Default()))
	w, h := f.h.Pipeline().PreviewSize()
	assert.Equal(t, 32, w)
	assert.Equal(t, 32, h)
}

func TestInitFatalWithoutFallback(t *testing.T) {
	cfg := testConfig()
	cfg.AllowFallback = false
	f := newFixture(t, cfg, errNoDriver)

	err := f.h.Init()
	require.ErrorIs(t, err, ErrNoUsablePath)
	require.ErrorIs(t, err, errNoDriver)
	assert.Equal(t, Fatal, f.h.State())
	require.Len(t, f.events, 1)
	assert.Equal(t, SeverityFatal, f.events[0].Severity)
	assert.False(t, f.events[0].Recoverable)

	assert.ErrorIs(t, f.h.LoadSource(testImage(4, 4)), ErrNoUsablePath)
	assert.ErrorIs(t, f.h.Submit(adjust.Default()), ErrNoUsablePath)
	_, err = f.h.Export(context.Background(), testImage(4, 4), adjust.Default(), renderer.DefaultExportOptions())
	assert.ErrorIs(t, err, ErrNoUsablePath)
}

func TestBothPathsFail(t *testing.T) {
	f := newFixture(t, testConfig(), errNoDriver)
	f.reduced.FailNext(errNoDriver)

	err := f.h.Init()
	require.ErrorIs(t, err, ErrNoUsablePath)
	assert.Equal(t, Fatal, f.h.State())
	assert.Equal(t, ModeFallback, f.h.Mode())
}

func TestShaderFailuresSwitchOnce(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.h.Init())
	require.NoError(t, f.h.LoadSource(testImage(8, 8)))
	f.primary.Last().FailDraw = map[string]bool{shader.ProgramOutput: true}

	adj := adjust.Default()
	for i := 0; i < 2; i++ {
		require.Error(t, f.h.RenderNow(adj))
		assert.Equal(t, Primary, f.h.State())
	}
	require.Error(t, f.h.RenderNow(adj))
	assert.Equal(t, Fallback, f.h.State())

	// the fallback device has no faults, further frames succeed
	require.NoError(t, f.h.RenderNow(adj))
	require.NoError(t, f.h.RenderNow(adj))

	var fallbacks int
	for _, tr := range f.transitions {
		if tr.To == Fallback {
			fallbacks++
			assert.Equal(t, CodeShaderFailure, tr.Code)
		}
	}
	assert.Equal(t, 1, fallbacks)
	assert.Len(t, f.events, 3)
	for _, ev := range f.events {
		assert.Equal(t, CodeShaderFailure, ev.Code)
	}
}

func TestShaderFailureCounterResets(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.h.Init())
	require.NoError(t, f.h.LoadSource(testImage(8, 8)))
	dev := f.primary.Last()

	adj := adjust.Default()
	for i := 0; i < 4; i++ {
		// a new gamma dirties the output pass only
		adj.Output.Gamma = 1 + 0.1*float32(i+1)
		dev.FailDraw = map[string]bool{shader.ProgramOutput: true}
		require.Error(t, f.h.RenderNow(adj))
		require.Error(t, f.h.RenderNow(adj))
		dev.FailDraw = nil
		require.NoError(t, f.h.RenderNow(adj))
	}
	assert.Equal(t, Primary, f.h.State())
}

func TestContextLossRecovers(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.h.Init())
	require.NoError(t, f.h.LoadSource(testImage(8, 8)))
	require.NoError(t, f.h.RenderNow(adjust.Default()))
	first := f.primary.Last()

	f.h.NotifyContextLost("driver reset")
	assert.Equal(t, DegradedRetry, f.h.State())
	assert.Equal(t, ModeReduced, f.h.Mode())
	assert.Equal(t, 1, f.h.Losses())
	assert.ErrorIs(t, f.h.RenderNow(adjust.Default()), graphics.ErrContextLost)

	// edits and a new image are kept while recovering
	adj := adjust.Default()
	adj.Tone.Exposure = 0.5
	require.NoError(t, f.h.Submit(adj))
	require.NoError(t, f.h.LoadSource(testImage(12, 6)))

	f.host.Advance(50 * time.Millisecond)
	assert.Equal(t, DegradedRetry, f.h.State())
	f.host.Advance(50 * time.Millisecond)
	assert.Equal(t, Primary, f.h.State())

	assert.NotSame(t, first, f.primary.Last())
	assert.Equal(t, 2, f.h.Manager().Generation())
	assert.Equal(t, float32(0.5), f.h.Pipeline().State().Tone.Exposure)
	w, h := f.h.Pipeline().PreviewSize()
	assert.Equal(t, 12, w)
	assert.Equal(t, 6, h)
	assert.Equal(t, []State{Primary, DegradedRetry, Primary}, f.to())
	assert.Equal(t, 0, f.reduced.Calls)
}

func TestLostDrawTriggersRecovery(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.h.Init())
	require.NoError(t, f.h.LoadSource(testImage(8, 8)))
	f.primary.Last().Lose()

	err := f.h.RenderNow(adjust.Default())
	require.ErrorIs(t, err, graphics.ErrContextLost)
	assert.Equal(t, DegradedRetry, f.h.State())
	require.NotEmpty(t, f.events)
	assert.Equal(t, CodeContextLost, f.events[0].Code)
	assert.True(t, f.events[0].Recoverable)

	f.host.Advance(100 * time.Millisecond)
	assert.Equal(t, Primary, f.h.State())
	require.NoError(t, f.h.RenderNow(adjust.Default()))
}

func TestRetryBudgetExhausted(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.h.Init())
	require.NoError(t, f.h.LoadSource(testImage(8, 8)))
	f.primary.FailNext(errNoDriver, errNoDriver, errNoDriver)

	f.h.NotifyContextLost("driver reset")
	f.host.Advance(100 * time.Millisecond)
	f.host.Advance(100 * time.Millisecond)
	assert.Equal(t, DegradedRetry, f.h.State())
	f.host.Advance(100 * time.Millisecond)

	assert.Equal(t, Fallback, f.h.State())
	assert.Equal(t, 1, f.reduced.Calls)
	assert.Equal(t, []State{Primary, DegradedRetry, Fallback}, f.to())
	assert.Equal(t, CodeContextLost, f.transitions[2].Code)

	// the image followed the switch
	require.NoError(t, f.h.RenderNow(adjust.Default()))

	f.host.Advance(time.Second)
	assert.Equal(t, 4, f.primary.Calls)
	assert.Equal(t, Fallback, f.h.State())
}

func TestCallsAfterDisposeFail(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.h.Init())
	require.NoError(t, f.h.LoadSource(testImage(8, 8)))
	f.h.NotifyContextLost("driver reset")
	require.Equal(t, DegradedRetry, f.h.State())

	f.h.Dispose()
	f.h.Dispose()

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, f.h.Submit(adjust.Default()), renderer.ErrDisposed)
		assert.ErrorIs(t, f.h.LoadSource(testImage(4, 4)), renderer.ErrDisposed)
		assert.ErrorIs(t, f.h.RenderNow(adjust.Default()), renderer.ErrDisposed)
		_, err := f.h.Export(context.Background(), testImage(4, 4), adjust.Default(), renderer.DefaultExportOptions())
		assert.ErrorIs(t, err, renderer.ErrDisposed)
		assert.ErrorIs(t, f.h.Init(), renderer.ErrDisposed)
		f.h.NotifyContextLost("again")
	})

	// the pending retry never fires
	calls := f.primary.Calls
	f.host.Advance(time.Second)
	assert.Equal(t, calls, f.primary.Calls)
	assert.Equal(t, scheduler.Performance{}, f.h.Performance())
}
