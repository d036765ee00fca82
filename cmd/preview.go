package main

import (
	"context"
	"fmt"
	"time"

	glfw "github.com/go-gl/glfw/v3.3/glfw"
	"github.com/richinsley/darkroom/adjust"
	"github.com/richinsley/darkroom/encoder"
	"github.com/richinsley/darkroom/fallback"
	"github.com/richinsley/darkroom/gldevice"
	"github.com/richinsley/darkroom/glfwcontext"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/inputs"
	"github.com/richinsley/darkroom/logging"
	"github.com/richinsley/darkroom/scheduler"
	"github.com/richinsley/darkroom/softgpu"
	"github.com/spf13/cobra"
)

type previewFlags struct {
	gles     bool
	software bool
	snapshot string
}

// nudges maps keys to small edits applied to the current state.
var nudges = map[glfw.Key]func(s *adjust.State){
	glfw.KeyUp:           func(s *adjust.State) { s.Tone.Exposure += 0.1 },
	glfw.KeyDown:         func(s *adjust.State) { s.Tone.Exposure -= 0.1 },
	glfw.KeyRight:        func(s *adjust.State) { s.Tone.Contrast += 0.05 },
	glfw.KeyLeft:         func(s *adjust.State) { s.Tone.Contrast -= 0.05 },
	glfw.KeyRightBracket: func(s *adjust.State) { s.Color.Temperature += 0.05 },
	glfw.KeyLeftBracket:  func(s *adjust.State) { s.Color.Temperature -= 0.05 },
	glfw.KeyEqual:        func(s *adjust.State) { s.Color.Saturation += 0.05 },
	glfw.KeyMinus:        func(s *adjust.State) { s.Color.Saturation -= 0.05 },
	glfw.KeyC:            func(s *adjust.State) { s.Clarity.Amount = 0.5 - s.Clarity.Amount },
	glfw.KeyV:            func(s *adjust.State) { s.Effects.Vignette.Amount = -0.5 - s.Effects.Vignette.Amount },
	glfw.KeyH:            func(s *adjust.State) { s.Geometry.FlipH = !s.Geometry.FlipH },
	glfw.KeyR:            func(s *adjust.State) { s.Geometry.Rotation += 90 },
}

func newPreviewCmd(g *globalFlags) *cobra.Command {
	f := &previewFlags{}
	cmd := &cobra.Command{
		Use:   "preview IMAGE",
		Short: "Open IMAGE in a window and edit it with the keyboard",
		Long: `Open IMAGE in a window and edit it with the keyboard.

  up/down      exposure          left/right  contrast
  [ / ]        temperature       - / =       saturation
  c            clarity           v           vignette
  h            flip              r           rotate 90
  0            reset             s           snapshot
  esc          quit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(g, f, args[0])
		},
	}
	cmd.Flags().BoolVar(&f.gles, "gles", false, "request an OpenGL ES context")
	cmd.Flags().BoolVar(&f.software, "software", false, "render with the software device")
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "snapshot.png", "file written by the s key")
	return cmd
}

func runPreview(g *globalFlags, f *previewFlags, path string) error {
	o, err := g.options()
	if err != nil {
		return err
	}
	img, err := inputs.Load(path)
	if err != nil {
		return err
	}
	adj, err := g.adjustments(path)
	if err != nil {
		return err
	}

	if err := glfwcontext.InitGraphics(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}
	defer glfwcontext.TerminateGraphics()

	maxDim := max(o.Window.Width, o.Window.Height)
	b := img.Bounds()
	w, h := inputs.FitSize(b.Dx(), b.Dy(), maxDim)
	win, err := glfwcontext.New(glfwcontext.Config{
		Width:   w,
		Height:  h,
		Title:   fmt.Sprintf("%s - %s", o.Window.Title, path),
		Visible: true,
		GLES:    f.gles || o.Window.GLES,
	})
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}
	defer win.Shutdown()

	primary := func() (graphics.Device, error) {
		if f.software {
			return nil, fmt.Errorf("gl device disabled by --software")
		}
		return gldevice.New(win, gldevice.Options{GLES: win.IsGLES(), Filter: o.Window.Filter})
	}
	reduced := softgpu.Factory(softgpu.Options{Width: w, Height: h, FloatTargets: true})

	host := scheduler.NewRealtimeHost()
	cfg := o.FallbackConfig()
	cfg.Pipeline.PreviewMaxDimension = maxDim
	handler := fallback.New(host, primary, reduced, cfg)
	logTransitions(handler)
	if err := handler.Init(); err != nil {
		return err
	}
	defer handler.Dispose()
	if handler.Mode() == fallback.ModeFallback {
		logging.Logger().Warn("darkroom: software rendering, the window is not updated; use s for snapshots")
	}

	if err := handler.LoadSource(img); err != nil {
		return err
	}
	if err := handler.RenderNow(adj); err != nil {
		return err
	}

	current := adj
	submit := func(next adjust.State) {
		current = next
		if err := handler.Submit(current); err != nil {
			logging.Logger().Error("darkroom: submit failed", "error", err)
		}
	}
	for key, nudge := range nudges {
		win.RegisterKeyCallback(key, func() {
			next := current
			nudge(&next)
			submit(next)
		})
	}
	win.RegisterKeyCallback(glfw.Key0, func() { submit(adjust.Default()) })
	win.RegisterKeyCallback(glfw.KeyS, func() {
		if err := snapshot(handler, f.snapshot, o.EncoderConfig()); err != nil {
			logging.Logger().Error("darkroom: snapshot failed", "error", err)
		}
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-host.Wake():
				win.Wake()
			case <-stop:
				return
			}
		}
	}()

	frames := -1
	lastLog := time.Now()
	for !win.ShouldClose() {
		host.Pump()
		p := handler.Pipeline()
		if p != nil && p.Frames() != frames && handler.Mode() != fallback.ModeFallback {
			frames = p.Frames()
			win.EndFrame()
		} else {
			win.WaitEvents(0.1)
		}
		if time.Since(lastLog) > 5*time.Second {
			perf := handler.Performance()
			logging.Logger().Debug("darkroom: performance",
				"fps", perf.CurrentFPS,
				"frame_ms", perf.AverageFrameTime.Milliseconds(),
				"dropped", perf.DroppedFrames,
				"degraded", perf.Degraded,
			)
			lastLog = time.Now()
		}
	}
	return nil
}

func snapshot(h *fallback.Handler, path string, enc encoder.Config) error {
	p := h.Pipeline()
	if p == nil {
		return fmt.Errorf("no active pipeline")
	}
	img, err := p.ReadPreview()
	if err != nil {
		return err
	}
	return encoder.Write(context.Background(), img, path, enc)
}
