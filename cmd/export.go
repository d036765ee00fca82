package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/richinsley/darkroom/encoder"
	"github.com/richinsley/darkroom/fallback"
	"github.com/richinsley/darkroom/gldevice"
	"github.com/richinsley/darkroom/glfwcontext"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/headless"
	"github.com/richinsley/darkroom/inputs"
	"github.com/richinsley/darkroom/logging"
	"github.com/richinsley/darkroom/scheduler"
	"github.com/richinsley/darkroom/softgpu"
	"github.com/spf13/cobra"
)

type exportFlags struct {
	output   string
	noDither bool
	timeout  time.Duration
	software bool
	egl      bool
	device   int
	ffmpeg   string
	codec    string
}

func newExportCmd(g *globalFlags) *cobra.Command {
	f := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export IMAGE",
		Short: "Render IMAGE at full resolution and write it with ffmpeg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), g, f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file (default IMAGE.export.png)")
	cmd.Flags().BoolVar(&f.noDither, "no-dither", false, "disable ordered dithering")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "overall time limit")
	cmd.Flags().BoolVar(&f.software, "software", false, "render with the software device")
	cmd.Flags().BoolVar(&f.egl, "egl", false, "use a headless EGL context instead of a hidden window")
	cmd.Flags().IntVar(&f.device, "egl-device", -1, "EGL device index (default: first usable)")
	cmd.Flags().StringVar(&f.ffmpeg, "ffmpeg", "", "path to the ffmpeg executable")
	cmd.Flags().StringVar(&f.codec, "codec", "", "ffmpeg video codec")
	return cmd
}

// offscreenContext opens the GL context an export renders into.
type offscreenContext struct {
	egl    bool
	gles   bool
	device int
	ctx    graphics.Context
	glfw   bool
}

func (c *offscreenContext) open() (graphics.Context, error) {
	if c.ctx != nil {
		return c.ctx, nil
	}
	if c.egl {
		h, err := headless.New(headless.Config{Device: c.device})
		if err != nil {
			return nil, err
		}
		c.ctx = h
		return h, nil
	}
	if err := glfwcontext.InitGraphics(); err != nil {
		return nil, err
	}
	c.glfw = true
	win, err := glfwcontext.New(glfwcontext.Config{Width: 16, Height: 16, GLES: c.gles})
	if err != nil {
		return nil, err
	}
	c.ctx = win
	return win, nil
}

func (c *offscreenContext) close() {
	if c.ctx != nil {
		c.ctx.Shutdown()
	}
	if c.glfw {
		glfwcontext.TerminateGraphics()
	}
}

func defaultOutput(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".export.png"
}

func runExport(ctx context.Context, g *globalFlags, f *exportFlags, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

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

	gl := &offscreenContext{egl: f.egl, gles: o.Window.GLES, device: f.device}
	defer gl.close()
	primary := func() (graphics.Device, error) {
		if f.software {
			return nil, fmt.Errorf("gl device disabled by --software")
		}
		c, err := gl.open()
		if err != nil {
			return nil, fmt.Errorf("failed to open offscreen context: %w", err)
		}
		return gldevice.New(c, gldevice.Options{GLES: c.IsGLES(), Filter: o.Window.Filter})
	}
	reduced := softgpu.Factory(softgpu.Options{Width: 16, Height: 16, FloatTargets: true})

	cfg := o.FallbackConfig()
	if f.software {
		cfg.AllowFallback = true
	}
	handler := fallback.New(scheduler.NewRealtimeHost(), primary, reduced, cfg)
	logTransitions(handler)
	if err := handler.Init(); err != nil {
		return err
	}
	defer handler.Dispose()

	eo := o.ExportOptions()
	if f.noDither {
		eo.Dither = false
	}
	start := time.Now()
	out, err := handler.Export(ctx, img, adj, eo)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	logging.Logger().Info("darkroom: rendered",
		"mode", handler.Mode().String(),
		"width", out.Bounds().Dx(),
		"height", out.Bounds().Dy(),
		"elapsed", time.Since(start),
	)

	enc := o.EncoderConfig()
	if f.ffmpeg != "" {
		enc.FFmpegPath = f.ffmpeg
	}
	if f.codec != "" {
		enc.Codec = f.codec
	}
	output := f.output
	if output == "" {
		output = defaultOutput(path)
	}
	if err := encoder.Write(ctx, out, output, enc); err != nil {
		return err
	}
	fmt.Println(output)
	return nil
}
