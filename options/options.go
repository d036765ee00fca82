// Package options holds the darkroom configuration file and converts it
// into the configuration of each component.
package options

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/richinsley/darkroom/encoder"
	"github.com/richinsley/darkroom/fallback"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/renderer"
	"github.com/richinsley/darkroom/resource"
	"github.com/richinsley/darkroom/scheduler"
	"github.com/richinsley/darkroom/shader"
)

// Duration is a time.Duration written as a string ("16ms") in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Preview struct {
	MaxDimension int `toml:"max_dimension"`
	// ToneMapper is "clip" or "filmic".
	ToneMapper string `toml:"tone_mapper"`
	// Format is "rgba8", "rgba16f" or "rgba32f".
	Format string `toml:"format"`
}

type Scheduler struct {
	BatchDelay           Duration `toml:"batch_delay"`
	MinFPS               float64  `toml:"min_fps"`
	SlowFramesBeforeSkip int      `toml:"slow_frames_before_skip"`
	FPSInterval          Duration `toml:"fps_interval"`
	Samples              int      `toml:"samples"`
}

type Pool struct {
	Capacity      int      `toml:"capacity"`
	IdleTTL       Duration `toml:"idle_ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
}

type Recovery struct {
	AllowFallback          bool     `toml:"allow_fallback"`
	RetryBudget            int      `toml:"retry_budget"`
	SettleDelay            Duration `toml:"settle_delay"`
	ShaderFailureThreshold int      `toml:"shader_failure_threshold"`
	FallbackMaxDimension   int      `toml:"fallback_max_dimension"`
}

type Export struct {
	Dither         bool     `toml:"dither"`
	DitherStrength float32  `toml:"dither_strength"`
	FenceTimeout   Duration `toml:"fence_timeout"`
	PollInterval   Duration `toml:"poll_interval"`
}

type Window struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Title  string `toml:"title"`
	// GLES requests the ES shader dialect.
	GLES   bool   `toml:"gles"`
	Filter string `toml:"filter"`
}

type Encoder struct {
	FFmpegPath string `toml:"ffmpeg_path"`
	// Codec is passed to ffmpeg as c:v; empty lets ffmpeg pick from the
	// output extension.
	Codec   string `toml:"codec"`
	Quality int    `toml:"quality"`
}

// Options is the configuration file.
type Options struct {
	Preview   Preview   `toml:"preview"`
	Scheduler Scheduler `toml:"scheduler"`
	Pool      Pool      `toml:"pool"`
	Recovery  Recovery  `toml:"recovery"`
	Export    Export    `toml:"export"`
	Window    Window    `toml:"window"`
	Encoder   Encoder   `toml:"encoder"`
}

// Default returns the built-in configuration.
func Default() Options {
	r := renderer.DefaultOptions()
	s := scheduler.DefaultConfig()
	p := resource.DefaultConfig()
	f := fallback.DefaultConfig()
	e := renderer.DefaultExportOptions()
	return Options{
		Preview: Preview{
			MaxDimension: r.PreviewMaxDimension,
			ToneMapper:   "clip",
			Format:       r.Format.String(),
		},
		Scheduler: Scheduler{
			BatchDelay:           Duration(s.BatchDelay),
			MinFPS:               s.MinFPS,
			SlowFramesBeforeSkip: s.SlowFramesBeforeSkip,
			FPSInterval:          Duration(s.FPSInterval),
			Samples:              s.Samples,
		},
		Pool: Pool{
			Capacity:      p.Capacity,
			IdleTTL:       Duration(p.IdleTTL),
			SweepInterval: Duration(p.SweepInterval),
		},
		Recovery: Recovery{
			AllowFallback:          f.AllowFallback,
			RetryBudget:            f.RetryBudget,
			SettleDelay:            Duration(f.SettleDelay),
			ShaderFailureThreshold: f.ShaderFailureThreshold,
			FallbackMaxDimension:   f.FallbackPreviewMaxDimension,
		},
		Export: Export{
			Dither:         e.Dither,
			DitherStrength: e.DitherStrength,
			FenceTimeout:   Duration(e.FenceTimeout),
			PollInterval:   Duration(e.PollInterval),
		},
		Window: Window{
			Width:  1280,
			Height: 800,
			Title:  "darkroom",
			Filter: "linear",
		},
		Encoder: Encoder{
			Quality: 2,
		},
	}
}

// Load reads a configuration over the defaults. Unknown keys are errors.
func Load(r io.Reader) (Options, error) {
	o := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return Options{}, fmt.Errorf("failed to parse options: %w", err)
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// LoadFile reads path. A missing file yields the defaults.
func LoadFile(path string) (Options, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Options{}, err
	}
	o, err := Load(bytes.NewReader(b))
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}

// Marshal encodes o as TOML.
func Marshal(o Options) ([]byte, error) {
	return toml.Marshal(o)
}

// Validate rejects values no component can use.
func (o Options) Validate() error {
	if _, err := parseToneMapper(o.Preview.ToneMapper); err != nil {
		return err
	}
	if _, err := parseFormat(o.Preview.Format); err != nil {
		return err
	}
	if o.Preview.MaxDimension < 0 {
		return fmt.Errorf("preview.max_dimension must not be negative")
	}
	if o.Scheduler.MinFPS < 0 {
		return fmt.Errorf("scheduler.min_fps must not be negative")
	}
	if o.Pool.Capacity < 0 {
		return fmt.Errorf("pool.capacity must not be negative")
	}
	if o.Export.DitherStrength < 0 || o.Export.DitherStrength > 4 {
		return fmt.Errorf("export.dither_strength must be within [0, 4]")
	}
	return nil
}

func parseToneMapper(s string) (int, error) {
	switch strings.ToLower(s) {
	case "", "clip":
		return shader.ToneMapClip, nil
	case "filmic":
		return shader.ToneMapFilmic, nil
	}
	return 0, fmt.Errorf("unknown tone mapper %q", s)
}

func parseFormat(s string) (graphics.Format, error) {
	for _, f := range []graphics.Format{graphics.FormatRGBA8, graphics.FormatRGBA16F, graphics.FormatRGBA32F} {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	if s == "" {
		return graphics.FormatRGBA16F, nil
	}
	return 0, fmt.Errorf("unknown target format %q", s)
}

// SchedulerConfig converts the scheduler section.
func (o Options) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		BatchDelay:           time.Duration(o.Scheduler.BatchDelay),
		MinFPS:               o.Scheduler.MinFPS,
		SlowFramesBeforeSkip: o.Scheduler.SlowFramesBeforeSkip,
		FPSInterval:          time.Duration(o.Scheduler.FPSInterval),
		Samples:              o.Scheduler.Samples,
	}
}

// PoolConfig converts the pool section.
func (o Options) PoolConfig() resource.Config {
	return resource.Config{
		Capacity:      o.Pool.Capacity,
		IdleTTL:       time.Duration(o.Pool.IdleTTL),
		SweepInterval: time.Duration(o.Pool.SweepInterval),
	}
}

// Pipeline converts the preview, scheduler and pool sections. Values are
// assumed validated.
func (o Options) Pipeline() renderer.Options {
	tm, _ := parseToneMapper(o.Preview.ToneMapper)
	format, _ := parseFormat(o.Preview.Format)
	return renderer.Options{
		PreviewMaxDimension: o.Preview.MaxDimension,
		ToneMapper:          tm,
		Format:              format,
		Pool:                o.PoolConfig(),
		Scheduler:           o.SchedulerConfig(),
	}
}

// FallbackConfig converts the recovery section together with the pipeline
// options.
func (o Options) FallbackConfig() fallback.Config {
	return fallback.Config{
		AllowFallback:               o.Recovery.AllowFallback,
		RetryBudget:                 o.Recovery.RetryBudget,
		SettleDelay:                 time.Duration(o.Recovery.SettleDelay),
		ShaderFailureThreshold:      o.Recovery.ShaderFailureThreshold,
		Pipeline:                    o.Pipeline(),
		FallbackPreviewMaxDimension: o.Recovery.FallbackMaxDimension,
	}
}

// ExportOptions converts the export section.
func (o Options) ExportOptions() renderer.ExportOptions {
	return renderer.ExportOptions{
		Dither:         o.Export.Dither,
		DitherStrength: o.Export.DitherStrength,
		FenceTimeout:   time.Duration(o.Export.FenceTimeout),
		PollInterval:   time.Duration(o.Export.PollInterval),
	}
}

// EncoderConfig converts the encoder section.
func (o Options) EncoderConfig() encoder.Config {
	return encoder.Config{
		FFmpegPath: o.Encoder.FFmpegPath,
		Codec:      o.Encoder.Codec,
		Quality:    o.Encoder.Quality,
	}
}
