// Package fallback keeps editing usable when the graphics driver misbehaves.
// It owns the rendering path, recovers from context loss and switches to a
// reduced capability device when the primary one cannot be trusted.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/richinsley/darkroom/adjust"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/logging"
	"github.com/richinsley/darkroom/renderer"
	"github.com/richinsley/darkroom/scheduler"
	"github.com/richinsley/darkroom/shader"
)

// State of the handler.
type State int

const (
	Initializing State = iota
	Primary
	DegradedRetry
	Fallback
	Fatal
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Primary:
		return "primary"
	case DegradedRetry:
		return "degraded-retry"
	case Fallback:
		return "fallback"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// RenderMode is what the user gets out of the current state.
type RenderMode int

const (
	ModePrimary RenderMode = iota
	ModeReduced
	ModeFallback
)

func (m RenderMode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeReduced:
		return "reduced"
	case ModeFallback:
		return "fallback"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func modeOf(s State) RenderMode {
	switch s {
	case Primary:
		return ModePrimary
	case Initializing, DegradedRetry:
		return ModeReduced
	}
	return ModeFallback
}

// Transition describes a state change.
type Transition struct {
	From   State
	To     State
	Mode   RenderMode
	Code   Code
	Reason string
}

// Config controls recovery.
type Config struct {
	// AllowFallback permits the reduced capability path.
	AllowFallback bool
	// RetryBudget is the number of reinitialization attempts per loss.
	RetryBudget int
	// SettleDelay is the wait between a loss and a reinitialization attempt.
	SettleDelay time.Duration
	// ShaderFailureThreshold consecutive shader failures force fallback.
	ShaderFailureThreshold int

	// Pipeline configures the primary pipeline.
	Pipeline renderer.Options
	// FallbackPreviewMaxDimension bounds the preview on the fallback path.
	FallbackPreviewMaxDimension int
}

// DefaultConfig returns the default recovery configuration.
func DefaultConfig() Config {
	return Config{
		AllowFallback:               true,
		RetryBudget:                 3,
		SettleDelay:                 500 * time.Millisecond,
		ShaderFailureThreshold:      3,
		Pipeline:                    renderer.DefaultOptions(),
		FallbackPreviewMaxDimension: 1024,
	}
}

// Handler owns the active rendering path. Like the pipeline it is not safe
// for concurrent use.
type Handler struct {
	cfg      Config
	host     scheduler.Host
	composer *shader.Composer
	primary  graphics.DeviceFactory
	reduced  graphics.DeviceFactory

	state    State
	manager  *graphics.Manager
	pipeline *renderer.Pipeline
	exporter *renderer.Exporter

	losses         int
	retries        int
	shaderFailures int
	settle         scheduler.Timer

	image      image.Image
	imageStale bool
	adj        adjust.State
	hasAdj     bool

	transitions []func(Transition)
	errors      []func(ErrorEvent)
	disposed    bool
}

// New returns a handler in the Initializing state. Register observers and
// call Init.
func New(host scheduler.Host, primary, reduced graphics.DeviceFactory, cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = def.RetryBudget
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.ShaderFailureThreshold <= 0 {
		cfg.ShaderFailureThreshold = def.ShaderFailureThreshold
	}
	if cfg.FallbackPreviewMaxDimension <= 0 {
		cfg.FallbackPreviewMaxDimension = def.FallbackPreviewMaxDimension
	}
	return &Handler{
		cfg:      cfg,
		host:     host,
		composer: shader.NewComposer(shader.DefaultComposerConfig()),
		primary:  primary,
		reduced:  reduced,
		adj:      adjust.Default(),
	}
}

// OnTransition registers a state change observer.
func (h *Handler) OnTransition(f func(Transition)) {
	h.transitions = append(h.transitions, f)
}

// OnError registers an error observer.
func (h *Handler) OnError(f func(ErrorEvent)) {
	h.errors = append(h.errors, f)
}

// State returns the current state.
func (h *Handler) State() State {
	return h.state
}

// Mode returns the render mode derived from the state.
func (h *Handler) Mode() RenderMode {
	return modeOf(h.state)
}

// Losses returns how many context losses were observed.
func (h *Handler) Losses() int {
	return h.losses
}

// Pipeline returns the active pipeline, or nil.
func (h *Handler) Pipeline() *renderer.Pipeline {
	return h.pipeline
}

// Manager returns the active device manager, or nil.
func (h *Handler) Manager() *graphics.Manager {
	return h.manager
}

func (h *Handler) transition(to State, code Code, reason string) {
	from := h.state
	if from == to {
		return
	}
	h.state = to
	t := Transition{From: from, To: to, Mode: modeOf(to), Code: code, Reason: reason}
	logging.Logger().Info("fallback: transition",
		"from", from.String(),
		"to", to.String(),
		"mode", t.Mode.String(),
		"code", code.String(),
		"reason", reason,
	)
	for _, f := range h.transitions {
		f(t)
	}
}

func (h *Handler) report(code Code, err error, fatal bool) ErrorEvent {
	c := classifications[code]
	ev := ErrorEvent{
		ID:          uuid.NewString(),
		Time:        h.host.Now(),
		Code:        code,
		Severity:    c.severity,
		Message:     c.message,
		Recoverable: c.recoverable && !fatal,
		Err:         err,
	}
	if fatal {
		ev.Severity = SeverityFatal
		ev.Message = "No graphics path is available. The image cannot be displayed."
	}
	logging.Logger().Warn("fallback: error",
		"id", ev.ID,
		"code", code.String(),
		"severity", ev.Severity.String(),
		"error", err,
	)
	for _, f := range h.errors {
		f(ev)
	}
	return ev
}

func (h *Handler) build(factory graphics.DeviceFactory, opts renderer.Options) (*graphics.Manager, *renderer.Pipeline, error) {
	if factory == nil {
		return nil, nil, errors.New("fallback: no device factory")
	}
	m, err := graphics.NewManager(factory)
	if err != nil {
		return nil, nil, err
	}
	p, err := renderer.New(m, h.composer, h.host, opts)
	if err != nil {
		m.Dispose()
		return nil, nil, err
	}
	return m, p, nil
}

func (h *Handler) attach(m *graphics.Manager, p *renderer.Pipeline, opts renderer.Options) {
	h.manager = m
	h.pipeline = p
	h.exporter = renderer.NewExporter(m, h.composer, h.host, opts)
	p.OnFrameError(h.frameFailed)
	p.OnFrameComplete(h.frameSucceeded)
	m.OnLost(h.contextLost)
}

func (h *Handler) fallbackOptions() renderer.Options {
	opts := h.cfg.Pipeline
	opts.PreviewMaxDimension = h.cfg.FallbackPreviewMaxDimension
	opts.FullResolution = false
	return opts
}

// Init brings up the primary path, or the fallback path when the primary
// fails and fallback is allowed. It returns ErrNoUsablePath when neither
// works.
func (h *Handler) Init() error {
	if h.disposed {
		return renderer.ErrDisposed
	}
	if h.state != Initializing {
		return nil
	}
	m, p, err := h.build(h.primary, h.cfg.Pipeline)
	if err == nil {
		h.attach(m, p, h.cfg.Pipeline)
		h.transition(Primary, CodeNone, "primary graphics path initialized")
		return nil
	}
	if !h.cfg.AllowFallback {
		h.report(CodeInitFailed, err, true)
		h.transition(Fatal, CodeInitFailed, fmt.Sprintf("primary initialization failed: %v", err))
		return fmt.Errorf("%w: %w", ErrNoUsablePath, err)
	}
	h.report(CodeInitFailed, err, false)
	return h.enterFallback(CodeInitFailed, fmt.Sprintf("primary initialization failed: %v", err))
}

// enterFallback tears down the primary path and brings up the reduced one.
func (h *Handler) enterFallback(code Code, reason string) error {
	if h.settle != nil {
		h.settle.Stop()
		h.settle = nil
	}
	h.teardown()
	if !h.cfg.AllowFallback {
		h.report(code, errors.New(reason), true)
		h.transition(Fatal, code, reason)
		return ErrNoUsablePath
	}
	opts := h.fallbackOptions()
	m, p, err := h.build(h.reduced, opts)
	if err != nil {
		h.report(CodeInitFailed, err, true)
		h.transition(Fatal, CodeInitFailed, fmt.Sprintf("%s; fallback initialization failed: %v", reason, err))
		return fmt.Errorf("%w: %w", ErrNoUsablePath, err)
	}
	h.attach(m, p, opts)
	h.transition(Fallback, code, reason)
	h.restore()
	return nil
}

func (h *Handler) teardown() {
	if h.pipeline != nil {
		h.pipeline.Dispose()
		h.pipeline = nil
	}
	if h.manager != nil {
		h.manager.Dispose()
		h.manager = nil
	}
	h.exporter = nil
}

// restore loads the current image and adjustments into the active pipeline.
func (h *Handler) restore() {
	if h.image == nil || h.pipeline == nil {
		return
	}
	if err := h.pipeline.LoadSource(h.image); err != nil {
		h.report(Classify(err), err, false)
		return
	}
	h.imageStale = false
	if h.hasAdj {
		if err := h.pipeline.RenderNow(h.adj); err != nil {
			h.frameFailed(err)
		}
	}
}

func (h *Handler) frameFailed(err error) {
	code := Classify(err)
	h.report(code, err, false)
	switch code {
	case CodeContextLost:
		if h.manager != nil {
			h.manager.NotifyLost(err.Error())
		}
	case CodeShaderFailure:
		if h.state != Primary {
			return
		}
		h.shaderFailures++
		if h.shaderFailures >= h.cfg.ShaderFailureThreshold {
			n := h.shaderFailures
			h.shaderFailures = 0
			h.enterFallback(CodeShaderFailure, fmt.Sprintf("%d consecutive shader failures", n))
		}
	}
}

func (h *Handler) frameSucceeded() {
	h.shaderFailures = 0
}

func (h *Handler) contextLost(reason string) {
	if h.state != Primary {
		return
	}
	h.losses++
	h.retries = 0
	h.transition(DegradedRetry, CodeContextLost, fmt.Sprintf("graphics context lost: %s", reason))
	h.scheduleRetry()
}

// NotifyContextLost reports a loss detected outside the pipeline.
func (h *Handler) NotifyContextLost(reason string) {
	if h.manager != nil {
		h.manager.NotifyLost(reason)
	}
}

func (h *Handler) scheduleRetry() {
	h.settle = h.host.AfterFunc(h.cfg.SettleDelay, h.retry)
}

func (h *Handler) retry() {
	h.settle = nil
	if h.disposed || h.state != DegradedRetry {
		return
	}
	h.retries++
	err := h.reinitialize()
	if err == nil {
		h.transition(Primary, CodeContextLost, fmt.Sprintf("recovered after %d attempt(s)", h.retries))
		h.retries = 0
		return
	}
	h.report(CodeContextLost, err, false)
	if h.retries >= h.cfg.RetryBudget {
		h.enterFallback(CodeContextLost, fmt.Sprintf("context recovery failed after %d attempts: %v", h.retries, err))
		return
	}
	h.scheduleRetry()
}

func (h *Handler) reinitialize() error {
	if err := h.manager.Reinitialize(); err != nil {
		return err
	}
	if err := h.pipeline.Rebuild(); err != nil {
		return err
	}
	if h.imageStale && h.image != nil {
		if err := h.pipeline.LoadSource(h.image); err != nil {
			return err
		}
		h.imageStale = false
	}
	if h.hasAdj && h.image != nil {
		return h.pipeline.RenderNow(h.adj)
	}
	return nil
}

func (h *Handler) usable() error {
	if h.disposed {
		return renderer.ErrDisposed
	}
	switch h.state {
	case Fatal:
		return ErrNoUsablePath
	case Initializing:
		return errors.New("fallback: not initialized")
	}
	return nil
}

// LoadSource loads img into the active pipeline. While recovering it is
// kept and loaded once a device is back.
func (h *Handler) LoadSource(img image.Image) error {
	if err := h.usable(); err != nil {
		return err
	}
	h.image = img
	if h.state == DegradedRetry {
		h.imageStale = true
		return nil
	}
	if err := h.pipeline.LoadSource(img); err != nil {
		h.report(Classify(err), err, false)
		return err
	}
	return nil
}

// Submit forwards adjustments to the active pipeline.
func (h *Handler) Submit(adj adjust.State) error {
	if err := h.usable(); err != nil {
		return err
	}
	h.adj, h.hasAdj = adj, true
	if h.state == DegradedRetry {
		return nil
	}
	return h.pipeline.Submit(adj)
}

// RenderNow renders adj synchronously. Failures are also reported to
// observers.
func (h *Handler) RenderNow(adj adjust.State) error {
	if err := h.usable(); err != nil {
		return err
	}
	h.adj, h.hasAdj = adj, true
	if h.state == DegradedRetry {
		return graphics.ErrContextLost
	}
	if err := h.pipeline.RenderNow(adj); err != nil {
		h.frameFailed(err)
		return err
	}
	h.frameSucceeded()
	return nil
}

// Export renders img at full resolution on the active path.
func (h *Handler) Export(ctx context.Context, img image.Image, adj adjust.State, eo renderer.ExportOptions) (*image.NRGBA, error) {
	if err := h.usable(); err != nil {
		return nil, err
	}
	if h.state == DegradedRetry {
		return nil, graphics.ErrContextLost
	}
	out, err := h.exporter.Export(ctx, img, adj, eo)
	if err != nil {
		h.report(Classify(err), err, false)
		return nil, err
	}
	return out, nil
}

// Performance returns the active pipeline's frame timing.
func (h *Handler) Performance() scheduler.Performance {
	if h.pipeline == nil {
		return scheduler.Performance{}
	}
	return h.pipeline.Performance()
}

// Dispose tears down the active path. Later calls on the handler return
// renderer.ErrDisposed. Dispose is idempotent.
func (h *Handler) Dispose() {
	if h.disposed {
		return
	}
	h.disposed = true
	if h.settle != nil {
		h.settle.Stop()
		h.settle = nil
	}
	h.teardown()
	h.transitions = nil
	h.errors = nil
	h.image = nil
	h.hasAdj = false
}
