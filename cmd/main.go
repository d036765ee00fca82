package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/richinsley/darkroom/adjust"
	"github.com/richinsley/darkroom/fallback"
	"github.com/richinsley/darkroom/logging"
	"github.com/richinsley/darkroom/options"
	"github.com/spf13/cobra"
)

func init() {
	runtime.LockOSThread()
}

type globalFlags struct {
	config  string
	verbose bool
	adjust  string
}

func (g *globalFlags) setupLogging() {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func (g *globalFlags) options() (options.Options, error) {
	return options.LoadFile(g.config)
}

// adjustments loads the sidecar named by --adjust, or IMAGE.toml next to
// the image when present, or the defaults.
func (g *globalFlags) adjustments(imagePath string) (adjust.State, error) {
	path := g.adjust
	if path == "" {
		candidate := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".toml"
		if _, err := os.Stat(candidate); err != nil {
			return adjust.Default(), nil
		}
		path = candidate
	}
	s, err := adjust.LoadFile(path)
	if err != nil {
		return adjust.State{}, fmt.Errorf("failed to load adjustments: %w", err)
	}
	logging.Logger().Debug("darkroom: loaded adjustments", "path", path)
	return s, nil
}

func logTransitions(h *fallback.Handler) {
	h.OnTransition(func(t fallback.Transition) {
		logging.Logger().Info("darkroom: render mode",
			"from", t.From.String(),
			"to", t.To.String(),
			"mode", t.Mode.String(),
			"reason", t.Reason,
		)
	})
	h.OnError(func(ev fallback.ErrorEvent) {
		fmt.Fprintln(os.Stderr, ev.Message)
	})
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := g.options()
			if err != nil {
				return err
			}
			b, err := options.Marshal(o)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "darkroom",
		Short:         "Non-destructive photo rendering on the GPU",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			g.setupLogging()
		},
	}
	root.PersistentFlags().StringVar(&g.config, "config", "darkroom.toml", "configuration file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&g.adjust, "adjust", "", "adjustment sidecar (default IMAGE.toml when present)")
	root.AddCommand(newPreviewCmd(g), newExportCmd(g), newConfigCmd(g))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "darkroom:", err)
		if errors.Is(err, fallback.ErrNoUsablePath) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
