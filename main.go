package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/kwv/ndtscan/ndt"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Options are the command line settings shared by every command
type Options struct {
	ConfigFile string
	Verbose    bool
	Output     string // Output file; "-" writes to stdout
	Format     string // render: svg, png, field or geojson
	Layer      int    // render: layer index, 0 is the coarsest
	Biber      bool   // match: single resolution overlapping grids
	Guess      string // match: initial transform as "x,y,theta"
	Trajectory string // replay: file to save the estimated trajectory to
	SaveScans  string // replay: file to save the loaded scan sequence to
	Addr       string // serve: overrides http.addr
	ConfigOut  string // config: file to write the effective configuration to; "-" is stdout
}

// Runner executes the commands. App is the production implementation.
type Runner interface {
	ApplyOptions(opts Options)
	RunMatch(ctx context.Context, referencePath, scanPath string) error
	RunReplay(ctx context.Context, path string) error
	RunRender(ctx context.Context, path string) error
	RunServe(ctx context.Context) error
	RunConfig(ctx context.Context) error
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := NewApp(os.Stdout, os.Stderr)
	if err := newRootCmd(app).ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const rootLong = `Laser scan odometry with multi-resolution NDT matching.

Scan arguments are JSON files (an array, a single scan or one scan per
line) or http(s) URLs serving the same content.`

func newRootCmd(app Runner) *cobra.Command {
	var opts Options

	root := &cobra.Command{
		Use:          "ndtscan",
		Short:        "Laser scan odometry with multi-resolution NDT matching",
		Long:         rootLong,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.ApplyOptions(opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.ConfigFile, "config", "config.yaml", "path to configuration file")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose logging")

	matchCmd := &cobra.Command{
		Use:   "match REFERENCE SCAN",
		Short: "Estimate the motion that maps SCAN onto REFERENCE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunMatch(cmd.Context(), args[0], args[1])
		},
	}
	matchCmd.Flags().BoolVar(&opts.Biber, "biber", false, "use the single resolution matcher with four overlapping grids")
	matchCmd.Flags().StringVar(&opts.Guess, "guess", "", "initial transform as x,y,theta")

	replayCmd := &cobra.Command{
		Use:   "replay SCANS",
		Short: "Run odometry over a recorded scan sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunReplay(cmd.Context(), args[0])
		},
	}
	replayCmd.Flags().StringVar(&opts.Trajectory, "trajectory", "", "save the estimated poses to this JSON file")
	replayCmd.Flags().StringVar(&opts.SaveScans, "save-scans", "", "save the loaded scans to this JSON file, useful with a URL source")

	renderCmd := &cobra.Command{
		Use:   "render SCAN",
		Short: "Render one layer built from the first scan in SCAN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunRender(cmd.Context(), args[0])
		},
	}
	renderCmd.Flags().StringVarP(&opts.Output, "output", "o", "layer.svg", "output file, - for stdout")
	renderCmd.Flags().StringVar(&opts.Format, "format", "svg", "output format: svg, png, field or geojson")
	renderCmd.Flags().IntVar(&opts.Layer, "layer", 0, "layer index, 0 is the coarsest")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Track scans from MQTT and serve the estimate over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunServe(cmd.Context())
		},
	}
	serveCmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (default from config)")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print or save the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunConfig(cmd.Context())
		},
	}
	configCmd.Flags().StringVarP(&opts.ConfigOut, "output", "o", "-", "output file, - for stdout")

	root.AddCommand(matchCmd, replayCmd, renderCmd, serveCmd, configCmd)
	return root
}

// newLogger creates a logger with timestamps formatted as "HH:MM:SS.ms"
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// parsePose parses "x,y,theta"
func parsePose(s string) (ndt.Pose, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return ndt.Pose{}, fmt.Errorf("invalid pose %q: want x,y,theta", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return ndt.Pose{}, fmt.Errorf("invalid pose %q: %w", s, err)
		}
		v[i] = f
	}
	return ndt.NewPose(v[0], v[1], v[2]), nil
}
