package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kwv/ndtscan/link"
	"github.com/kwv/ndtscan/ndt"
	"github.com/kwv/ndtscan/viz"
	"gopkg.in/yaml.v3"
)

// App encapsulates the application state and dependencies
type App struct {
	Options    Options
	Config     *link.Config
	Tracker    *link.Tracker
	Subscriber *link.Subscriber
	Publisher  *link.Publisher
	Logger     *log.Logger

	Stdout io.Writer
	Stderr io.Writer
}

// NewApp creates an App writing results to stdout and logs to stderr
func NewApp(stdout, stderr io.Writer) *App {
	return &App{
		Logger: newLogger(stderr, log.InfoLevel),
		Stdout: stdout,
		Stderr: stderr,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts Options) {
	a.Options = opts
	level := log.InfoLevel
	if opts.Verbose {
		level = log.DebugLevel
	}
	a.Logger = newLogger(a.Stderr, level)
}

// loadConfig reads the config file. A missing file at the default path
// falls back to the defaults.
func (a *App) loadConfig() (*link.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}

	var cfg *link.Config
	path := a.Options.ConfigFile
	if _, err := os.Stat(path); path == "" || (path == "config.yaml" && os.IsNotExist(err)) {
		a.Logger.Debug("no config file, using defaults", "path", path)
		cfg = link.DefaultConfig()
		cfg.ApplyEnv()
	} else {
		loaded, err := link.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		a.Logger.Info("loaded config", "path", path)
		cfg = loaded
	}

	if a.Options.Addr != "" {
		cfg.HTTP.Addr = a.Options.Addr
	}
	a.Config = cfg
	return cfg, nil
}

func (a *App) newMatcher() (*ndt.Scanmatcher, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return ndt.NewScanmatcher(cfg.Matcher, a.Logger)
}

// matchReport is the JSON written by RunMatch
type matchReport struct {
	Transform ndt.Pose      `json:"transform"`
	Converged bool          `json:"converged"`
	Score     float64       `json:"score"`
	Matched   int           `json:"matched"`
	Layers    []layerReport `json:"layers,omitempty"`
}

type layerReport struct {
	CellSize   float64 `json:"cellSize"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	Matched    int     `json:"matched"`
	Score      float64 `json:"score"`
}

func newMatchReport(result ndt.MatchResult) matchReport {
	report := matchReport{
		Transform: result.Transform,
		Converged: result.Converged,
		Score:     result.Score,
		Matched:   result.Matched,
	}
	for _, l := range result.Layers {
		lr := layerReport{
			CellSize:   l.CellSize,
			Iterations: l.Iterations,
			Converged:  l.Converged,
			Matched:    l.Matched,
		}
		if n := len(l.Scores); n > 0 {
			lr.Score = l.Scores[n-1]
		}
		report.Layers = append(report.Layers, lr)
	}
	return report
}

// RunMatch matches the first scan of scanPath against the first scan of
// referencePath and writes the result as JSON
func (a *App) RunMatch(ctx context.Context, referencePath, scanPath string) error {
	matcher, err := a.newMatcher()
	if err != nil {
		return err
	}

	reference, err := LoadScans(ctx, referencePath)
	if err != nil {
		return err
	}
	scan, err := LoadScans(ctx, scanPath)
	if err != nil {
		return err
	}

	guess := ndt.Identity()
	if a.Options.Guess != "" {
		pose, err := parsePose(a.Options.Guess)
		if err != nil {
			return err
		}
		guess = pose.Transform()
	}

	cfg := matcher.Config()
	source, target := scanPoints(scan[0], cfg), scanPoints(reference[0], cfg)

	start := time.Now()
	var result ndt.MatchResult
	if a.Options.Biber {
		result, err = matcher.MatchBiber(source, target, guess)
	} else {
		result, err = matcher.Match(source, target, guess)
	}
	if err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	a.Logger.Info("matched",
		"x", result.Transform.X, "y", result.Transform.Y, "theta", result.Transform.Theta,
		"converged", result.Converged, "took", time.Since(start).Round(time.Millisecond))

	return writeJSON(a.Stdout, newMatchReport(result))
}

// replaySummary is the JSON written by RunReplay
type replaySummary struct {
	Pose     ndt.Pose `json:"pose"`
	Scans    int      `json:"scans"`
	Rejected int      `json:"rejected"`
	Poses    int      `json:"poses"`
}

// RunReplay feeds every scan of path through a Tracker in order
func (a *App) RunReplay(ctx context.Context, path string) error {
	matcher, err := a.newMatcher()
	if err != nil {
		return err
	}
	scans, err := LoadScans(ctx, path)
	if err != nil {
		return err
	}
	if a.Options.SaveScans != "" {
		if err := SaveScans(a.Options.SaveScans, scans); err != nil {
			return fmt.Errorf("saving scans: %w", err)
		}
		a.Logger.Info("saved scans", "path", a.Options.SaveScans, "scans", len(scans))
	}

	a.Tracker = link.NewTracker(matcher, a.Logger)
	for i, msg := range scans {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := a.Tracker.HandleScan(msg)
		if err != nil {
			a.Logger.Warn("skipping scan", "index", i, "err", err)
			continue
		}
		pose := a.Tracker.Pose()
		a.Logger.Debug("scan", "index", i, "x", pose.X, "y", pose.Y, "theta", pose.Theta, "converged", result.Converged)
	}

	trajectory := a.Tracker.Trajectory()
	if a.Options.Trajectory != "" {
		if err := link.SaveTrajectory(trajectory, a.Options.Trajectory); err != nil {
			return err
		}
		a.Logger.Info("saved trajectory", "path", a.Options.Trajectory, "poses", len(trajectory))
	}

	scanCount, rejected := a.Tracker.Stats()
	return writeJSON(a.Stdout, replaySummary{
		Pose:     a.Tracker.Pose(),
		Scans:    scanCount,
		Rejected: rejected,
		Poses:    len(trajectory),
	})
}

// RunRender builds the layers of the first scan in path and renders one
func (a *App) RunRender(ctx context.Context, path string) error {
	matcher, err := a.newMatcher()
	if err != nil {
		return err
	}
	scans, err := LoadScans(ctx, path)
	if err != nil {
		return err
	}

	msg := scans[0]
	if msg.IsCloud() {
		err = matcher.InitializeCloud(msg.Odom, msg.CloudVecs())
	} else {
		err = matcher.Initialize(msg.Odom, msg.Points)
	}
	if err != nil {
		return err
	}
	data, err := matcher.LayerData(a.Options.Layer)
	if err != nil {
		return fmt.Errorf("layer %d: %w", a.Options.Layer, err)
	}

	toStdout := a.Options.Output == "-" || a.Options.Output == ""
	if a.Options.Format == "field" && !toStdout {
		r := viz.NewFieldRenderer(data)
		r.Scan = matcher.Scan()
		if err := r.SavePNG(a.Options.Output); err != nil {
			return fmt.Errorf("writing %s: %w", a.Options.Output, err)
		}
	} else {
		var buf bytes.Buffer
		if err := renderLayer(&buf, a.Options.Format, data, matcher.Scan()); err != nil {
			return err
		}
		if toStdout {
			_, err = a.Stdout.Write(buf.Bytes())
			return err
		}
		if err := os.WriteFile(a.Options.Output, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", a.Options.Output, err)
		}
	}
	a.Logger.Info("rendered layer", "layer", data.Layer, "cellSize", data.CellSize, "format", a.Options.Format, "output", a.Options.Output)
	return nil
}

// renderLayer writes data in format. scan, if any, is drawn over vector and field output.
func renderLayer(w io.Writer, format string, data ndt.LayerData, scan []ndt.Point) error {
	switch format {
	case "svg", "png":
		r := viz.NewLayerRenderer(data)
		r.Scan = scan
		r.Pose = &ndt.Pose{}
		if format == "svg" {
			return r.RenderToSVG(w)
		}
		return r.RenderToPNG(w)
	case "field":
		r := viz.NewFieldRenderer(data)
		r.Scan = scan
		return r.Encode(w)
	case "geojson":
		payload, err := data.FeatureCollection(2).MarshalJSON()
		if err != nil {
			return err
		}
		_, err = w.Write(payload)
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// RunConfig writes the effective configuration, defaults and environment
// overrides included, as YAML
func (a *App) RunConfig(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.Options.ConfigOut != "-" && a.Options.ConfigOut != "" {
		if err := link.SaveConfig(a.Options.ConfigOut, cfg); err != nil {
			return err
		}
		a.Logger.Info("saved config", "path", a.Options.ConfigOut)
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	_, err = a.Stdout.Write(data)
	return err
}

// handleScan is the MQTT scan callback: match, then publish the estimate
func (a *App) handleScan(msg *link.ScanMessage, err error) {
	if err != nil {
		return
	}
	result, err := a.Tracker.HandleScan(msg)
	if err != nil {
		a.Logger.Warn("scan not matched", "err", err)
		return
	}
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.Publish(a.Tracker.Odometry(), result, a.Tracker.PoseTransform()); err != nil {
		if errors.Is(err, link.ErrNotConnected) {
			a.Logger.Debug("pose not published", "err", err)
			return
		}
		a.Logger.Error("publishing pose", "err", err)
	}
}

// RunServe tracks scans from MQTT and serves the estimate over HTTP until
// ctx is done
func (a *App) RunServe(ctx context.Context) error {
	matcher, err := a.newMatcher()
	if err != nil {
		return err
	}
	cfg := a.Config
	a.Tracker = link.NewTracker(matcher, a.Logger)

	if cfg.MQTTEnabled() {
		sub, err := link.NewSubscriber(cfg, a.handleScan, a.Logger)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		a.Subscriber = sub
		a.Publisher = link.NewPublisher(sub.Client(), cfg.MQTT, a.Logger)
		sub.Start(ctx)
		a.Logger.Info("MQTT enabled", "scanTopic", cfg.MQTT.ScanTopic, "pose", a.Publisher.Topic("pose"))
	} else {
		a.Logger.Warn("MQTT disabled, set mqtt.broker to receive scans")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newHTTPServer(a.Tracker, a.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP server starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			a.shutdown()
			return fmt.Errorf("HTTP server: %w", err)
		}
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("HTTP shutdown", "err", err)
	}
	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	if a.Subscriber != nil {
		a.Subscriber.Disconnect()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
