package ndt

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/spatial/r3"
)

// Scanmatcher estimates robot motion by aligning each new scan with a stack
// of NDT layers built from the previous one, coarse to fine.
//
// A Scanmatcher is not safe for concurrent use. Callers that share one
// between goroutines must serialize Initialize, Calculate and the setters.
type Scanmatcher struct {
	Logger *log.Logger

	cfg         Config
	pose        Pose
	lastOdom    Pose
	transform   Pose
	converged   bool
	stamp       time.Time
	scan        ProjectedScan
	layers      []*Layer
	initialized bool
	stale       bool
}

// NewScanmatcher validates cfg and returns an uninitialized matcher.
// A nil logger falls back to log.Default().
func NewScanmatcher(cfg Config, logger *log.Logger) (*Scanmatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scanmatcher{Logger: logger, cfg: cfg}, nil
}

// Config returns the active configuration
func (m *Scanmatcher) Config() Config { return m.cfg }

// Initialized reports whether a reference scan has been set
func (m *Scanmatcher) Initialized() bool { return m.initialized }

// Initialize seeds the reference scan and the starting pose. The pose is
// also taken as the first odometry reading.
func (m *Scanmatcher) Initialize(pose Pose, points []Point) error {
	return m.initialize(pose, filterScan(points, m.cfg.MinRange, m.cfg.MaxRange))
}

// InitializeCloud is Initialize for a 3D sensor cloud
func (m *Scanmatcher) InitializeCloud(pose Pose, cloud []r3.Vec) error {
	return m.initialize(pose, ProjectPointsTo2D(cloud, m.cfg.MinRange, m.cfg.MaxRange))
}

func (m *Scanmatcher) initialize(pose Pose, scan ProjectedScan) error {
	layers, err := buildLayers(m.cfg, scan.Points)
	if err != nil {
		return err
	}

	pose.Theta = NormalizeAngle(pose.Theta)
	m.pose = pose
	m.lastOdom = pose
	m.transform = Pose{}
	m.converged = true
	m.stamp = time.Now()
	m.scan = scan
	m.layers = layers
	m.initialized = true
	m.stale = false

	m.Logger.Debug("ndt initialized", "points", len(scan.Points), "layers", len(layers),
		"x", pose.X, "y", pose.Y, "theta", pose.Theta)
	return nil
}

// Calculate aligns a new scan with the reference, using the motion reported
// by odometry since the last update as initial guess. The pose is advanced
// to the best estimate even when the finest level did not converge; it is
// kept unchanged when the input is insufficient or too few cells matched.
func (m *Scanmatcher) Calculate(odom Pose, points []Point) (MatchResult, error) {
	return m.calculate(odom, filterScan(points, m.cfg.MinRange, m.cfg.MaxRange))
}

// CalculateCloud is Calculate for a 3D sensor cloud
func (m *Scanmatcher) CalculateCloud(odom Pose, cloud []r3.Vec) (MatchResult, error) {
	return m.calculate(odom, ProjectPointsTo2D(cloud, m.cfg.MinRange, m.cfg.MaxRange))
}

func (m *Scanmatcher) calculate(odom Pose, scan ProjectedScan) (MatchResult, error) {
	if !m.initialized {
		m.Logger.Error("calculate called before initialize")
		return MatchResult{}, ErrNotInitialized
	}
	if len(scan.Points) < m.cfg.MinPointsPerCell {
		return MatchResult{}, fmt.Errorf("%w: %d points within range", ErrInsufficientInput, len(scan.Points))
	}

	if m.stale {
		if err := m.rebuildReference(); err != nil {
			return MatchResult{}, err
		}
	}

	next, err := buildLayers(m.cfg, scan.Points)
	if err != nil {
		return MatchResult{}, err
	}

	guess := RelativePose(m.lastOdom, odom)
	result := matchLayers(m.cfg.newOptimizer(), m.layers, scan.Points, guess, m.Logger)

	if result.Matched < m.cfg.MinMatchedCells {
		m.Logger.Warn("ndt match rejected", "matched", result.Matched, "required", m.cfg.MinMatchedCells)
		result.Converged = false
		return result, nil
	}

	m.pose = ComposePoses(m.pose, result.Transform)
	m.transform = result.Transform
	m.converged = result.Converged
	m.lastOdom = odom
	m.stamp = time.Now()
	m.scan = scan
	m.layers = next

	if !result.Converged {
		m.Logger.Warn("ndt did not converge", "score", result.Score, "matched", result.Matched)
	}
	m.Logger.Debug("ndt pose updated", "x", m.pose.X, "y", m.pose.Y, "theta", m.pose.Theta,
		"dx", result.Transform.X, "dy", result.Transform.Y, "dtheta", result.Transform.Theta)
	return result, nil
}

// EstimatePose matches secondScan against firstScan without touching the
// matcher state. The odometry poses of both scans provide the initial
// guess; the returned pose is prevPose composed with the estimated motion.
// When too few cells match, currPose is returned unchanged.
func (m *Scanmatcher) EstimatePose(prevPose Pose, firstScan []Point, currPose Pose, secondScan []Point) (Pose, MatchResult, error) {
	first := FilterRange(firstScan, m.cfg.MinRange, m.cfg.MaxRange)
	second := FilterRange(secondScan, m.cfg.MinRange, m.cfg.MaxRange)
	if len(second) < m.cfg.MinPointsPerCell {
		return currPose, MatchResult{}, fmt.Errorf("%w: %d points within range", ErrInsufficientInput, len(second))
	}
	layers, err := buildLayers(m.cfg, first)
	if err != nil {
		return currPose, MatchResult{}, err
	}

	result := matchLayers(m.cfg.newOptimizer(), layers, second, RelativePose(prevPose, currPose), m.Logger)
	if result.Matched < m.cfg.MinMatchedCells {
		result.Converged = false
		return currPose, result, nil
	}
	return ComposePoses(prevPose, result.Transform), result, nil
}

// Match aligns source with target coarse to fine and returns the transform
// that maps source points onto target. Both sets pass the range gate first.
// It does not use or change the matcher state.
func (m *Scanmatcher) Match(source, target []Point, initGuess Transform) (MatchResult, error) {
	source = FilterRange(source, m.cfg.MinRange, m.cfg.MaxRange)
	target = FilterRange(target, m.cfg.MinRange, m.cfg.MaxRange)
	if len(source) < m.cfg.MinPointsPerCell {
		return MatchResult{Transform: initGuess.Pose()}, fmt.Errorf("%w: source has %d points", ErrInsufficientInput, len(source))
	}
	layers, err := buildLayers(m.cfg, target)
	if err != nil {
		return MatchResult{Transform: initGuess.Pose()}, err
	}
	result := matchLayers(m.cfg.newOptimizer(), layers, source, initGuess.Pose(), m.Logger)
	if result.Matched < m.cfg.MinMatchedCells {
		result.Converged = false
	}
	return result, nil
}

// MatchCloud projects both clouds with the configured range gate and runs Match
func (m *Scanmatcher) MatchCloud(source, target []r3.Vec, initGuess Transform) (MatchResult, error) {
	return m.Match(
		ProjectPointsTo2D(source, m.cfg.MinRange, m.cfg.MaxRange).Points,
		ProjectPointsTo2D(target, m.cfg.MinRange, m.cfg.MaxRange).Points,
		initGuess,
	)
}

// rebuildReference applies the current range gate to the stored reference
// scan and rebuilds its layer stack. Points dropped by an earlier, tighter
// gate are not recovered.
func (m *Scanmatcher) rebuildReference() error {
	ref := filterScan(m.scan.Points, m.cfg.MinRange, m.cfg.MaxRange)
	for i, j := range ref.Source {
		ref.Source[i] = m.scan.Source[j]
	}
	layers, err := buildLayers(m.cfg, ref.Points)
	if err != nil {
		return fmt.Errorf("rebuilding reference layers: %w", err)
	}
	m.scan = ref
	m.layers = layers
	m.stale = false
	return nil
}

// buildLayers creates the coarse-to-fine stack for a reference scan. It
// fails when even the coarsest level has no valid cell.
func buildLayers(cfg Config, points []Point) ([]*Layer, error) {
	opts := cfg.layerOptions()
	layers := make([]*Layer, cfg.Layers)
	for i := range layers {
		layers[i] = NewLayer(cfg.CellSize(i), points, opts)
	}
	if layers[0].ValidCells() == 0 {
		return nil, fmt.Errorf("%w: %d points populate no valid cell", ErrInsufficientInput, len(points))
	}
	return layers, nil
}

// matchLayers runs the optimizer on every layer, seeding each level with the
// estimate of the previous one.
func matchLayers(opt optimizer, layers []*Layer, points []Point, guess Pose, logger *log.Logger) MatchResult {
	result := MatchResult{Layers: make([]LayerTrace, 0, len(layers))}
	pose := guess
	for i, layer := range layers {
		f := func(p Pose, withDerivatives bool) Evaluation {
			return layer.Evaluate(p, points, withDerivatives)
		}
		opt.maxTranslation = layer.CellSize() / 2
		var trace LayerTrace
		pose, trace = opt.minimize(f, pose)
		trace.CellSize = layer.CellSize()
		result.Layers = append(result.Layers, trace)

		logger.Debug("ndt layer", "layer", i, "cellSize", trace.CellSize, "iterations", trace.Iterations,
			"converged", trace.Converged, "score", trace.Scores[len(trace.Scores)-1], "matched", trace.Matched)
	}

	finest := result.Layers[len(result.Layers)-1]
	result.Transform = pose
	result.Converged = finest.Converged
	result.Score = finest.Scores[len(finest.Scores)-1]
	result.Matched = finest.Matched
	return result
}

// Pose returns the current pose estimate
func (m *Scanmatcher) Pose() Pose { return m.pose }

// Transformation returns the motion estimated by the last Calculate
func (m *Scanmatcher) Transformation() Pose { return m.transform }

// PoseTransform returns the current pose as a rigid transform, ready to be
// published as the map to sensor transform.
func (m *Scanmatcher) PoseTransform() Transform { return m.pose.Transform() }

// Odometry returns the pose, the last motion and when it was computed
func (m *Scanmatcher) Odometry() Odometry {
	return Odometry{
		Pose:      m.pose,
		Delta:     m.transform,
		Converged: m.converged,
		Stamp:     m.stamp,
	}
}

// LayerCount is the number of levels of the current reference
func (m *Scanmatcher) LayerCount() int { return len(m.layers) }

// LayerData exports the distributions of level id (0 is coarsest)
func (m *Scanmatcher) LayerData(id int) (LayerData, error) {
	if id < 0 || id >= len(m.layers) {
		return LayerData{}, fmt.Errorf("%w: layer %d of %d", ErrOutOfRange, id, len(m.layers))
	}
	return ExportLayer(id, m.layers[id]), nil
}

// Point returns point id of the last accepted scan
func (m *Scanmatcher) Point(id int) (Point, error) {
	if id < 0 || id >= len(m.scan.Points) {
		return Point{}, fmt.Errorf("%w: point %d of %d", ErrOutOfRange, id, len(m.scan.Points))
	}
	return m.scan.Points[id], nil
}

// Scan returns a copy of the last accepted scan
func (m *Scanmatcher) Scan() []Point {
	out := make([]Point, len(m.scan.Points))
	copy(out, m.scan.Points)
	return out
}

// SetResolution changes the coarsest cell divisor. The layer stack is
// rebuilt before the next match.
func (m *Scanmatcher) SetResolution(res int) error {
	cfg := m.cfg
	cfg.Resolution = res
	return m.reconfigure(cfg)
}

// SetLayers changes the number of levels
func (m *Scanmatcher) SetLayers(layers int) error {
	cfg := m.cfg
	cfg.Layers = layers
	return m.reconfigure(cfg)
}

// SetMaxRange changes the range gate and, through it, every cell size
func (m *Scanmatcher) SetMaxRange(r float64) error {
	cfg := m.cfg
	cfg.MaxRange = r
	return m.reconfigure(cfg)
}

func (m *Scanmatcher) reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg = cfg
	m.stale = m.initialized
	return nil
}
