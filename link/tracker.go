package link

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/kwv/ndtscan/ndt"
)

// maxTrajectory bounds the poses kept in memory for the HTTP API
const maxTrajectory = 10000

// Tracker owns one Scanmatcher and makes it usable from the MQTT callback
// goroutine and HTTP handlers at the same time. Scans are processed one at a
// time; readers only ever see snapshots copied after a scan was handled.
type Tracker struct {
	work    sync.Mutex
	matcher *ndt.Scanmatcher
	logger  *log.Logger

	mu         sync.RWMutex
	odometry   ndt.Odometry
	transform  ndt.Transform
	last       ndt.MatchResult
	layers     []ndt.LayerData
	trajectory []ndt.Pose
	scans      int
	rejected   int
}

// NewTracker wraps matcher. A nil logger falls back to the matcher's logger.
func NewTracker(matcher *ndt.Scanmatcher, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = matcher.Logger
	}
	return &Tracker{
		matcher:   matcher,
		logger:    logger,
		transform: ndt.Identity(),
	}
}

// HandleScan feeds one scan to the matcher. The first scan initializes the
// matcher at the message odometry pose; later scans are matched against the
// previous one.
func (t *Tracker) HandleScan(msg *ScanMessage) (ndt.MatchResult, error) {
	t.work.Lock()
	defer t.work.Unlock()

	var (
		result   ndt.MatchResult
		err      error
		accepted = true
	)
	if !t.matcher.Initialized() {
		if msg.IsCloud() {
			err = t.matcher.InitializeCloud(msg.Odom, msg.CloudVecs())
		} else {
			err = t.matcher.Initialize(msg.Odom, msg.Points)
		}
		result = ndt.MatchResult{Transform: ndt.Pose{}, Converged: true}
	} else if msg.IsCloud() {
		result, err = t.matcher.CalculateCloud(msg.Odom, msg.CloudVecs())
	} else {
		result, err = t.matcher.Calculate(msg.Odom, msg.Points)
	}
	if err != nil {
		return result, fmt.Errorf("handling scan: %w", err)
	}
	if len(result.Layers) > 0 {
		accepted = result.Matched >= t.matcher.Config().MinMatchedCells
	}

	t.snapshot(result, accepted)
	return result, nil
}

// snapshot copies everything readers need while the work lock is held
func (t *Tracker) snapshot(result ndt.MatchResult, accepted bool) {
	odom := t.matcher.Odometry()
	layers := make([]ndt.LayerData, t.matcher.LayerCount())
	for i := range layers {
		data, err := t.matcher.LayerData(i)
		if err != nil {
			t.logger.Error("exporting layer", "layer", i, "err", err)
			continue
		}
		layers[i] = data
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.scans++
	if !accepted {
		t.rejected++
	}
	t.odometry = odom
	t.transform = t.matcher.PoseTransform()
	t.last = result
	t.layers = layers
	if accepted {
		t.trajectory = append(t.trajectory, odom.Pose)
		if len(t.trajectory) > maxTrajectory {
			t.trajectory = t.trajectory[len(t.trajectory)-maxTrajectory:]
		}
	}
}

// Initialized reports whether a first scan has been accepted
func (t *Tracker) Initialized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scans > 0
}

// Odometry returns the latest odometry snapshot
func (t *Tracker) Odometry() ndt.Odometry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.odometry
}

// Pose returns the latest pose estimate
func (t *Tracker) Pose() ndt.Pose {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.odometry.Pose
}

// PoseTransform returns the latest sensor to map transform
func (t *Tracker) PoseTransform() ndt.Transform {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transform
}

// LastResult returns the result of the most recent scan
func (t *Tracker) LastResult() ndt.MatchResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Stats returns how many scans were handled and how many were rejected
func (t *Tracker) Stats() (scans, rejected int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scans, t.rejected
}

// LayerCount returns the number of exported layers
func (t *Tracker) LayerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.layers)
}

// LayerData returns the exported distributions of layer id
func (t *Tracker) LayerData(id int) (ndt.LayerData, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 0 || id >= len(t.layers) {
		return ndt.LayerData{}, fmt.Errorf("%w: layer %d of %d", ndt.ErrOutOfRange, id, len(t.layers))
	}
	return t.layers[id], nil
}

// Trajectory returns a copy of the accepted poses, oldest first
func (t *Tracker) Trajectory() []ndt.Pose {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ndt.Pose, len(t.trajectory))
	copy(out, t.trajectory)
	return out
}

// SaveTrajectory writes poses to disk as JSON
func SaveTrajectory(poses []ndt.Pose, path string) error {
	data, err := json.MarshalIndent(poses, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trajectory: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create trajectory directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trajectory: %w", err)
	}
	return nil
}

// LoadTrajectory reads poses written by SaveTrajectory
func LoadTrajectory(path string) ([]ndt.Pose, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trajectory: %w", err)
	}
	var poses []ndt.Pose
	if err := json.Unmarshal(data, &poses); err != nil {
		return nil, fmt.Errorf("unmarshal trajectory: %w", err)
	}
	return poses, nil
}
