package link

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kwv/ndtscan/ndt"
	"gonum.org/v1/gonum/spatial/r3"
)

// ScanMessage is one sensor sweep as received over MQTT or read from a scan
// file. Exactly one of Points and Cloud is expected to be set; Odom is the
// wheel odometry pose at capture time.
type ScanMessage struct {
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
	Odom      ndt.Pose     `json:"odom"`
	Points    []ndt.Point  `json:"points,omitempty"`
	Cloud     [][3]float64 `json:"cloud,omitempty"`
}

// PoseMessage is published to <prefix>/pose
type PoseMessage struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Theta     float64 `json:"theta"`
	Converged bool    `json:"converged"`
	Timestamp int64   `json:"timestamp"`
}

// OdometryMessage is published to <prefix>/odometry
type OdometryMessage struct {
	Pose      ndt.Pose `json:"pose"`
	Delta     ndt.Pose `json:"delta"`
	Converged bool     `json:"converged"`
	Score     float64  `json:"score"`
	Matched   int      `json:"matched"`
	Timestamp int64    `json:"timestamp"`
}

// TransformMessage is published to <prefix>/transform: the rigid transform
// from the sensor frame to the map frame
type TransformMessage struct {
	Parent    string        `json:"parent"`
	Child     string        `json:"child"`
	Matrix    ndt.Transform `json:"matrix"`
	Timestamp int64         `json:"timestamp"`
}

// DecodeScan parses a JSON ScanMessage and checks that it carries points
func DecodeScan(payload []byte) (*ScanMessage, error) {
	var msg ScanMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decoding scan message: %w", err)
	}
	if len(msg.Points) == 0 && len(msg.Cloud) == 0 {
		return nil, fmt.Errorf("scan message has neither points nor cloud")
	}
	if len(msg.Points) > 0 && len(msg.Cloud) > 0 {
		return nil, fmt.Errorf("scan message has both points and cloud")
	}
	return &msg, nil
}

// IsCloud reports whether the message carries a 3D cloud
func (m *ScanMessage) IsCloud() bool {
	return len(m.Cloud) > 0
}

// CloudVecs converts the raw cloud to gonum vectors
func (m *ScanMessage) CloudVecs() []r3.Vec {
	vecs := make([]r3.Vec, len(m.Cloud))
	for i, c := range m.Cloud {
		vecs[i] = r3.Vec{X: c[0], Y: c[1], Z: c[2]}
	}
	return vecs
}

// Time returns the capture time, or the zero time when unset
func (m *ScanMessage) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// NewPoseMessage builds the pose payload from an odometry snapshot
func NewPoseMessage(odom ndt.Odometry) PoseMessage {
	return PoseMessage{
		X:         odom.Pose.X,
		Y:         odom.Pose.Y,
		Theta:     odom.Pose.Theta,
		Converged: odom.Converged,
		Timestamp: odom.Stamp.UnixMilli(),
	}
}

// NewOdometryMessage builds the odometry payload
func NewOdometryMessage(odom ndt.Odometry, result ndt.MatchResult) OdometryMessage {
	return OdometryMessage{
		Pose:      odom.Pose,
		Delta:     odom.Delta,
		Converged: odom.Converged,
		Score:     result.Score,
		Matched:   result.Matched,
		Timestamp: odom.Stamp.UnixMilli(),
	}
}
