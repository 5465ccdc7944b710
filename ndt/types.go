package ndt

import (
	"math"
	"time"
)

// Point represents a 2D coordinate in the sensor or local frame
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pose is a robot pose (or a rigid motion) in a fixed reference frame.
// Theta is in radians and kept in (-π, π].
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// NewPose returns a pose with its heading normalized
func NewPose(x, y, theta float64) Pose {
	return Pose{X: x, Y: y, Theta: NormalizeAngle(theta)}
}

// Transform for rigid 2D maps: x' = ax + by + tx, y' = cx + dy + ty
type Transform struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity transform (no motion)
func Identity() Transform {
	return Transform{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// Covariance is a symmetric 2x2 matrix [[XX XY] [XY YY]]
type Covariance struct {
	XX float64 `json:"xx"`
	XY float64 `json:"xy"`
	YY float64 `json:"yy"`
}

// Det returns the determinant
func (c Covariance) Det() float64 {
	return c.XX*c.YY - c.XY*c.XY
}

// Inverse returns the inverse matrix, or false when c is singular
func (c Covariance) Inverse() (Covariance, bool) {
	det := c.Det()
	if math.Abs(det) < 1e-300 {
		return Covariance{}, false
	}
	return Covariance{XX: c.YY / det, XY: -c.XY / det, YY: c.XX / det}, true
}

// Odometry is the latest motion estimate of a Scanmatcher
type Odometry struct {
	Pose      Pose      `json:"pose"`
	Delta     Pose      `json:"delta"`
	Converged bool      `json:"converged"`
	Stamp     time.Time `json:"stamp"`
}

// LayerTrace records how one resolution level of a match went
type LayerTrace struct {
	CellSize   float64   // Cell edge length of the layer
	Iterations int       // Accepted Newton steps
	Converged  bool      // Step norm dropped below Epsilon
	Scores     []float64 // Score after every accepted step, starting with the seed
	Matched    int       // Distinct cells hit at the final estimate
}

// MatchResult contains the outcome of a scan match
type MatchResult struct {
	Transform Pose         // Motion that maps the source scan onto the reference
	Converged bool         // Whether the finest level converged
	Score     float64      // Finest level score at Transform (lower is better)
	Matched   int          // Distinct cells hit at the finest level
	Layers    []LayerTrace // Coarse to fine
}
