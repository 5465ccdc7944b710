package ndt

import (
	"math"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

// samplePolygon spreads n points evenly along the closed outline of vertices
func samplePolygon(vertices []Point, n int) []Point {
	var perimeter float64
	for i := range vertices {
		perimeter += Distance(vertices[i], vertices[(i+1)%len(vertices)])
	}

	points := make([]Point, 0, n)
	step := perimeter / float64(n)
	side, offset := 0, 0.0
	for k := 0; k < n; k++ {
		target := float64(k) * step
		for {
			a, b := vertices[side], vertices[(side+1)%len(vertices)]
			length := Distance(a, b)
			if target-offset <= length || side == len(vertices)-1 {
				t := (target - offset) / length
				points = append(points, Point{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)})
				break
			}
			offset += length
			side++
		}
	}
	return points
}

// lRoom is an L-shaped room around the sensor. It has no rotational symmetry,
// so all three motion parameters are observable.
func lRoom(n int) []Point {
	return samplePolygon([]Point{
		{-1.37, -0.91},
		{1.63, -0.91},
		{1.63, 0.42},
		{0.58, 0.42},
		{0.58, 1.29},
		{-1.37, 1.29},
	}, n)
}

// squareRoom is a square centered on the sensor with k points per side,
// symmetric under the reflections that also map the grid onto itself.
func squareRoom(k int) []Point {
	const h = 0.95
	corners := []Point{{-h, -h}, {h, -h}, {h, h}, {-h, h}}
	points := make([]Point, 0, 4*k)
	for s := range corners {
		a, b := corners[s], corners[(s+1)%4]
		for j := 0; j < k; j++ {
			t := float64(j) / float64(k)
			points = append(points, Point{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)})
		}
	}
	return points
}

// unitCircle places n points evenly on a circle of radius 1 around center
func unitCircle(center Point, n int) []Point {
	points := make([]Point, n)
	for i := range points {
		a := 2 * math.Pi * float64(i) / float64(n)
		points[i] = Point{X: center.X + math.Cos(a), Y: center.Y + math.Sin(a)}
	}
	return points
}

// observe returns what a sensor sees of world points after the robot moved by motion
func observe(world []Point, motion Pose) []Point {
	return TransformPoints(world, Invert(motion.Transform()))
}

func newTestMatcher(t *testing.T, cfg Config) *Scanmatcher {
	t.Helper()
	logger := log.New(testWriter{t})
	logger.SetLevel(log.DebugLevel)
	m, err := NewScanmatcher(cfg, logger)
	require.NoError(t, err)
	return m
}

// testWriter routes logger output through t.Log
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

func assertPoseNear(t *testing.T, want, got Pose, tolXY, tolTheta float64) {
	t.Helper()
	if math.Abs(want.X-got.X) > tolXY || math.Abs(want.Y-got.Y) > tolXY || math.Abs(AngleDiff(want.Theta, got.Theta)) > tolTheta {
		t.Errorf("pose mismatch: got (%.5f, %.5f, %.5f), want (%.5f, %.5f, %.5f)",
			got.X, got.Y, got.Theta, want.X, want.Y, want.Theta)
	}
}
