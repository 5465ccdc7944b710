package ndt

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestProjectPointsTo2D(t *testing.T) {
	cloud := []r3.Vec{
		{X: 1, Y: 0, Z: 0.5},          // kept
		{X: math.NaN(), Y: 1, Z: 0},   // NaN
		{X: 0, Y: 0, Z: 2},            // zero range in the plane
		{X: 3, Y: 4, Z: 0},            // exactly at maxRange, kept
		{X: 4, Y: 4, Z: 0},            // beyond maxRange
		{X: 0.1, Y: 0, Z: 0},          // at or below minRange
		{X: 0, Y: -2, Z: math.Inf(1)}, // infinite
		{X: -0.5, Y: 0.5, Z: -1},      // kept
	}

	scan := ProjectPointsTo2D(cloud, 0.1, 5)
	want := ProjectedScan{
		Points: []Point{{1, 0}, {3, 4}, {-0.5, 0.5}},
		Source: []int{0, 3, 7},
	}
	if diff := cmp.Diff(want, scan); diff != "" {
		t.Errorf("ProjectPointsTo2D() mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectPointsTo2DEmpty(t *testing.T) {
	scan := ProjectPointsTo2D(nil, 0, 4)
	assert.Empty(t, scan.Points)
	assert.Empty(t, scan.Source)
}

func TestFilterRange(t *testing.T) {
	points := []Point{{0, 0}, {1, 1}, {5, 0}, {math.Inf(-1), 0}, {-2, 2}}
	got := FilterRange(points, 0, 4)
	assert.Equal(t, []Point{{1, 1}, {-2, 2}}, got)
}
