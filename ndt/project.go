package ndt

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ProjectedScan is a 2D scan derived from a 3D sensor cloud. Source[i] is
// the index in the input cloud of Points[i].
type ProjectedScan struct {
	Points []Point
	Source []int
}

// ProjectPointsTo2D drops returns that are NaN, infinite, at zero range or
// outside (minRange, maxRange] and projects the rest onto the sensor plane.
// Ordering of the cloud is preserved.
func ProjectPointsTo2D(cloud []r3.Vec, minRange, maxRange float64) ProjectedScan {
	scan := ProjectedScan{
		Points: make([]Point, 0, len(cloud)),
		Source: make([]int, 0, len(cloud)),
	}
	for i, v := range cloud {
		if !finite(v.X) || !finite(v.Y) || !finite(v.Z) {
			continue
		}
		p := Point{X: v.X, Y: v.Y}
		if !inRange(p, minRange, maxRange) {
			continue
		}
		scan.Points = append(scan.Points, p)
		scan.Source = append(scan.Source, i)
	}
	return scan
}

// FilterRange applies the same range gate as ProjectPointsTo2D to a 2D scan
func FilterRange(points []Point, minRange, maxRange float64) []Point {
	return filterScan(points, minRange, maxRange).Points
}

func filterScan(points []Point, minRange, maxRange float64) ProjectedScan {
	scan := ProjectedScan{
		Points: make([]Point, 0, len(points)),
		Source: make([]int, 0, len(points)),
	}
	for i, p := range points {
		if finite(p.X) && finite(p.Y) && inRange(p, minRange, maxRange) {
			scan.Points = append(scan.Points, p)
			scan.Source = append(scan.Source, i)
		}
	}
	return scan
}

func inRange(p Point, minRange, maxRange float64) bool {
	r := math.Hypot(p.X, p.Y)
	return r > 0 && r > minRange && r <= maxRange
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
