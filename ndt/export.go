package ndt

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gonum.org/v1/gonum/mat"
)

// CellData is the exported state of one cell
type CellData struct {
	Index      GridIndex  `json:"index"`
	Center     Point      `json:"center"`
	Mean       Point      `json:"mean"`
	Covariance Covariance `json:"covariance"`
	Count      int        `json:"count"`
	Valid      bool       `json:"valid"`
}

// LayerData is a snapshot of one layer for visualization or persistence by
// the caller.
type LayerData struct {
	Layer    int        `json:"layer"`
	CellSize float64    `json:"cellSize"`
	Bounds   orb.Bound  `json:"bounds"`
	Cells    []CellData `json:"cells"`
}

// ExportLayer copies the cells of l into a LayerData
func ExportLayer(id int, l *Layer) LayerData {
	data := LayerData{
		Layer:    id,
		CellSize: l.CellSize(),
		Bounds:   l.Bounds(),
		Cells:    make([]CellData, 0, l.Len()),
	}
	for i := range l.cells {
		c := &l.cells[i]
		data.Cells = append(data.Cells, CellData{
			Index:      c.Index,
			Center:     l.CellCenter(c.Index),
			Mean:       c.mean,
			Covariance: c.cov,
			Count:      c.count,
			Valid:      c.valid,
		})
	}
	return data
}

// ValidCells returns only the cells that contribute to scoring
func (d LayerData) ValidCells() []CellData {
	var out []CellData
	for _, c := range d.Cells {
		if c.Valid {
			out = append(out, c)
		}
	}
	return out
}

// FeatureCollection converts the valid cells to GeoJSON polygons tracing the
// sigma ellipse of each distribution.
func (d LayerData) FeatureCollection(sigma float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range d.Cells {
		if !c.Valid {
			continue
		}
		f := geojson.NewFeature(orb.Polygon{SigmaEllipse(c.Mean, c.Covariance, sigma, 32)})
		f.ID = c.Index.X*1_000_003 + c.Index.Y
		f.Properties["layer"] = d.Layer
		f.Properties["cellSize"] = d.CellSize
		f.Properties["gridX"] = c.Index.X
		f.Properties["gridY"] = c.Index.Y
		f.Properties["meanX"] = c.Mean.X
		f.Properties["meanY"] = c.Mean.Y
		f.Properties["covXX"] = c.Covariance.XX
		f.Properties["covXY"] = c.Covariance.XY
		f.Properties["covYY"] = c.Covariance.YY
		f.Properties["count"] = c.Count
		fc.Append(f)
	}
	return fc
}

// EllipseAxes returns the semi-axes (major first) of the one sigma ellipse
// of cov and the direction of the major axis in radians.
func EllipseAxes(cov Covariance) (major, minor, angle float64) {
	var eig mat.EigenSym
	ok := eig.Factorize(mat.NewSymDense(2, []float64{cov.XX, cov.XY, cov.XY, cov.YY}), true)
	if !ok {
		return 0, 0, 0
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Values are ascending; column 1 is the major axis
	major = math.Sqrt(math.Max(values[1], 0))
	minor = math.Sqrt(math.Max(values[0], 0))
	angle = math.Atan2(vecs.At(1, 1), vecs.At(0, 1))
	return major, minor, angle
}

// SigmaEllipse returns a closed ring approximating the sigma ellipse of a
// Gaussian with the given mean and covariance.
func SigmaEllipse(mean Point, cov Covariance, sigma float64, segments int) orb.Ring {
	if segments < 3 {
		segments = 3
	}
	major, minor, angle := EllipseAxes(cov)
	cosA, sinA := math.Cos(angle), math.Sin(angle)

	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		t := 2 * math.Pi * float64(i) / float64(segments)
		ex := sigma * major * math.Cos(t)
		ey := sigma * minor * math.Sin(t)
		ring = append(ring, orb.Point{
			mean.X + cosA*ex - sinA*ey,
			mean.Y + sinA*ex + cosA*ey,
		})
	}
	return append(ring, ring[0])
}
