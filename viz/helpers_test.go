package viz

import (
	"testing"

	"github.com/kwv/ndtscan/ndt"
	"github.com/stretchr/testify/require"
)

// cornerLayer builds a layer from two perpendicular walls sampled every 2cm
func cornerLayer(t *testing.T) ndt.LayerData {
	t.Helper()
	var points []ndt.Point
	for i := 0; i < 100; i++ {
		s := float64(i) * 0.02
		points = append(points, ndt.Point{X: s, Y: 0.1}, ndt.Point{X: 0.1, Y: s})
	}
	layer := ndt.NewLayer(0.5, points, ndt.LayerOptions{NeighborRadius: 1})
	data := ndt.ExportLayer(0, layer)
	require.NotEmpty(t, data.ValidCells())
	return data
}
