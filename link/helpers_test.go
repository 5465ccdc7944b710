package link

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/kwv/ndtscan/ndt"
	"github.com/stretchr/testify/require"
)

// roomOutline is an L-shaped room, asymmetric so every motion is observable
var roomOutline = []ndt.Point{
	{X: -1.37, Y: -0.91},
	{X: 1.63, Y: -0.91},
	{X: 1.63, Y: 0.42},
	{X: 0.58, Y: 0.42},
	{X: 0.58, Y: 1.29},
	{X: -1.37, Y: 1.29},
}

// roomScan samples the outline every 2cm as seen from pose
func roomScan(pose ndt.Pose) []ndt.Point {
	var world []ndt.Point
	for i := range roomOutline {
		a, b := roomOutline[i], roomOutline[(i+1)%len(roomOutline)]
		n := int(ndt.Distance(a, b) / 0.02)
		for k := 0; k < n; k++ {
			t := float64(k) / float64(n)
			world = append(world, ndt.Point{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)})
		}
	}
	return ndt.TransformPoints(world, ndt.Invert(pose.Transform()))
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	m, err := ndt.NewScanmatcher(ndt.DefaultConfig(), quietLogger())
	require.NoError(t, err)
	return NewTracker(m, nil)
}

func scanPayload(t *testing.T, msg ScanMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}
