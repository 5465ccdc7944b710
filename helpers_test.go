package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/kwv/ndtscan/link"
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

// writeScans saves one scan per pose and returns the file path
func writeScans(t *testing.T, poses ...ndt.Pose) string {
	t.Helper()
	scans := make([]*link.ScanMessage, len(poses))
	for i, p := range poses {
		scans[i] = &link.ScanMessage{Timestamp: int64(1000 * (i + 1)), Points: roomScan(p)}
	}
	path := filepath.Join(t.TempDir(), "scans.json")
	require.NoError(t, SaveScans(path, scans))
	return path
}

// newTestApp returns an App with default config and output captured in stdout
func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	var stdout bytes.Buffer
	app := NewApp(&stdout, io.Discard)
	app.Logger = log.New(io.Discard)
	app.Config = link.DefaultConfig()
	return app, &stdout
}

// trackerAt returns a tracker fed with scans taken at poses
func trackerAt(t *testing.T, poses ...ndt.Pose) *link.Tracker {
	t.Helper()
	m, err := ndt.NewScanmatcher(ndt.DefaultConfig(), log.New(io.Discard))
	require.NoError(t, err)
	tr := link.NewTracker(m, nil)
	for _, p := range poses {
		_, err := tr.HandleScan(&link.ScanMessage{Points: roomScan(p)})
		require.NoError(t, err)
	}
	return tr
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decodeJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}
