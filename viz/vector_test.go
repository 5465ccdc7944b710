package viz

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/kwv/ndtscan/ndt"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdewolff/canvas"
)

func TestLayerRendererSVG(t *testing.T) {
	r := NewLayerRenderer(cornerLayer(t))
	r.Scan = []ndt.Point{{X: 0.5, Y: 0.1}, {X: 0.1, Y: 0.5}}
	r.Pose = &ndt.Pose{X: 0.8, Y: 0.8, Theta: 0.3}

	var buf bytes.Buffer
	require.NoError(t, r.RenderToSVG(&buf))
	assert.Contains(t, buf.String(), "<svg")
	assert.Contains(t, buf.String(), "path")
}

func TestLayerRendererPNG(t *testing.T) {
	r := NewLayerRenderer(cornerLayer(t))
	r.Resolution = canvas.DPI(50)

	var buf bytes.Buffer
	require.NoError(t, r.RenderToPNG(&buf))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
	assert.Greater(t, img.Bounds().Dy(), 0)
}

func TestLayerRendererEmpty(t *testing.T) {
	r := NewLayerRenderer(ndt.LayerData{CellSize: 1})
	var buf bytes.Buffer
	assert.ErrorIs(t, r.RenderToSVG(&buf), ErrEmpty)
	assert.ErrorIs(t, r.RenderToPNG(&buf), ErrEmpty)

	// A scan alone is enough to draw
	r.Scan = []ndt.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}
	assert.NoError(t, r.RenderToSVG(&buf))
}

func TestWorldBoundsCoverEllipsesAndPose(t *testing.T) {
	data := cornerLayer(t)
	r := NewLayerRenderer(data)
	r.Pose = &ndt.Pose{X: 5, Y: -3}

	b, ok := r.worldBounds()
	require.True(t, ok)
	assert.True(t, b.Contains(orb.Point{5, -3}))
	for _, c := range data.ValidCells() {
		assert.True(t, b.Contains(orb.Point{c.Mean.X, c.Mean.Y}))
	}
}

func TestNRGBAToRGBA(t *testing.T) {
	assert.Equal(t, color.RGBA{}, nrgbaToRGBA(color.NRGBA{R: 255, A: 0}))
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, nrgbaToRGBA(color.NRGBA{R: 10, G: 20, B: 30, A: 255}))
	assert.Equal(t, color.RGBA{R: 127, G: 0, B: 0, A: 127}, nrgbaToRGBA(color.NRGBA{R: 255, A: 127}))
}
