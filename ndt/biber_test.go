package ndt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBiberGridsOverlap(t *testing.T) {
	grids := newBiberGrids(0.5, lRoom(360), LayerOptions{NeighborRadius: 1, MinPointsPerCell: 3})
	require.Len(t, grids, 4)

	origins := []Point{{0, 0}, {0.25, 0}, {0, 0.25}, {0.25, 0.25}}
	for i, g := range grids {
		assert.Equal(t, origins[i], g.Origin())
		assert.Equal(t, 0, g.opts.NeighborRadius, "each point scores against its containing cell")
		assert.Greater(t, g.ValidCells(), 0)
	}
}

func TestMatchBiberRecoversMotion(t *testing.T) {
	m := newTestMatcher(t, DefaultConfig())
	room := lRoom(720)
	motion := Pose{X: 0.05, Y: -0.04, Theta: 0.02}

	result, err := m.MatchBiber(observe(room, motion), room, Identity())
	require.NoError(t, err)
	assert.True(t, result.Converged)
	assertPoseNear(t, motion, result.Transform, 1e-2, 1e-2)
	require.Len(t, result.Layers, 1)
	assert.Equal(t, 0.5, result.Layers[0].CellSize)
	for k := 1; k < len(result.Layers[0].Scores); k++ {
		assert.LessOrEqual(t, result.Layers[0].Scores[k], result.Layers[0].Scores[k-1])
	}
}

func TestMatchBiberInsufficientInput(t *testing.T) {
	m := newTestMatcher(t, DefaultConfig())
	_, err := m.MatchBiber(nil, lRoom(360), Identity())
	assert.ErrorIs(t, err, ErrInsufficientInput)

	_, err = m.MatchBiber(lRoom(360), []Point{{0, 0}}, Identity())
	assert.ErrorIs(t, err, ErrInsufficientInput)
}
