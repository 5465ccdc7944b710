package ndt

import "fmt"

// newBiberGrids builds the four overlapping grids of the classical NDT:
// one aligned grid and three shifted by half a cell in x, y and both.
// Each point is scored against its containing cell only.
func newBiberGrids(cellSize float64, points []Point, opts LayerOptions) []*Layer {
	half := cellSize / 2
	offsets := []Point{{0, 0}, {half, 0}, {0, half}, {half, half}}
	opts.NeighborRadius = 0

	grids := make([]*Layer, len(offsets))
	for i, off := range offsets {
		o := opts
		o.Origin = Point{X: opts.Origin.X + off.X, Y: opts.Origin.Y + off.Y}
		grids[i] = NewLayer(cellSize, points, o)
	}
	return grids
}

// biberScore sums the objective of all grids
func biberScore(grids []*Layer, points []Point) scoreFunc {
	return func(pose Pose, withDerivatives bool) Evaluation {
		var total Evaluation
		for _, g := range grids {
			ev := g.Evaluate(pose, points, withDerivatives)
			total.Score += ev.Score
			total.Matched += ev.Matched
			for i := 0; i < 3; i++ {
				total.Gradient[i] += ev.Gradient[i]
				for j := 0; j < 3; j++ {
					total.Hessian[i][j] += ev.Hessian[i][j]
				}
			}
		}
		return total
	}
}

// MatchBiber aligns source with target on a single resolution of
// BiberCellSize using four overlapping grids, the formulation of Biber and
// Straßer. Both sets pass the range gate first. It shares the Newton
// optimizer with Match and does not use or change the matcher state.
func (m *Scanmatcher) MatchBiber(source, target []Point, initGuess Transform) (MatchResult, error) {
	source = FilterRange(source, m.cfg.MinRange, m.cfg.MaxRange)
	target = FilterRange(target, m.cfg.MinRange, m.cfg.MaxRange)
	if len(source) < m.cfg.MinPointsPerCell {
		return MatchResult{Transform: initGuess.Pose()}, fmt.Errorf("%w: source has %d points", ErrInsufficientInput, len(source))
	}

	grids := newBiberGrids(m.cfg.BiberCellSize, target, m.cfg.layerOptions())
	valid := 0
	for _, g := range grids {
		valid += g.ValidCells()
	}
	if valid == 0 {
		return MatchResult{Transform: initGuess.Pose()}, fmt.Errorf("%w: target populates no valid cell", ErrInsufficientInput)
	}

	opt := m.cfg.newOptimizer()
	opt.maxTranslation = m.cfg.BiberCellSize / 2
	pose, trace := opt.minimize(biberScore(grids, source), initGuess.Pose())
	trace.CellSize = m.cfg.BiberCellSize

	m.Logger.Debug("ndt biber", "iterations", trace.Iterations, "converged", trace.Converged,
		"score", trace.Scores[len(trace.Scores)-1], "matched", trace.Matched)

	result := MatchResult{
		Transform: pose,
		Converged: trace.Converged && trace.Matched >= m.cfg.MinMatchedCells,
		Score:     trace.Scores[len(trace.Scores)-1],
		Matched:   trace.Matched,
		Layers:    []LayerTrace{trace},
	}
	return result, nil
}
