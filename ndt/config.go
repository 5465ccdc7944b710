package ndt

import (
	"fmt"
	"math"
)

// Config holds the parameters of a Scanmatcher.
// Distances are in the units of the input points (meters for laser scans).
type Config struct {
	MaxRange             float64 `yaml:"maxRange" json:"maxRange"`                         // Discard points beyond this range
	MinRange             float64 `yaml:"minRange" json:"minRange"`                         // Discard points at or below this range
	Resolution           int     `yaml:"resolution" json:"resolution"`                     // Coarsest cell size = 2*MaxRange/Resolution
	Layers               int     `yaml:"layers" json:"layers"`                             // Coarse-to-fine levels, each halving the cell size
	MaxIterations        int     `yaml:"maxIterations" json:"maxIterations"`               // Newton iterations per level
	Epsilon              float64 `yaml:"epsilon" json:"epsilon"`                           // Step norm below which a level has converged
	NeighborRadius       int     `yaml:"neighborRadius" json:"neighborRadius"`             // Cells visited per point: (2r+1)^2
	MinPointsPerCell     int     `yaml:"minPointsPerCell" json:"minPointsPerCell"`         // Cells with fewer points are invalid (>= 3)
	MinMatchedCells      int     `yaml:"minMatchedCells" json:"minMatchedCells"`           // Finest level must hit at least this many cells
	EigenvalueFloorRatio float64 `yaml:"eigenvalueFloorRatio" json:"eigenvalueFloorRatio"` // Covariance eigenvalue floor as a fraction of cellSize^2
	Damping              float64 `yaml:"damping" json:"damping"`                           // Levenberg floor relative to the largest Hessian diagonal
	BiberCellSize        float64 `yaml:"biberCellSize" json:"biberCellSize"`               // Cell size of the single resolution matcher
}

// DefaultConfig returns the defaults for a short range planar laser:
// 4m range, resolution 8 and 4 levels (cells of 1m, 0.5m, 0.25m, 0.125m).
func DefaultConfig() Config {
	return Config{
		MaxRange:             4.0,
		MinRange:             0.0,
		Resolution:           8,
		Layers:               4,
		MaxIterations:        50,
		Epsilon:              0.0001,
		NeighborRadius:       1,
		MinPointsPerCell:     3,
		MinMatchedCells:      3,
		EigenvalueFloorRatio: 0.0025, // sigma floor of 5% of the cell size
		Damping:              1e-3,
		BiberCellSize:        0.5,
	}
}

// Validate checks every field and reports the first offending one
func (c Config) Validate() error {
	switch {
	case !(c.MaxRange > 0) || math.IsInf(c.MaxRange, 0):
		return fmt.Errorf("%w: maxRange must be positive, got %v", ErrInvalidConfig, c.MaxRange)
	case c.MinRange < 0 || c.MinRange >= c.MaxRange:
		return fmt.Errorf("%w: minRange must be in [0, maxRange), got %v", ErrInvalidConfig, c.MinRange)
	case c.Resolution < 1:
		return fmt.Errorf("%w: resolution must be >= 1, got %d", ErrInvalidConfig, c.Resolution)
	case c.Layers < 1:
		return fmt.Errorf("%w: layers must be >= 1, got %d", ErrInvalidConfig, c.Layers)
	case c.MaxIterations < 1:
		return fmt.Errorf("%w: maxIterations must be >= 1, got %d", ErrInvalidConfig, c.MaxIterations)
	case !(c.Epsilon > 0):
		return fmt.Errorf("%w: epsilon must be positive, got %v", ErrInvalidConfig, c.Epsilon)
	case c.NeighborRadius < 0:
		return fmt.Errorf("%w: neighborRadius must be >= 0, got %d", ErrInvalidConfig, c.NeighborRadius)
	case c.MinPointsPerCell < 3:
		return fmt.Errorf("%w: minPointsPerCell must be >= 3, got %d", ErrInvalidConfig, c.MinPointsPerCell)
	case c.MinMatchedCells < 0:
		return fmt.Errorf("%w: minMatchedCells must be >= 0, got %d", ErrInvalidConfig, c.MinMatchedCells)
	case !(c.EigenvalueFloorRatio > 0):
		return fmt.Errorf("%w: eigenvalueFloorRatio must be positive, got %v", ErrInvalidConfig, c.EigenvalueFloorRatio)
	case c.Damping < 0:
		return fmt.Errorf("%w: damping must be >= 0, got %v", ErrInvalidConfig, c.Damping)
	case !(c.BiberCellSize > 0):
		return fmt.Errorf("%w: biberCellSize must be positive, got %v", ErrInvalidConfig, c.BiberCellSize)
	}
	return nil
}

// CellSize returns the cell edge length of the given level (0 is coarsest)
func (c Config) CellSize(layer int) float64 {
	return 2 * c.MaxRange / (float64(c.Resolution) * math.Pow(2, float64(layer)))
}

// CellSizes returns the cell sizes of all levels, coarse to fine
func (c Config) CellSizes() []float64 {
	sizes := make([]float64, c.Layers)
	for i := range sizes {
		sizes[i] = c.CellSize(i)
	}
	return sizes
}

func (c Config) layerOptions() LayerOptions {
	return LayerOptions{
		NeighborRadius:       c.NeighborRadius,
		MinPointsPerCell:     c.MinPointsPerCell,
		EigenvalueFloorRatio: c.EigenvalueFloorRatio,
	}
}

func (c Config) newOptimizer() optimizer {
	return optimizer{
		maxIterations: c.MaxIterations,
		epsilon:       c.Epsilon,
		damping:       c.Damping,
		maxRotation:   maxRotationStep,
	}
}
