package ndt

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// matchMahalanobisSq is the squared Mahalanobis distance (3 sigma) within
// which a cell counts as matched by a query point.
const matchMahalanobisSq = 9.0

// GridIndex is the integer coordinate of a cell: floor((p - origin) / size)
type GridIndex struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// LayerOptions tune how a Layer is built and evaluated
type LayerOptions struct {
	Origin               Point   // Grid origin; Biber grids shift it by half a cell
	NeighborRadius       int     // 1 visits the containing cell and its 8 neighbors
	MinPointsPerCell     int     // Clamped to at least 3
	EigenvalueFloorRatio float64 // Eigenvalue floor = ratio * cellSize^2
}

// Evaluation is the NDT objective of a candidate pose over a set of query
// points. Score is the negated sum of cell likelihoods (lower is better);
// Gradient and Hessian are taken with respect to (x, y, theta).
type Evaluation struct {
	Score    float64
	Gradient [3]float64
	Hessian  [3][3]float64
	Matched  int
}

// Layer is one resolution level: a regular grid of Cells stored in an arena
// ordered by (Y, X) grid index. A Layer is immutable once built and safe for
// concurrent reads.
type Layer struct {
	cellSize float64
	opts     LayerOptions
	slots    map[GridIndex]int
	cells    []Cell
	valid    int
	bounds   orb.Bound
}

// NewLayer bins points into cells of the given size, then finalizes and
// regularizes every cell.
func NewLayer(cellSize float64, points []Point, opts LayerOptions) *Layer {
	if opts.MinPointsPerCell < 3 {
		opts.MinPointsPerCell = 3
	}
	if opts.NeighborRadius < 0 {
		opts.NeighborRadius = 0
	}
	if !(opts.EigenvalueFloorRatio > 0) {
		opts.EigenvalueFloorRatio = DefaultConfig().EigenvalueFloorRatio
	}

	l := &Layer{
		cellSize: cellSize,
		opts:     opts,
		slots:    make(map[GridIndex]int),
	}

	for _, p := range points {
		idx := l.IndexOf(p)
		slot, ok := l.slots[idx]
		if !ok {
			slot = len(l.cells)
			l.cells = append(l.cells, Cell{Index: idx})
			l.slots[idx] = slot
		}
		l.cells[slot].Accumulate(p)
	}

	sort.Slice(l.cells, func(i, j int) bool {
		a, b := l.cells[i].Index, l.cells[j].Index
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})

	floor := opts.EigenvalueFloorRatio * cellSize * cellSize
	for i := range l.cells {
		c := &l.cells[i]
		l.slots[c.Index] = i
		c.Finalize(opts.MinPointsPerCell)
		c.Regularize(floor)
		if c.valid {
			l.valid++
		}
	}

	l.bounds = l.gridBounds()
	return l
}

func (l *Layer) gridBounds() orb.Bound {
	if len(l.cells) == 0 {
		o := orb.Point{l.opts.Origin.X, l.opts.Origin.Y}
		return orb.Bound{Min: o, Max: o}
	}
	lo, hi := l.cells[0].Index, l.cells[0].Index
	for _, c := range l.cells[1:] {
		lo.X = min(lo.X, c.Index.X)
		lo.Y = min(lo.Y, c.Index.Y)
		hi.X = max(hi.X, c.Index.X)
		hi.Y = max(hi.Y, c.Index.Y)
	}
	return orb.Bound{
		Min: orb.Point{l.opts.Origin.X + float64(lo.X)*l.cellSize, l.opts.Origin.Y + float64(lo.Y)*l.cellSize},
		Max: orb.Point{l.opts.Origin.X + float64(hi.X+1)*l.cellSize, l.opts.Origin.Y + float64(hi.Y+1)*l.cellSize},
	}
}

// IndexOf returns the grid index of the cell covering p
func (l *Layer) IndexOf(p Point) GridIndex {
	return GridIndex{
		X: int(math.Floor((p.X - l.opts.Origin.X) / l.cellSize)),
		Y: int(math.Floor((p.Y - l.opts.Origin.Y) / l.cellSize)),
	}
}

// CellCenter returns the geometric center of the cell at idx
func (l *Layer) CellCenter(idx GridIndex) Point {
	return Point{
		X: l.opts.Origin.X + (float64(idx.X)+0.5)*l.cellSize,
		Y: l.opts.Origin.Y + (float64(idx.Y)+0.5)*l.cellSize,
	}
}

// CellSize is the edge length of every cell in this layer
func (l *Layer) CellSize() float64 { return l.cellSize }

// Origin is the corner of cell (0, 0)
func (l *Layer) Origin() Point { return l.opts.Origin }

// Bounds covers every populated cell
func (l *Layer) Bounds() orb.Bound { return l.bounds }

// Len is the number of populated cells, valid or not
func (l *Layer) Len() int { return len(l.cells) }

// ValidCells is the number of cells that contribute to the score
func (l *Layer) ValidCells() int { return l.valid }

// CellAt returns a copy of the cell covering p
func (l *Layer) CellAt(p Point) (Cell, bool) {
	slot, ok := l.slots[l.IndexOf(p)]
	if !ok {
		return Cell{}, false
	}
	return l.cells[slot], true
}

// Cells returns a copy of the arena in (Y, X) order
func (l *Layer) Cells() []Cell {
	out := make([]Cell, len(l.cells))
	copy(out, l.cells)
	return out
}

// Evaluate scores points transformed by pose against the layer. Every point
// is compared with each valid cell of its (2r+1)^2 neighborhood, which keeps
// the objective smooth across cell borders. Derivatives are skipped when
// withDerivatives is false.
func (l *Layer) Evaluate(pose Pose, points []Point, withDerivatives bool) Evaluation {
	var ev Evaluation
	if l.valid == 0 {
		return ev
	}

	seen := make([]bool, len(l.cells))
	cos, sin := math.Cos(pose.Theta), math.Sin(pose.Theta)
	r := l.opts.NeighborRadius

	for _, p := range points {
		x := cos*p.X - sin*p.Y + pose.X
		y := sin*p.X + cos*p.Y + pose.Y

		// First and second derivative of the transformed point w.r.t. theta
		j3x := -sin*p.X - cos*p.Y
		j3y := cos*p.X - sin*p.Y
		h3x := -cos*p.X + sin*p.Y
		h3y := -sin*p.X - cos*p.Y

		center := l.IndexOf(Point{X: x, Y: y})
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				slot, ok := l.slots[GridIndex{X: center.X + dx, Y: center.Y + dy}]
				if !ok {
					continue
				}
				c := &l.cells[slot]
				if !c.valid {
					continue
				}

				ddx := x - c.mean.X
				ddy := y - c.mean.Y
				inv := c.inv
				ux := inv.XX*ddx + inv.XY*ddy
				uy := inv.XY*ddx + inv.YY*ddy
				q := ddx*ux + ddy*uy
				e := math.Exp(-0.5 * q)

				if q <= matchMahalanobisSq && !seen[slot] {
					seen[slot] = true
					ev.Matched++
				}

				ev.Score -= e
				if !withDerivatives || e == 0 {
					continue
				}

				g := [3]float64{ux, uy, ux*j3x + uy*j3y}
				jj := [3][3]float64{
					{inv.XX, inv.XY, inv.XX*j3x + inv.XY*j3y},
					{0, inv.YY, inv.XY*j3x + inv.YY*j3y},
					{0, 0, j3x*(inv.XX*j3x+inv.XY*j3y) + j3y*(inv.XY*j3x+inv.YY*j3y)},
				}
				for i := 0; i < 3; i++ {
					ev.Gradient[i] += e * g[i]
					for j := i; j < 3; j++ {
						ev.Hessian[i][j] += e * (jj[i][j] - g[i]*g[j])
					}
				}
				ev.Hessian[2][2] += e * (ux*h3x + uy*h3y)
			}
		}
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < i; j++ {
			ev.Hessian[i][j] = ev.Hessian[j][i]
		}
	}
	return ev
}
