package ndt

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Cell is one grid bin of a Layer. It keeps running sums only; the points
// themselves are not retained.
type Cell struct {
	Index GridIndex

	count               int
	sumX, sumY          float64
	sumXX, sumXY, sumYY float64
	mean                Point
	cov, inv            Covariance
	valid               bool
}

// Accumulate adds a point to the running statistics
func (c *Cell) Accumulate(p Point) {
	c.count++
	c.sumX += p.X
	c.sumY += p.Y
	c.sumXX += p.X * p.X
	c.sumXY += p.X * p.Y
	c.sumYY += p.Y * p.Y
}

// Finalize derives mean and covariance from the sums. Cells with fewer than
// minPoints points are marked invalid.
func (c *Cell) Finalize(minPoints int) {
	c.valid = false
	if c.count == 0 {
		return
	}
	n := float64(c.count)
	c.mean = Point{X: c.sumX / n, Y: c.sumY / n}
	c.cov = Covariance{
		XX: c.sumXX/n - c.mean.X*c.mean.X,
		XY: c.sumXY/n - c.mean.X*c.mean.Y,
		YY: c.sumYY/n - c.mean.Y*c.mean.Y,
	}
	c.valid = c.count >= minPoints
}

// Regularize clamps the eigenvalues of the covariance to at least floor and
// recomputes the inverse from the clamped decomposition, so the inverse
// exists even for collinear or coincident points.
func (c *Cell) Regularize(floor float64) {
	if !c.valid {
		return
	}
	sym := mat.NewSymDense(2, []float64{
		c.cov.XX, c.cov.XY,
		c.cov.XY, c.cov.YY,
	})
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		// Only fails on non-finite input
		c.valid = false
		return
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	var cov, inv Covariance
	for k, lambda := range values {
		if lambda < floor {
			lambda = floor
		}
		vx, vy := vecs.At(0, k), vecs.At(1, k)
		cov.XX += lambda * vx * vx
		cov.XY += lambda * vx * vy
		cov.YY += lambda * vy * vy
		inv.XX += vx * vx / lambda
		inv.XY += vx * vy / lambda
		inv.YY += vy * vy / lambda
	}
	c.cov = cov
	c.inv = inv
}

// Valid reports whether the cell holds enough points to contribute
func (c *Cell) Valid() bool { return c.valid }

// Count is the number of accumulated points
func (c *Cell) Count() int { return c.count }

// Mean of the accumulated points
func (c *Cell) Mean() Point { return c.mean }

// Covariance of the accumulated points, regularized once the layer is built
func (c *Cell) Covariance() Covariance { return c.cov }

// InverseCovariance returns the inverse used for scoring
func (c *Cell) InverseCovariance() Covariance { return c.inv }

// Mahalanobis returns the Mahalanobis distance of p from the cell mean,
// or +Inf for an invalid cell.
func (c *Cell) Mahalanobis(p Point) float64 {
	if !c.valid {
		return math.Inf(1)
	}
	return math.Sqrt(c.mahalanobisSq(p.X-c.mean.X, p.Y-c.mean.Y))
}

// Likelihood evaluates the cell Gaussian at p without the normalization
// constant: 1 at the mean, decreasing with Mahalanobis distance, 0 for an
// invalid cell.
func (c *Cell) Likelihood(p Point) float64 {
	if !c.valid {
		return 0
	}
	return math.Exp(-0.5 * c.mahalanobisSq(p.X-c.mean.X, p.Y-c.mean.Y))
}

func (c *Cell) mahalanobisSq(dx, dy float64) float64 {
	return dx*(c.inv.XX*dx+c.inv.XY*dy) + dy*(c.inv.XY*dx+c.inv.YY*dy)
}
