package ndt

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// maxBacktracks bounds the step halvings of one line search
	maxBacktracks = 30

	// armijo is the fraction of the predicted decrease a step must achieve
	armijo = 1e-4

	// maxRotationStep caps the heading change of one iteration
	maxRotationStep = 0.2
)

// scoreFunc evaluates the objective of a candidate pose. Both the multi
// layer matcher and the Biber matcher minimize through the same optimizer
// and differ only in the scoreFunc they pass.
type scoreFunc func(pose Pose, withDerivatives bool) Evaluation

// optimizer minimizes a scoreFunc. A zero maxTranslation or maxRotation
// leaves that part of the step unbounded.
type optimizer struct {
	maxIterations  int
	epsilon        float64
	damping        float64
	maxTranslation float64
	maxRotation    float64
}

// minimize runs damped Newton iterations from start. Every accepted step
// lowers the score by at least a fixed fraction of the decrease predicted
// by the gradient; the trace records the accepted scores.
func (o optimizer) minimize(f scoreFunc, start Pose) (Pose, LayerTrace) {
	pose := start
	ev := f(pose, true)
	trace := LayerTrace{Scores: []float64{ev.Score}}

	for trace.Iterations < o.maxIterations {
		step := o.limit(newtonStep(ev.Gradient, ev.Hessian, o.damping))
		norm := math.Sqrt(step[0]*step[0] + step[1]*step[1] + step[2]*step[2])
		slope := math.Min(ev.Gradient[0]*step[0]+ev.Gradient[1]*step[1]+ev.Gradient[2]*step[2], 0)

		accepted := false
		alpha := 1.0
		for k := 0; k < maxBacktracks; k++ {
			if alpha*norm < o.epsilon {
				trace.Converged = true
				break
			}
			candidate := Pose{
				X:     pose.X + alpha*step[0],
				Y:     pose.Y + alpha*step[1],
				Theta: NormalizeAngle(pose.Theta + alpha*step[2]),
			}
			if cev := f(candidate, false); cev.Score <= ev.Score+armijo*alpha*slope {
				pose = candidate
				accepted = true
				break
			}
			alpha *= 0.5
		}
		if !accepted {
			break
		}

		ev = f(pose, true)
		trace.Iterations++
		trace.Scores = append(trace.Scores, ev.Score)
		if alpha*norm < o.epsilon {
			trace.Converged = true
			break
		}
	}

	trace.Matched = ev.Matched
	return pose, trace
}

// limit scales step down uniformly so that neither the translation nor the
// rotation of one iteration exceeds its cap. The direction is preserved.
func (o optimizer) limit(step [3]float64) [3]float64 {
	s := 1.0
	if t := math.Hypot(step[0], step[1]); o.maxTranslation > 0 && t > o.maxTranslation {
		s = o.maxTranslation / t
	}
	if r := math.Abs(step[2]); o.maxRotation > 0 && r*s > o.maxRotation {
		s = o.maxRotation / r
	}
	return [3]float64{step[0] * s, step[1] * s, step[2] * s}
}

// newtonStep solves (H + mu*I) step = -g. mu starts as a Levenberg floor
// relative to the largest diagonal entry; if the damped Hessian is still not
// positive definite it is shifted past the most negative eigenvalue by at
// least a tenth of its magnitude and then grown tenfold until a Cholesky
// factorization succeeds.
func newtonStep(g [3]float64, h [3][3]float64, damping float64) [3]float64 {
	hess := mat.NewSymDense(3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
	rhs := mat.NewVecDense(3, []float64{-g[0], -g[1], -g[2]})

	scale := math.Max(math.Abs(h[0][0]), math.Max(math.Abs(h[1][1]), math.Abs(h[2][2])))
	mu := damping * scale

	for attempt := 0; attempt < 12; attempt++ {
		damped := mat.NewSymDense(3, nil)
		damped.CopySym(hess)
		for i := 0; i < 3; i++ {
			damped.SetSym(i, i, damped.At(i, i)+mu)
		}

		var chol mat.Cholesky
		if chol.Factorize(damped) {
			var x mat.VecDense
			if err := chol.SolveVecTo(&x, rhs); err == nil {
				return [3]float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}
			}
		}

		if attempt == 0 {
			var eig mat.EigenSym
			if eig.Factorize(hess, false) {
				lmin := eig.Values(nil)[0]
				margin := math.Max(damping*math.Max(scale, 1e-12), 1e-12)
				if lmin < 0 {
					margin = math.Max(margin, 0.1*-lmin)
				}
				mu = math.Max(mu, -lmin) + margin
				continue
			}
		}
		mu = math.Max(mu*10, 1e-12)
	}

	// Steepest descent fallback, scaled so a unit step stays sensible
	s := 1 / math.Max(scale, 1)
	return [3]float64{-g[0] * s, -g[1] * s, -g[2] * s}
}
