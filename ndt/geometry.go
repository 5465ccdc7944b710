package ndt

import "math"

// TransformPoint applies a transform to a point
// x' = a*x + b*y + tx
// y' = c*x + d*y + ty
func TransformPoint(p Point, m Transform) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// TransformPoints applies a transform to multiple points
func TransformPoints(points []Point, m Transform) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// NormalizeAngle wraps an angle in radians into (-π, π].
func NormalizeAngle(rad float64) float64 {
	if rad > -math.Pi && rad <= math.Pi {
		return rad
	}
	rad = math.Mod(rad, 2*math.Pi)
	if rad <= -math.Pi {
		rad += 2 * math.Pi
	} else if rad > math.Pi {
		rad -= 2 * math.Pi
	}
	return rad
}

// AngleDiff returns the shortest signed arc from b to a
func AngleDiff(a, b float64) float64 {
	return NormalizeAngle(a - b)
}

// Compose composes two transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func Compose(m1, m2 Transform) Transform {
	return Transform{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// Invert computes the inverse of a transform
// Returns identity if the matrix is singular (determinant ~= 0)
func Invert(m Transform) Transform {
	det := m.A*m.D - m.B*m.C
	if math.Abs(det) < 1e-10 {
		return Identity()
	}

	invDet := 1.0 / det
	return Transform{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) Transform {
	return Transform{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// Rotation creates a rotation transform (angle in radians, around origin)
func Rotation(angle float64) Transform {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return Transform{A: cos, B: -sin, Tx: 0, C: sin, D: cos, Ty: 0}
}

// Transform returns the rigid transform that rotates by Theta and then
// translates by (X, Y).
func (p Pose) Transform() Transform {
	cos := math.Cos(p.Theta)
	sin := math.Sin(p.Theta)
	return Transform{A: cos, B: -sin, Tx: p.X, C: sin, D: cos, Ty: p.Y}
}

// Pose extracts the rotation angle via atan2(C, A) and the translation.
func (m Transform) Pose() Pose {
	return Pose{X: m.Tx, Y: m.Ty, Theta: math.Atan2(m.C, m.A)}
}

// ComposePoses applies b in the frame of a (a ∘ b)
func ComposePoses(a, b Pose) Pose {
	return Compose(a.Transform(), b.Transform()).Pose()
}

// InvertPose returns the motion that undoes p
func InvertPose(p Pose) Pose {
	return Invert(p.Transform()).Pose()
}

// RelativePose returns the motion that takes from to to, expressed in the
// frame of from: from ∘ RelativePose(from, to) == to.
func RelativePose(from, to Pose) Pose {
	return ComposePoses(InvertPose(from), to)
}

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Centroid calculates the center of mass of a set of points
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point{X: sumX / n, Y: sumY / n}
}
