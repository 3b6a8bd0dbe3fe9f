package geom

import "math"

// Vec3 represents a 3D point or direction in world space.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// Quat represents a rotation as a unit quaternion. Callers are expected to
// keep quaternions normalized; helpers that produce rotations return
// normalized results.
type Quat struct {
	X float64
	Y float64
	Z float64
	W float64
}

// Color represents an RGBA color with float components. Components are not
// clamped so HDR values survive interpolation untouched.
type Color struct {
	R float64
	G float64
	B float64
	A float64
}

// IdentityQuat returns the rotation that leaves orientation unchanged.
func IdentityQuat() Quat {
	return Quat{W: 1}
}

// Add returns the component-wise sum of two vectors.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns the component-wise difference of two vectors.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns the vector multiplied by a scalar.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Length returns the Euclidean magnitude of the vector.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Vec3) float64 {
	return a.Sub(b).Length()
}

// LerpVec3 linearly interpolates between two vectors. The factor is expected
// to be in [0, 1]; values outside extrapolate.
func LerpVec3(a, b Vec3, t float64) Vec3 {
	return Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// LerpFloat linearly interpolates between two scalars.
func LerpFloat(a, b, t float64) float64 {
	return a + (b-a)*t
}

// LerpColor linearly interpolates each color channel independently.
func LerpColor(a, b Color, t float64) Color {
	return Color{
		R: LerpFloat(a.R, b.R, t),
		G: LerpFloat(a.G, b.G, t),
		B: LerpFloat(a.B, b.B, t),
		A: LerpFloat(a.A, b.A, t),
	}
}

// Dot returns the four-component dot product of two quaternions.
func (q Quat) Dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Normalize returns the quaternion scaled to unit length. A degenerate
// zero-length quaternion normalizes to the identity rotation instead of NaN.
func (q Quat) Normalize() Quat {
	lenSq := q.Dot(q)
	if lenSq <= 0 {
		return IdentityQuat()
	}
	inv := 1 / math.Sqrt(lenSq)
	return Quat{X: q.X * inv, Y: q.Y * inv, Z: q.Z * inv, W: q.W * inv}
}

func (q Quat) negate() Quat {
	return Quat{X: -q.X, Y: -q.Y, Z: -q.Z, W: -q.W}
}

// Slerp spherically interpolates between two rotations along the shortest
// arc. Nearly parallel inputs fall back to normalized linear interpolation to
// avoid the unstable division by a vanishing sine.
func Slerp(a, b Quat, t float64) Quat {
	dot := a.Dot(b)
	if dot < 0 {
		b = b.negate()
		dot = -dot
	}
	if dot > 0.9995 {
		return Quat{
			X: LerpFloat(a.X, b.X, t),
			Y: LerpFloat(a.Y, b.Y, t),
			Z: LerpFloat(a.Z, b.Z, t),
			W: LerpFloat(a.W, b.W, t),
		}.Normalize()
	}

	theta := math.Acos(clamp(dot, -1, 1))
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	return Quat{
		X: wa*a.X + wb*b.X,
		Y: wa*a.Y + wb*b.Y,
		Z: wa*a.Z + wb*b.Z,
		W: wa*a.W + wb*b.W,
	}.Normalize()
}

// AngleBetween returns the smallest rotation angle between two unit
// quaternions, in degrees. Antipodal representations of the same orientation
// report zero.
func AngleBetween(a, b Quat) float64 {
	dot := math.Abs(a.Normalize().Dot(b.Normalize()))
	return 2 * math.Acos(clamp(dot, 0, 1)) * 180 / math.Pi
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
