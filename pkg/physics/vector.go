// pkg/physics/vector.go
package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Chassis-local axes. The vehicle drives along its local +Z.
var (
	LocalForward = mgl64.Vec3{0, 0, 1}
	LocalUp      = mgl64.Vec3{0, 1, 0}
	LocalRight   = mgl64.Vec3{-1, 0, 0}
	LocalDown    = mgl64.Vec3{0, -1, 0}
)

// ClampMagnitude scales v down to limit if it is longer, and reports whether
// it did. A non-positive limit disables the clamp.
func ClampMagnitude(v mgl64.Vec3, limit float64) (mgl64.Vec3, bool) {
	if !(limit > 0) {
		return v, false
	}
	lengthSq := v.LenSqr()
	if lengthSq == 0 || lengthSq <= limit*limit {
		return v, false
	}
	return v.Mul(limit / math.Sqrt(lengthSq)), true
}

// ProjectOnPlane removes the component of v along the unit normal n.
func ProjectOnPlane(v, n mgl64.Vec3) mgl64.Vec3 {
	return v.Sub(n.Mul(v.Dot(n)))
}

// SafeNormalize returns a unit vector in the direction of v, or fallback
// when v is too short to normalize.
func SafeNormalize(v, fallback mgl64.Vec3) mgl64.Vec3 {
	length := v.Len()
	if length < 1e-12 || math.IsNaN(length) {
		return fallback
	}
	return v.Mul(1 / length)
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// LerpVec3 linearly interpolates between a and b.
func LerpVec3(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Pose is a rigid transform: world position plus orientation.
type Pose struct {
	Position    mgl64.Vec3 `json:"position"`
	Orientation mgl64.Quat `json:"orientation"`
}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: mgl64.QuatIdent()}
}

// PointToWorld transforms a point from the pose's local frame to world space.
func (p Pose) PointToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return p.Position.Add(p.Orientation.Rotate(local))
}

// VectorToWorld rotates a direction from the local frame into world space.
func (p Pose) VectorToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return p.Orientation.Rotate(local)
}

// Heading returns the yaw of the pose's forward axis about world +Y, in
// radians; zero means facing world +Z.
func (p Pose) Heading() float64 {
	f := p.VectorToWorld(LocalForward)
	return math.Atan2(f.X(), f.Z())
}

// YawPose builds a pose at position rotated by yaw radians about world +Y.
func YawPose(position mgl64.Vec3, yaw float64) Pose {
	return Pose{
		Position:    position,
		Orientation: mgl64.QuatRotate(yaw, LocalUp),
	}
}
