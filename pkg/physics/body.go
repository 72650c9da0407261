// pkg/physics/body.go
package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Limits bounds body velocities so degenerate forces cannot blow up the
// integration. Zero disables a bound.
type Limits struct {
	MaxLinearSpeed  float64 `json:"maxLinearSpeed"`
	MaxAngularSpeed float64 `json:"maxAngularSpeed"`
}

// IntegrationReport tells the caller which sanity bounds were hit.
type IntegrationReport struct {
	LinearClamped  bool
	AngularClamped bool
	// Speeds before clamping, for logging.
	LinearSpeed  float64
	AngularSpeed float64
}

// Clamped reports whether any bound was applied.
func (r IntegrationReport) Clamped() bool {
	return r.LinearClamped || r.AngularClamped
}

// RigidBody holds mass properties and kinematic state of a dynamic body.
// Inertia is diagonal in the body frame.
type RigidBody struct {
	Position        mgl64.Vec3
	Orientation     mgl64.Quat
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3

	// Fractions of velocity lost per second.
	LinearDamping  float64
	AngularDamping float64

	mass       float64
	invMass    float64
	inertia    mgl64.Vec3
	invInertia mgl64.Vec3

	force  mgl64.Vec3
	torque mgl64.Vec3
}

// NewRigidBody creates a body at pose with the given mass and body-frame
// principal moments of inertia.
func NewRigidBody(mass float64, inertia mgl64.Vec3, pose Pose) (*RigidBody, error) {
	if !(mass > 0) || math.IsInf(mass, 0) {
		return nil, fmt.Errorf("%w: body mass must be positive, got %v", ErrInvalidSpec, mass)
	}
	for axis, moment := range inertia {
		if !(moment > 0) || math.IsInf(moment, 0) {
			return nil, fmt.Errorf("%w: inertia[%d] must be positive, got %v", ErrInvalidSpec, axis, moment)
		}
	}
	orientation := pose.Orientation
	if orientation.Len() == 0 {
		orientation = mgl64.QuatIdent()
	}
	return &RigidBody{
		Position:    pose.Position,
		Orientation: orientation.Normalize(),
		mass:        mass,
		invMass:     1 / mass,
		inertia:     inertia,
		invInertia:  mgl64.Vec3{1 / inertia[0], 1 / inertia[1], 1 / inertia[2]},
	}, nil
}

// BoxInertia returns the principal moments of a solid box with the given
// half extents.
func BoxInertia(mass float64, halfExtents mgl64.Vec3) mgl64.Vec3 {
	x2 := halfExtents.X() * halfExtents.X()
	y2 := halfExtents.Y() * halfExtents.Y()
	z2 := halfExtents.Z() * halfExtents.Z()
	return mgl64.Vec3{
		mass / 3 * (y2 + z2),
		mass / 3 * (x2 + z2),
		mass / 3 * (x2 + y2),
	}
}

// Mass returns the body mass.
func (b *RigidBody) Mass() float64 { return b.mass }

// InverseMass returns 1/mass.
func (b *RigidBody) InverseMass() float64 { return b.invMass }

// Inertia returns the body-frame principal moments.
func (b *RigidBody) Inertia() mgl64.Vec3 { return b.inertia }

// Pose returns the current position and orientation.
func (b *RigidBody) Pose() Pose {
	return Pose{Position: b.Position, Orientation: b.Orientation}
}

// PointToWorld transforms a body-local point to world space.
func (b *RigidBody) PointToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return b.Position.Add(b.Orientation.Rotate(local))
}

// VectorToWorld rotates a body-local direction to world space.
func (b *RigidBody) VectorToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return b.Orientation.Rotate(local)
}

// VelocityAtPoint returns the world velocity of a world-space point fixed to
// the body.
func (b *RigidBody) VelocityAtPoint(world mgl64.Vec3) mgl64.Vec3 {
	r := world.Sub(b.Position)
	return b.LinearVelocity.Add(b.AngularVelocity.Cross(r))
}

// applyInvInertiaWorld multiplies v by the world-space inverse inertia tensor.
func (b *RigidBody) applyInvInertiaWorld(v mgl64.Vec3) mgl64.Vec3 {
	local := b.Orientation.Conjugate().Rotate(v)
	local = mgl64.Vec3{
		local[0] * b.invInertia[0],
		local[1] * b.invInertia[1],
		local[2] * b.invInertia[2],
	}
	return b.Orientation.Rotate(local)
}

// EffectiveMass returns the mass the body presents to a force along the unit
// direction dir applied at the world point.
func (b *RigidBody) EffectiveMass(world, dir mgl64.Vec3) float64 {
	r := world.Sub(b.Position)
	rxd := r.Cross(dir)
	k := b.invMass + rxd.Dot(b.applyInvInertiaWorld(rxd))
	if k <= 0 {
		return 0
	}
	return 1 / k
}

// ApplyForce accumulates a force through the centre of mass.
func (b *RigidBody) ApplyForce(f mgl64.Vec3) {
	b.force = b.force.Add(f)
}

// ApplyForceAtPoint accumulates a force applied at a world point, adding the
// torque of its lever arm about the centre of mass.
func (b *RigidBody) ApplyForceAtPoint(f, world mgl64.Vec3) {
	b.force = b.force.Add(f)
	b.torque = b.torque.Add(world.Sub(b.Position).Cross(f))
}

// ApplyTorque accumulates a world-space torque.
func (b *RigidBody) ApplyTorque(t mgl64.Vec3) {
	b.torque = b.torque.Add(t)
}

// AccumulatedForce returns the force gathered since the last integration.
func (b *RigidBody) AccumulatedForce() mgl64.Vec3 { return b.force }

// AccumulatedTorque returns the torque gathered since the last integration.
func (b *RigidBody) AccumulatedTorque() mgl64.Vec3 { return b.torque }

// ClearForces drops accumulated force and torque.
func (b *RigidBody) ClearForces() {
	b.force = mgl64.Vec3{}
	b.torque = mgl64.Vec3{}
}

// Teleport moves the body to pose and zeroes its motion.
func (b *RigidBody) Teleport(pose Pose) {
	b.Position = pose.Position
	b.Orientation = pose.Orientation.Normalize()
	b.LinearVelocity = mgl64.Vec3{}
	b.AngularVelocity = mgl64.Vec3{}
	b.ClearForces()
}

// Integrate advances the body by dt using semi-implicit Euler: velocities
// first from accumulated force, torque and gravity, then position and
// orientation from the new velocities. Accumulators are cleared.
func (b *RigidBody) Integrate(dt float64, gravity mgl64.Vec3, limits Limits) IntegrationReport {
	var report IntegrationReport
	if !(dt > 0) {
		return report
	}

	acc := b.force.Mul(b.invMass).Add(gravity)
	b.LinearVelocity = b.LinearVelocity.Add(acc.Mul(dt))
	b.AngularVelocity = b.AngularVelocity.Add(b.applyInvInertiaWorld(b.torque).Mul(dt))

	if b.LinearDamping > 0 {
		b.LinearVelocity = b.LinearVelocity.Mul(math.Pow(1-Clamp(b.LinearDamping, 0, 1), dt))
	}
	if b.AngularDamping > 0 {
		b.AngularVelocity = b.AngularVelocity.Mul(math.Pow(1-Clamp(b.AngularDamping, 0, 1), dt))
	}

	report.LinearSpeed = b.LinearVelocity.Len()
	report.AngularSpeed = b.AngularVelocity.Len()
	b.LinearVelocity, report.LinearClamped = ClampMagnitude(b.LinearVelocity, limits.MaxLinearSpeed)
	b.AngularVelocity, report.AngularClamped = ClampMagnitude(b.AngularVelocity, limits.MaxAngularSpeed)
	if !IsFinite(b.LinearVelocity) {
		b.LinearVelocity = mgl64.Vec3{}
		report.LinearClamped = true
	}
	if !IsFinite(b.AngularVelocity) {
		b.AngularVelocity = mgl64.Vec3{}
		report.AngularClamped = true
	}

	b.Position = b.Position.Add(b.LinearVelocity.Mul(dt))

	if omega := b.AngularVelocity.Len(); omega > 0 {
		delta := mgl64.QuatRotate(omega*dt, b.AngularVelocity.Mul(1/omega))
		b.Orientation = delta.Mul(b.Orientation)
	}
	b.Orientation = b.Orientation.Normalize()

	b.ClearForces()
	return report
}
