// pkg/physics/vehicle.go
package physics

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// WheelCount is the number of wheels on every vehicle.
const WheelCount = 4

// Wheel indices.
const (
	FrontLeft = iota
	FrontRight
	RearLeft
	RearRight
)

// ErrWheelIndex is returned by per-wheel controls for an index outside
// [0, WheelCount).
var ErrWheelIndex = errors.New("wheel index out of range")

// VehicleSpec describes the chassis and its wheels.
type VehicleSpec struct {
	Mass           float64               `json:"mass"`
	HalfExtents    mgl64.Vec3            `json:"halfExtents"`
	LinearDamping  float64               `json:"linearDamping"`
	AngularDamping float64               `json:"angularDamping"`
	Wheels         [WheelCount]WheelSpec `json:"wheels"`
}

// DefaultVehicleSpec returns a rear-wheel-drive car about the size of the
// 2x1x4 placeholder box.
func DefaultVehicleSpec() VehicleSpec {
	base := WheelSpec{
		Direction:            LocalDown,
		Axle:                 LocalRight,
		SuspensionRestLength: 0.4,
		SuspensionStiffness:  40000,
		DampingCompression:   4000,
		DampingRelaxation:    4500,
		FrictionSlip:         1.5,
		Radius:               0.35,
		MaxSuspensionForce:   25000,
		RollInfluence:        0.05,
		NormalBlend:          0,
		SpinInertia:          1.2,
	}
	spec := VehicleSpec{
		Mass:           800,
		HalfExtents:    mgl64.Vec3{1, 0.5, 2},
		LinearDamping:  0.01,
		AngularDamping: 0.05,
	}
	corners := [WheelCount]struct {
		name    string
		x, z    float64
		steered bool
		driven  bool
	}{
		{"front-left", 0.85, 1.4, true, false},
		{"front-right", -0.85, 1.4, true, false},
		{"rear-left", 0.85, -1.4, false, true},
		{"rear-right", -0.85, -1.4, false, true},
	}
	for i, c := range corners {
		w := base
		w.Name = c.name
		w.ConnectionPoint = mgl64.Vec3{c.x, -0.3, c.z}
		w.Steered = c.steered
		w.Driven = c.driven
		spec.Wheels[i] = w
	}
	return spec
}

// Validate checks the chassis and every wheel.
func (s VehicleSpec) Validate() error {
	for axis, e := range s.HalfExtents {
		if !(e > 0) {
			return fmt.Errorf("%w: half extent[%d] must be positive, got %v", ErrInvalidSpec, axis, e)
		}
	}
	if s.LinearDamping < 0 || s.LinearDamping > 1 || s.AngularDamping < 0 || s.AngularDamping > 1 {
		return fmt.Errorf("%w: damping must be in [0, 1]", ErrInvalidSpec)
	}
	for i, w := range s.Wheels {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("wheel %d: %w", i, err)
		}
	}
	return nil
}

// Vehicle is a chassis rigid body carried by four raycast wheels.
type Vehicle struct {
	chassis *RigidBody
	wheels  [WheelCount]*WheelRig
	corners [8]mgl64.Vec3
	spawn   Pose

	pendingReset bool
	forces       [WheelCount]wheelForces
	hullContacts int
}

// NewVehicle builds a vehicle at spawn. Configuration errors wrap
// ErrInvalidSpec.
func NewVehicle(spec VehicleSpec, spawn Pose) (*Vehicle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spawn.Orientation.Len() == 0 {
		spawn.Orientation = mgl64.QuatIdent()
	}
	spawn.Orientation = spawn.Orientation.Normalize()

	chassis, err := NewRigidBody(spec.Mass, BoxInertia(spec.Mass, spec.HalfExtents), spawn)
	if err != nil {
		return nil, err
	}
	chassis.LinearDamping = spec.LinearDamping
	chassis.AngularDamping = spec.AngularDamping

	v := &Vehicle{chassis: chassis, corners: hullCorners(spec.HalfExtents), spawn: spawn}
	for i, ws := range spec.Wheels {
		rig, err := NewWheelRig(ws)
		if err != nil {
			return nil, fmt.Errorf("wheel %d: %w", i, err)
		}
		v.wheels[i] = rig
	}
	return v, nil
}

// Chassis returns the chassis body.
func (v *Vehicle) Chassis() *RigidBody { return v.chassis }

// Pose returns the chassis pose.
func (v *Vehicle) Pose() Pose { return v.chassis.Pose() }

// Spawn returns the pose a reset returns to.
func (v *Vehicle) Spawn() Pose { return v.spawn }

// SetSpawn changes the reset pose.
func (v *Vehicle) SetSpawn(p Pose) {
	if p.Orientation.Len() == 0 {
		p.Orientation = mgl64.QuatIdent()
	}
	p.Orientation = p.Orientation.Normalize()
	v.spawn = p
}

// Wheel returns the rig at index i.
func (v *Vehicle) Wheel(i int) (*WheelRig, error) {
	if i < 0 || i >= WheelCount {
		return nil, fmt.Errorf("%w: %d", ErrWheelIndex, i)
	}
	return v.wheels[i], nil
}

// Wheels returns all rigs in FL, FR, RL, RR order.
func (v *Vehicle) Wheels() [WheelCount]*WheelRig { return v.wheels }

// ApplyEngineForce sets the drive force on wheel i. Positive drives forward.
func (v *Vehicle) ApplyEngineForce(force float64, i int) error {
	w, err := v.Wheel(i)
	if err != nil {
		return err
	}
	w.State.EngineForce = force
	return nil
}

// SetSteeringValue sets the steering angle of wheel i. Positive steers left.
func (v *Vehicle) SetSteeringValue(angle float64, i int) error {
	w, err := v.Wheel(i)
	if err != nil {
		return err
	}
	w.State.SteeringAngle = angle
	return nil
}

// SetBrake sets the brake force magnitude on wheel i.
func (v *Vehicle) SetBrake(force float64, i int) error {
	w, err := v.Wheel(i)
	if err != nil {
		return err
	}
	if force < 0 {
		force = -force
	}
	w.State.BrakeForce = force
	return nil
}

// Reset schedules a hard reset to pose; the next world step consumes it.
func (v *Vehicle) Reset(pose Pose) {
	v.SetSpawn(pose)
	v.pendingReset = true
}

// ResetToSpawn schedules a hard reset to the current spawn pose.
func (v *Vehicle) ResetToSpawn() {
	v.pendingReset = true
}

// ResetPending reports whether a reset waits for the next step.
func (v *Vehicle) ResetPending() bool { return v.pendingReset }

// applyReset teleports the chassis to spawn and settles the wheels.
func (v *Vehicle) applyReset() {
	v.chassis.Teleport(v.spawn)
	for _, w := range v.wheels {
		w.State.InContact = false
		w.State.SuspensionLength = w.Spec.SuspensionRestLength
		w.State.Compression = 0
		w.State.SuspensionForce = 0
		w.State.LateralForce = 0
		w.State.LongitudinalForce = 0
		w.State.DeltaRotation = 0
	}
	v.hullContacts = 0
	v.pendingReset = false
}

// ForwardSpeed returns chassis velocity along its forward axis.
func (v *Vehicle) ForwardSpeed() float64 {
	return v.chassis.LinearVelocity.Dot(v.chassis.VectorToWorld(LocalForward))
}

// ContactCount returns how many wheels touched ground in the last step.
func (v *Vehicle) ContactCount() int {
	n := 0
	for _, w := range v.wheels {
		if w.State.InContact {
			n++
		}
	}
	return n
}

// HullContactCount returns how many chassis corners were under the surface
// in the last step.
func (v *Vehicle) HullContactCount() int { return v.hullContacts }

// WheelTransform returns the rendering pose of wheel i.
func (v *Vehicle) WheelTransform(i int) (Pose, error) {
	w, err := v.Wheel(i)
	if err != nil {
		return Pose{}, err
	}
	return w.Transform(v.chassis.Pose()), nil
}

// frictionIterations is the number of sequential impulse passes over the
// wheels in contact.
const frictionIterations = 8

// updateWheels casts every suspension ray and accumulates wheel forces on the
// chassis. All forces are computed from the pose at the start of the step
// before any is applied.
func (v *Vehicle) updateWheels(terrain *Heightfield, gravity mgl64.Vec3, dt float64) {
	for _, w := range v.wheels {
		w.updateContact(v.chassis, terrain)
	}
	for i, w := range v.wheels {
		v.forces[i] = w.computeSuspension(v.chassis)
	}
	v.solveFriction(gravity, dt)
	for i, w := range v.wheels {
		if !w.State.InContact {
			continue
		}
		f := &v.forces[i]
		w.finishFriction(f, dt)
		v.chassis.ApplyForceAtPoint(f.suspension, f.suspensionPoint)
		v.chassis.ApplyForceAtPoint(f.friction, f.frictionPoint)
	}
}

// solveFriction finds the lateral grip and brake impulses that stop the
// contact points slipping by the end of the step. It works on a copy of the
// chassis velocity advanced by gravity, suspension and drive, so grip also
// holds against gravity on slopes. Each impulse only removes relative
// velocity; brake impulses are bounded by the brake force.
func (v *Vehicle) solveFriction(gravity mgl64.Vec3, dt float64) {
	b := v.chassis
	linear := b.LinearVelocity.Add(gravity.Mul(dt))
	angular := b.AngularVelocity
	push := func(impulse, point mgl64.Vec3) {
		linear = linear.Add(impulse.Mul(b.invMass))
		angular = angular.Add(b.applyInvInertiaWorld(point.Sub(b.Position).Cross(impulse)))
	}
	velocityAt := func(point mgl64.Vec3) mgl64.Vec3 {
		return linear.Add(angular.Cross(point.Sub(b.Position)))
	}

	var lateralMass, forwardMass [WheelCount]float64
	active := false
	for i, w := range v.wheels {
		if !w.State.InContact {
			continue
		}
		active = true
		f := &v.forces[i]
		push(f.suspension.Mul(dt), f.suspensionPoint)
		push(f.forward.Mul(w.State.EngineForce*dt), f.frictionPoint)
		lateralMass[i] = b.EffectiveMass(f.frictionPoint, f.lateral)
		forwardMass[i] = b.EffectiveMass(f.frictionPoint, f.forward)
	}
	if !active {
		return
	}

	for iter := 0; iter < frictionIterations; iter++ {
		for i, w := range v.wheels {
			if !w.State.InContact {
				continue
			}
			f := &v.forces[i]

			slip := velocityAt(f.frictionPoint).Dot(f.lateral)
			dj := -slip * lateralMass[i]
			f.lateralImpulse += dj
			push(f.lateral.Mul(dj), f.frictionPoint)

			if limit := w.State.BrakeForce * dt; limit > 0 {
				rolling := velocityAt(f.frictionPoint).Dot(f.forward)
				prev := f.brakeImpulse
				f.brakeImpulse = Clamp(prev-rolling*forwardMass[i], -limit, limit)
				push(f.forward.Mul(f.brakeImpulse-prev), f.frictionPoint)
			}
		}
	}
}

// updateSpin advances the visual rotation of every wheel.
func (v *Vehicle) updateSpin(dt float64) {
	for _, w := range v.wheels {
		w.updateSpin(dt)
	}
}
