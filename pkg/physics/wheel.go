// pkg/physics/wheel.go
package physics

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrInvalidSpec marks configuration that must not be used to build a
// vehicle or terrain.
var ErrInvalidSpec = errors.New("invalid physics spec")

// WheelSpec is the immutable configuration of one raycast wheel. Points and
// directions are in the chassis frame.
type WheelSpec struct {
	Name            string     `json:"name"`
	ConnectionPoint mgl64.Vec3 `json:"connectionPoint"`
	// Direction is the suspension axis, pointing down.
	Direction mgl64.Vec3 `json:"direction"`
	// Axle points to the right of the chassis.
	Axle mgl64.Vec3 `json:"axle"`

	SuspensionRestLength float64 `json:"suspensionRestLength"`
	SuspensionStiffness  float64 `json:"suspensionStiffness"`
	DampingCompression   float64 `json:"dampingCompression"`
	DampingRelaxation    float64 `json:"dampingRelaxation"`
	FrictionSlip         float64 `json:"frictionSlip"`
	Radius               float64 `json:"radius"`
	MaxSuspensionForce   float64 `json:"maxSuspensionForce"`
	RollInfluence        float64 `json:"rollInfluence"`

	// NormalBlend tilts the suspension force from the contact normal (0)
	// toward the chassis up axis (1).
	NormalBlend float64 `json:"normalBlend"`
	// SpinInertia only affects the visual spin of an airborne wheel.
	SpinInertia float64 `json:"spinInertia"`

	Steered bool `json:"steered"`
	Driven  bool `json:"driven"`
}

// MaxRayLength is the furthest the wheel looks for ground.
func (s WheelSpec) MaxRayLength() float64 {
	return s.SuspensionRestLength + s.Radius
}

// Validate rejects specs the suspension and friction model cannot run with.
func (s WheelSpec) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"suspension stiffness", s.SuspensionStiffness},
		{"radius", s.Radius},
		{"suspension rest length", s.SuspensionRestLength},
		{"max suspension force", s.MaxSuspensionForce},
		{"friction slip", s.FrictionSlip},
	}
	for _, p := range positive {
		if !(p.value > 0) || math.IsInf(p.value, 0) {
			return fmt.Errorf("%w: wheel %q %s must be positive, got %v", ErrInvalidSpec, s.Name, p.name, p.value)
		}
	}
	if s.DampingCompression < 0 || s.DampingRelaxation < 0 {
		return fmt.Errorf("%w: wheel %q damping must not be negative", ErrInvalidSpec, s.Name)
	}
	if s.NormalBlend < 0 || s.NormalBlend > 1 {
		return fmt.Errorf("%w: wheel %q normal blend must be in [0, 1], got %v", ErrInvalidSpec, s.Name, s.NormalBlend)
	}
	if s.RollInfluence < 0 || s.RollInfluence > 1 {
		return fmt.Errorf("%w: wheel %q roll influence must be in [0, 1], got %v", ErrInvalidSpec, s.Name, s.RollInfluence)
	}
	if s.Direction.Len() < 1e-9 || s.Axle.Len() < 1e-9 {
		return fmt.Errorf("%w: wheel %q needs non-zero direction and axle", ErrInvalidSpec, s.Name)
	}
	if !IsFinite(s.ConnectionPoint) {
		return fmt.Errorf("%w: wheel %q connection point is not finite", ErrInvalidSpec, s.Name)
	}
	return nil
}

// WheelState is recomputed every fixed step. Only Rotation, DeltaRotation and
// the control inputs carry over between steps.
type WheelState struct {
	InContact     bool       `json:"inContact"`
	ContactPoint  mgl64.Vec3 `json:"contactPoint"`
	ContactNormal mgl64.Vec3 `json:"contactNormal"`
	HitDistance   float64    `json:"hitDistance"`

	SuspensionLength float64 `json:"suspensionLength"`
	Compression      float64 `json:"compression"`
	SuspensionForce  float64 `json:"suspensionForce"`

	ForwardSpeed      float64 `json:"forwardSpeed"`
	SlipVelocity      float64 `json:"slipVelocity"`
	LateralForce      float64 `json:"lateralForce"`
	LongitudinalForce float64 `json:"longitudinalForce"`
	Sliding           bool    `json:"sliding"`

	Rotation      float64 `json:"rotation"`
	DeltaRotation float64 `json:"deltaRotation"`

	SteeringAngle float64 `json:"steeringAngle"`
	EngineForce   float64 `json:"engineForce"`
	BrakeForce    float64 `json:"brakeForce"`

	WorldConnection mgl64.Vec3 `json:"-"`
	WorldDirection  mgl64.Vec3 `json:"-"`
	WorldAxle       mgl64.Vec3 `json:"-"`
}

// WheelRig binds a spec to its per-step state.
type WheelRig struct {
	Spec  WheelSpec
	State WheelState
}

// NewWheelRig validates spec and returns a rig at rest.
func NewWheelRig(spec WheelSpec) (*WheelRig, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec.Direction = spec.Direction.Normalize()
	spec.Axle = spec.Axle.Normalize()
	if spec.SpinInertia <= 0 {
		spec.SpinInertia = 1
	}
	return &WheelRig{
		Spec:  spec,
		State: WheelState{SuspensionLength: spec.SuspensionRestLength},
	}, nil
}

// wheelForces is what one wheel contributes to the chassis in a step, plus
// the contact frame the friction solve works in.
type wheelForces struct {
	suspension      mgl64.Vec3
	suspensionPoint mgl64.Vec3
	friction        mgl64.Vec3
	frictionPoint   mgl64.Vec3

	lateral mgl64.Vec3
	forward mgl64.Vec3
	// Accumulated friction impulses from the solve.
	lateralImpulse float64
	brakeImpulse   float64
}

// steeringRotation rotates chassis-local vectors by the steering angle about
// the chassis up axis.
func (w *WheelRig) steeringRotation() mgl64.Quat {
	return mgl64.QuatRotate(w.State.SteeringAngle, LocalUp)
}

// updateContact refreshes the world-space wheel frame from the chassis pose
// and casts the suspension ray.
func (w *WheelRig) updateContact(chassis *RigidBody, terrain *Heightfield) {
	s := &w.State
	s.WorldConnection = chassis.PointToWorld(w.Spec.ConnectionPoint)
	s.WorldDirection = chassis.VectorToWorld(w.Spec.Direction)
	s.WorldAxle = chassis.VectorToWorld(w.steeringRotation().Rotate(w.Spec.Axle))

	maxLen := w.Spec.MaxRayLength()
	hit, ok := terrain.Raycast(s.WorldConnection, s.WorldDirection, maxLen)
	// A ray pointing out of the ground, as on a rolled chassis, has nothing
	// to press against.
	if ok && hit.Normal.Dot(s.WorldDirection) >= 0 {
		ok = false
	}
	if !ok {
		s.InContact = false
		s.ContactPoint = s.WorldConnection.Add(s.WorldDirection.Mul(maxLen))
		s.ContactNormal = s.WorldDirection.Mul(-1)
		s.HitDistance = maxLen
		s.SuspensionLength = w.Spec.SuspensionRestLength
		s.Compression = 0
		return
	}

	s.InContact = true
	s.ContactPoint = hit.ContactPoint
	s.ContactNormal = hit.Normal
	s.HitDistance = hit.Distance
	s.SuspensionLength = math.Max(0, hit.Distance-w.Spec.Radius)
	s.Compression = maxLen - hit.Distance
}

// suspensionLengthRate returns how fast the suspension is extending (positive)
// or compressing (negative) given the contact point velocity.
func (w *WheelRig) suspensionLengthRate(chassis *RigidBody) float64 {
	s := &w.State
	denom := s.ContactNormal.Dot(s.WorldDirection)
	if denom > -0.1 {
		return 0
	}
	v := chassis.VelocityAtPoint(s.ContactPoint)
	return -s.ContactNormal.Dot(v) / denom
}

// computeSuspension evaluates the spring and damper from the chassis state at
// the start of the step and sets up the contact frame on the ground plane,
// following the steered heading.
func (w *WheelRig) computeSuspension(chassis *RigidBody) wheelForces {
	s := &w.State
	s.SuspensionForce = 0
	s.LateralForce = 0
	s.LongitudinalForce = 0
	s.SlipVelocity = 0
	s.ForwardSpeed = 0
	s.Sliding = false

	if !s.InContact {
		return wheelForces{}
	}

	rate := w.suspensionLengthRate(chassis)
	damping := w.Spec.DampingRelaxation
	if rate < 0 {
		damping = w.Spec.DampingCompression
	}
	load := w.Spec.SuspensionStiffness*s.Compression - damping*rate
	load = Clamp(load, 0, w.Spec.MaxSuspensionForce)
	s.SuspensionForce = load

	chassisUp := chassis.VectorToWorld(LocalUp)
	suspensionDir := SafeNormalize(LerpVec3(s.ContactNormal, chassisUp, w.Spec.NormalBlend), s.ContactNormal)

	lateral := SafeNormalize(ProjectOnPlane(s.WorldAxle, s.ContactNormal), s.WorldAxle)
	forward := SafeNormalize(s.ContactNormal.Cross(lateral), chassis.VectorToWorld(LocalForward))

	v := chassis.VelocityAtPoint(s.ContactPoint)
	s.ForwardSpeed = v.Dot(forward)
	s.SlipVelocity = v.Dot(lateral)

	// Roll influence lifts the friction application point toward the centre
	// of mass height.
	rel := s.ContactPoint.Sub(chassis.Position)
	lift := chassisUp.Mul(rel.Dot(chassisUp) * (1 - w.Spec.RollInfluence))

	return wheelForces{
		suspension:      suspensionDir.Mul(load),
		suspensionPoint: s.ContactPoint,
		frictionPoint:   s.ContactPoint.Sub(lift),
		lateral:         lateral,
		forward:         forward,
	}
}

// finishFriction turns the solved impulses into forces, adds the engine, and
// bounds the total by the friction circle FrictionSlip*load.
func (w *WheelRig) finishFriction(f *wheelForces, dt float64) {
	s := &w.State
	if !s.InContact {
		return
	}
	lateral := f.lateralImpulse / dt
	longitudinal := s.EngineForce + f.brakeImpulse/dt

	maxFriction := w.Spec.FrictionSlip * s.SuspensionForce
	if total := math.Hypot(lateral, longitudinal); total > maxFriction {
		scale := 0.0
		if total > 0 {
			scale = maxFriction / total
		}
		lateral *= scale
		longitudinal *= scale
		s.Sliding = true
	}
	s.LateralForce = lateral
	s.LongitudinalForce = longitudinal
	f.friction = f.lateral.Mul(lateral).Add(f.forward.Mul(longitudinal))
}

const airborneSpinDecay = 0.99

// updateSpin integrates the visual wheel rotation. It never feeds back into
// the chassis.
func (w *WheelRig) updateSpin(dt float64) {
	s := &w.State
	if s.InContact {
		s.DeltaRotation = s.ForwardSpeed * dt / w.Spec.Radius
	} else {
		alpha := s.EngineForce * w.Spec.Radius / w.Spec.SpinInertia
		s.DeltaRotation = s.DeltaRotation*airborneSpinDecay + alpha*dt*dt
		if s.BrakeForce > 0 {
			s.DeltaRotation *= 0.5
		}
	}
	s.Rotation = math.Remainder(s.Rotation+s.DeltaRotation, 2*math.Pi)
}

// Transform returns the wheel's rendering pose given the chassis pose: hub
// at the end of the current suspension length, steered, spun about the axle.
func (w *WheelRig) Transform(chassis Pose) Pose {
	hubLocal := w.Spec.ConnectionPoint.Add(w.Spec.Direction.Mul(w.State.SuspensionLength))
	spin := mgl64.QuatRotate(w.State.Rotation, w.Spec.Axle)
	return Pose{
		Position:    chassis.PointToWorld(hubLocal),
		Orientation: chassis.Orientation.Mul(w.steeringRotation()).Mul(spin).Normalize(),
	}
}
