// Package camera derives a smoothed chase viewpoint from the chassis pose
// once per rendered frame.
package camera

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// Settings configure the chase camera.
type Settings struct {
	// Offset is the desired camera position in the chassis frame.
	Offset mgl64.Vec3 `json:"offset"`
	// LookOffset is added to the chassis position to get the look-at target.
	LookOffset mgl64.Vec3 `json:"lookOffset"`
	// Blend is the fraction of the remaining distance covered per reference
	// frame.
	Blend float64 `json:"blend"`
	// ReferenceRate is the frame rate Blend is tuned for, in Hz.
	ReferenceRate float64 `json:"referenceRate"`
	// FrameCoupled applies Blend once per Update regardless of dt.
	FrameCoupled bool `json:"frameCoupled"`
}

// DefaultSettings follows the car from behind and above.
func DefaultSettings() Settings {
	return Settings{
		Offset:        mgl64.Vec3{0, 6, -12},
		Blend:         0.1,
		ReferenceRate: 60,
	}
}

// Validate checks the blend parameters.
func (s Settings) Validate() error {
	if !(s.Blend > 0 && s.Blend <= 1) {
		return fmt.Errorf("%w: camera blend must be in (0, 1], got %v", physics.ErrInvalidSpec, s.Blend)
	}
	if !s.FrameCoupled && !(s.ReferenceRate > 0) {
		return fmt.Errorf("%w: camera reference rate must be positive, got %v", physics.ErrInvalidSpec, s.ReferenceRate)
	}
	if !physics.IsFinite(s.Offset) || !physics.IsFinite(s.LookOffset) {
		return fmt.Errorf("%w: camera offsets must be finite", physics.ErrInvalidSpec)
	}
	return nil
}

// State is the camera pose published each frame.
type State struct {
	Position mgl64.Vec3 `json:"position"`
	Target   mgl64.Vec3 `json:"target"`
}

// View returns the right-handed view matrix for the state.
func (s State) View() mgl64.Mat4 {
	up := mgl64.Vec3{0, 1, 0}
	if math.Abs(s.Target.Sub(s.Position).Normalize().Dot(up)) > 0.999 {
		up = mgl64.Vec3{0, 0, 1}
	}
	return mgl64.LookAtV(s.Position, s.Target, up)
}

// Rig holds the blended camera position between frames.
type Rig struct {
	settings Settings
	state    State
	primed   bool
}

// NewRig validates settings and returns a rig that snaps on its first update.
func NewRig(settings Settings) (*Rig, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Rig{settings: settings}, nil
}

// Settings returns the rig configuration.
func (r *Rig) Settings() Settings { return r.settings }

// State returns the last computed camera state.
func (r *Rig) State() State { return r.state }

// Desired returns where the camera would sit with no smoothing.
func (r *Rig) Desired(chassis physics.Pose) State {
	return State{
		Position: chassis.PointToWorld(r.settings.Offset),
		Target:   chassis.Position.Add(r.settings.LookOffset),
	}
}

// Factor returns the blend applied for a frame of dt seconds.
func (r *Rig) Factor(dt float64) float64 {
	if r.settings.FrameCoupled {
		return r.settings.Blend
	}
	if !(dt > 0) {
		return 0
	}
	return 1 - math.Pow(1-r.settings.Blend, dt*r.settings.ReferenceRate)
}

// Update moves the camera toward its desired position for a frame of dt
// seconds. The look-at target is not smoothed.
func (r *Rig) Update(chassis physics.Pose, dt float64) State {
	desired := r.Desired(chassis)
	if !r.primed {
		r.state = desired
		r.primed = true
		return r.state
	}
	r.state = State{
		Position: physics.LerpVec3(r.state.Position, desired.Position, r.Factor(dt)),
		Target:   desired.Target,
	}
	return r.state
}

// Snap places the camera at its desired position, as after a vehicle reset.
func (r *Rig) Snap(chassis physics.Pose) State {
	r.primed = false
	return r.Update(chassis, 0)
}
