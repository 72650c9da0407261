// Package control turns held keys into vehicle control inputs once per fixed
// step.
package control

import (
	"fmt"
	"math"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/input"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// Settings bound the controls.
type Settings struct {
	MaxEngineForce float64 `json:"maxEngineForce"`
	MaxSteer       float64 `json:"maxSteer"`
	MaxBrakeForce  float64 `json:"maxBrakeForce"`
	// ReverseScale scales the engine force when only back is held.
	ReverseScale float64 `json:"reverseScale"`
}

// DefaultSettings returns the controls used by the default vehicle.
func DefaultSettings() Settings {
	return Settings{
		MaxEngineForce: 2000,
		MaxSteer:       0.5,
		MaxBrakeForce:  3000,
		ReverseScale:   1,
	}
}

// Validate rejects negative or non-finite bounds.
func (s Settings) Validate() error {
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"max engine force", s.MaxEngineForce},
		{"max steer", s.MaxSteer},
		{"max brake force", s.MaxBrakeForce},
		{"reverse scale", s.ReverseScale},
	} {
		if v.value < 0 || math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return fmt.Errorf("%w: %s must be a non-negative number, got %v", physics.ErrInvalidSpec, v.name, v.value)
		}
	}
	if s.MaxSteer >= math.Pi/2 {
		return fmt.Errorf("%w: max steer must be below pi/2, got %v", physics.ErrInvalidSpec, s.MaxSteer)
	}
	return nil
}

// Command is what one snapshot asks of the vehicle.
type Command struct {
	EngineForce float64
	Steering    float64
	Brake       float64
	Reset       bool
}

// Mapper converts input snapshots into commands. Steering is clamped but not
// smoothed.
type Mapper struct {
	settings Settings
}

// NewMapper validates settings and returns a mapper.
func NewMapper(settings Settings) (*Mapper, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Mapper{settings: settings}, nil
}

// Settings returns the mapper bounds.
func (m *Mapper) Settings() Settings { return m.settings }

// axis returns +1, -1 or 0 for a pair of opposing keys.
func axis(snap input.Snapshot, positive, negative input.Key) float64 {
	v := 0.0
	if snap.Held(positive) {
		v++
	}
	if snap.Held(negative) {
		v--
	}
	return v
}

// Map reads one snapshot. Opposing keys cancel.
func (m *Mapper) Map(snap input.Snapshot) Command {
	var cmd Command

	throttle := axis(snap, input.Forward, input.Back)
	switch {
	case throttle > 0:
		cmd.EngineForce = m.settings.MaxEngineForce
	case throttle < 0:
		cmd.EngineForce = -m.settings.MaxEngineForce * m.settings.ReverseScale
	}

	cmd.Steering = physics.Clamp(axis(snap, input.Left, input.Right)*m.settings.MaxSteer,
		-m.settings.MaxSteer, m.settings.MaxSteer)

	if snap.Held(input.Brake) {
		cmd.Brake = m.settings.MaxBrakeForce
	}
	cmd.Reset = snap.Held(input.Reset)
	return cmd
}

// Apply writes cmd to the vehicle: engine force on driven wheels, steering on
// steered wheels, brake on every wheel. A reset command schedules a hard
// reset to spawn for the current step.
func (m *Mapper) Apply(cmd Command, v *physics.Vehicle) error {
	for i, rig := range v.Wheels() {
		engine, steer := 0.0, 0.0
		if rig.Spec.Driven {
			engine = cmd.EngineForce
		}
		if rig.Spec.Steered {
			steer = cmd.Steering
		}
		if err := v.ApplyEngineForce(engine, i); err != nil {
			return err
		}
		if err := v.SetSteeringValue(steer, i); err != nil {
			return err
		}
		if err := v.SetBrake(cmd.Brake, i); err != nil {
			return err
		}
	}
	if cmd.Reset {
		v.ResetToSpawn()
	}
	return nil
}

// Step maps snap and applies the result in one call.
func (m *Mapper) Step(snap input.Snapshot, v *physics.Vehicle) (Command, error) {
	cmd := m.Map(snap)
	return cmd, m.Apply(cmd, v)
}
