// pkg/physics/world.go
package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultFixedStep is the simulation step in seconds.
const DefaultFixedStep = 1.0 / 60.0

// stepEpsilon absorbs rounding when frame times are exact multiples of the
// step.
const stepEpsilon = 1e-9

// WorldConfig holds the global simulation settings.
type WorldConfig struct {
	Gravity   mgl64.Vec3 `json:"gravity"`
	FixedStep float64    `json:"fixedStep"`
	// MaxSubSteps caps the catch-up steps run by one Advance call; zero
	// means unlimited.
	MaxSubSteps int    `json:"maxSubSteps"`
	Limits      Limits `json:"limits"`
}

// DefaultWorldConfig returns earth gravity, a 60 Hz step and generous
// velocity bounds.
func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		Gravity:     mgl64.Vec3{0, -9.82, 0},
		FixedStep:   DefaultFixedStep,
		MaxSubSteps: 10,
		Limits: Limits{
			MaxLinearSpeed:  120,
			MaxAngularSpeed: 30,
		},
	}
}

// Validate checks the configuration.
func (c WorldConfig) Validate() error {
	if !(c.FixedStep > 0) || math.IsInf(c.FixedStep, 0) {
		return fmt.Errorf("%w: fixed step must be positive, got %v", ErrInvalidSpec, c.FixedStep)
	}
	if c.MaxSubSteps < 0 {
		return fmt.Errorf("%w: max sub steps must not be negative", ErrInvalidSpec)
	}
	if !IsFinite(c.Gravity) {
		return fmt.Errorf("%w: gravity is not finite", ErrInvalidSpec)
	}
	return nil
}

// StepResult reports what one fixed step did.
type StepResult struct {
	Step     uint64
	Time     float64
	Reset    bool
	Contacts int
	// HullContacts counts chassis corners resting on the ground.
	HullContacts int
	Integration  IntegrationReport
}

// AdvanceResult summarises a catch-up call.
type AdvanceResult struct {
	Steps int
	// Dropped is simulated time discarded because MaxSubSteps was reached.
	Dropped float64
}

// World steps one vehicle over one heightfield with a fixed timestep.
type World struct {
	cfg     WorldConfig
	terrain *Heightfield
	vehicle *Vehicle

	accumulator float64
	time        float64
	steps       uint64

	// BeforeStep runs at every fixed step boundary before forces are
	// computed; controls are written here.
	BeforeStep func(step uint64)
	// AfterStep observes every completed step.
	AfterStep func(StepResult)
}

// NewWorld creates a world. terrain and vehicle must be non-nil.
func NewWorld(cfg WorldConfig, terrain *Heightfield, vehicle *Vehicle) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if terrain == nil || vehicle == nil {
		return nil, fmt.Errorf("%w: world needs a terrain and a vehicle", ErrInvalidSpec)
	}
	return &World{cfg: cfg, terrain: terrain, vehicle: vehicle}, nil
}

// Config returns the world settings.
func (w *World) Config() WorldConfig { return w.cfg }

// Terrain returns the static collider.
func (w *World) Terrain() *Heightfield { return w.terrain }

// Vehicle returns the simulated vehicle.
func (w *World) Vehicle() *Vehicle { return w.vehicle }

// Time returns simulated seconds since creation.
func (w *World) Time() float64 { return w.time }

// Steps returns the number of fixed steps taken.
func (w *World) Steps() uint64 { return w.steps }

// Alpha is the fraction of a step left in the accumulator, for interpolating
// rendered poses.
func (w *World) Alpha() float64 { return w.accumulator / w.cfg.FixedStep }

// Step runs exactly one fixed step. A pending reset replaces the step: the
// chassis is placed at spawn with zero velocity and nothing is integrated.
func (w *World) Step() StepResult {
	if w.BeforeStep != nil {
		w.BeforeStep(w.steps)
	}

	dt := w.cfg.FixedStep
	w.steps++
	w.time += dt
	result := StepResult{Step: w.steps, Time: w.time}

	if w.vehicle.pendingReset {
		w.vehicle.applyReset()
		result.Reset = true
	} else {
		w.vehicle.updateWheels(w.terrain, w.cfg.Gravity, dt)
		result.Contacts = w.vehicle.ContactCount()
		w.vehicle.hullContacts = w.vehicle.updateHull(w.terrain, dt)
		result.HullContacts = w.vehicle.hullContacts
		result.Integration = w.vehicle.chassis.Integrate(dt, w.cfg.Gravity, w.cfg.Limits)
		w.vehicle.updateSpin(dt)
	}

	if w.AfterStep != nil {
		w.AfterStep(result)
	}
	return result
}

// Advance adds elapsed wall time and runs as many fixed steps as fit.
// Negative or non-finite elapsed time is ignored.
func (w *World) Advance(elapsed float64) AdvanceResult {
	var res AdvanceResult
	if !(elapsed > 0) || math.IsInf(elapsed, 0) {
		return res
	}
	w.accumulator += elapsed
	dt := w.cfg.FixedStep
	for w.accumulator >= dt-stepEpsilon {
		if w.cfg.MaxSubSteps > 0 && res.Steps >= w.cfg.MaxSubSteps {
			kept := math.Mod(w.accumulator, dt)
			res.Dropped = w.accumulator - kept
			w.accumulator = kept
			break
		}
		w.Step()
		w.accumulator -= dt
		res.Steps++
	}
	if w.accumulator < 0 {
		w.accumulator = 0
	}
	return res
}
