// pkg/engine/session.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EngoEngine/ecs"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/camera"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/control"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/event"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/input"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// ErrAlreadyRunning is returned by Run when the session loop is active.
var ErrAlreadyRunning = errors.New("session already running")

// StepObserver is told about every fixed step and how long it took.
type StepObserver interface {
	ObserveStep(result physics.StepResult, took time.Duration)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithEventBus shares an existing bus with the session.
func WithEventBus(b *event.Bus) Option {
	return func(s *Session) { s.bus = b }
}

// WithSink adds a frame sink.
func WithSink(sink Sink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sink) }
}

// WithObserver adds a step observer.
func WithObserver(o StepObserver) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(s *Session) { s.ID = id }
}

// Session owns one vehicle on one terrain and drives the
// input → control → physics → camera → publish pipeline.
//
// Frame and Run must be called from a single goroutine. KeyDown, KeyUp,
// RequestReset, SetVisual and Snapshot are safe from any goroutine.
type Session struct {
	ID string

	cfg    *config.Config
	logger *logging.Logger
	bus    *event.Bus
	ctx    context.Context

	world    *physics.World
	vehicle  *physics.Vehicle
	input    *input.State
	bindings input.Bindings
	mapper   *control.Mapper
	rig      *camera.Rig
	systems  *ecs.World

	sinks     []Sink
	observers []StepObserver

	// Loop goroutine only.
	frame      uint64
	frameDT    float64
	frameReset bool
	stepStart  time.Time
	lastSnap   input.Snapshot
	contacts   [physics.WheelCount]bool

	resetRequested atomic.Bool
	status         atomic.Int32
	lastFrameNanos atomic.Int64

	mu     sync.RWMutex
	last   FrameState
	visual VisualView
}

// NewSession builds the terrain, vehicle and controllers described by cfg.
// A nil cfg uses config.DefaultConfig. Configuration errors wrap
// physics.ErrInvalidSpec.
func NewSession(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, logging.WrapError(err, "invalid session config")
	}

	s := &Session{
		cfg:    cfg,
		input:  input.NewState(),
		visual: PlaceholderVisual(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ID == "" {
		s.ID = logging.GenerateCorrelationID()
	}
	if s.logger == nil {
		s.logger = logging.NewLoggerWithWriter(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	}
	if s.bus == nil {
		s.bus = event.NewEventBus()
	}
	s.logger = s.logger.With("session_id", s.ID)
	s.ctx = logging.WithCorrelationID(context.Background(), s.ID)

	grid, err := physics.NewHeightGrid(cfg.Terrain.Cols, cfg.Terrain.Rows, cfg.Terrain.ElementSize, cfg.Terrain.Sampler())
	if err != nil {
		return nil, logging.WrapError(err, "failed to build terrain")
	}
	terrain := physics.NewHeightfield(grid)

	spawn := cfg.Spawn.Pose()
	if cfg.Spawn.SnapToGround {
		if h, err := terrain.HeightAt(spawn.Position.X(), spawn.Position.Z()); err == nil {
			spawn.Position[1] = h + cfg.Spawn.Clearance
		} else {
			s.logger.Warn(s.ctx, "Spawn outside terrain, keeping configured height",
				"x", spawn.Position.X(), "z", spawn.Position.Z())
		}
	}

	if s.vehicle, err = physics.NewVehicle(cfg.Vehicle, spawn); err != nil {
		return nil, logging.WrapError(err, "failed to build vehicle")
	}
	if s.world, err = physics.NewWorld(cfg.Physics, terrain, s.vehicle); err != nil {
		return nil, logging.WrapError(err, "failed to build world")
	}
	if s.mapper, err = control.NewMapper(cfg.Controls); err != nil {
		return nil, logging.WrapError(err, "failed to build control mapper")
	}
	if s.rig, err = camera.NewRig(cfg.Camera); err != nil {
		return nil, logging.WrapError(err, "failed to build camera")
	}
	if s.bindings, err = cfg.Bindings(); err != nil {
		return nil, logging.WrapError(err, "failed to parse key bindings")
	}

	s.world.BeforeStep = s.beforeStep
	s.world.AfterStep = s.afterStep

	s.systems = &ecs.World{}
	s.systems.AddSystem(&simulationSystem{session: s})
	s.systems.AddSystem(&cameraSystem{session: s})
	s.systems.AddSystem(&publishSystem{session: s})

	s.bus.Subscribe(event.AssetAttached, s.handleAssetAttached)

	s.rig.Snap(spawn)
	s.last = s.buildFrameState()

	s.logger.Info(s.ctx, "Session created",
		"terrain_cols", cfg.Terrain.Cols,
		"terrain_rows", cfg.Terrain.Rows,
		"spawn", spawn.Position,
		"fixed_step", cfg.Physics.FixedStep,
	)
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// EventBus returns the bus session events are published on.
func (s *Session) EventBus() *event.Bus { return s.bus }

// Logger returns the session logger.
func (s *Session) Logger() *logging.Logger { return s.logger }

// World returns the physics world. Only the loop goroutine may use it while
// the session runs.
func (s *Session) World() *physics.World { return s.world }

// Input returns the shared input state.
func (s *Session) Input() *input.State { return s.input }

// Bindings returns the raw key bindings in use.
func (s *Session) Bindings() input.Bindings { return s.bindings }

// Status reports whether the loop is running.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// LastFrame returns the wall-clock time of the last completed frame, or the
// zero time before the first frame.
func (s *Session) LastFrame() time.Time {
	n := s.lastFrameNanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// KeyDown records a raw key press. It reports whether the key state changed.
func (s *Session) KeyDown(raw string) bool {
	return s.setKey(raw, true)
}

// KeyUp records a raw key release. It reports whether the key state changed.
func (s *Session) KeyUp(raw string) bool {
	return s.setKey(raw, false)
}

func (s *Session) setKey(raw string, down bool) bool {
	key := s.bindings.Resolve(raw)
	var changed bool
	if down {
		changed = s.input.KeyDown(key)
	} else {
		changed = s.input.KeyUp(key)
	}
	if changed {
		s.bus.Publish(event.NewKeyEvent(s, string(key), down))
	}
	return changed
}

// RequestReset schedules a hard reset to spawn on the next fixed step.
func (s *Session) RequestReset() {
	s.resetRequested.Store(true)
}

// SetVisual replaces the chassis visual in published frames.
func (s *Session) SetVisual(v VisualView) {
	s.mu.Lock()
	s.visual = v
	s.mu.Unlock()
}

func (s *Session) handleAssetAttached(e event.Event) {
	ae, ok := e.(*event.AssetEvent)
	if !ok {
		return
	}
	s.SetVisual(VisualView{
		Path:  ae.Path,
		Scale: ae.Scale,
		Color: PlaceholderVisual().Color,
	})
}

// Snapshot returns the last published frame.
func (s *Session) Snapshot() FrameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Frame advances the session by dt seconds of wall time: fixed physics steps
// with control applied before each, then the camera, then publication.
// Negative or non-finite dt counts as zero.
func (s *Session) Frame(dt float64) FrameState {
	if !(dt > 0) || math.IsInf(dt, 0) {
		dt = 0
	}
	s.frame++
	s.frameDT = dt
	s.frameReset = false
	s.systems.Update(float32(dt))
	s.lastFrameNanos.Store(time.Now().UnixNano())
	return s.Snapshot()
}

// Start marks the session running, clears held keys and announces it.
func (s *Session) Start() error {
	if !s.status.CompareAndSwap(int32(StatusWaiting), int32(StatusRunning)) &&
		!s.status.CompareAndSwap(int32(StatusStopped), int32(StatusRunning)) {
		return ErrAlreadyRunning
	}
	s.input.Clear()
	s.bus.Publish(event.NewSessionEvent(event.SessionStarted, s, s.ID))
	s.logger.Info(s.ctx, "Session started")
	return nil
}

// Stop marks the session stopped and announces it.
func (s *Session) Stop() {
	if !s.status.CompareAndSwap(int32(StatusRunning), int32(StatusStopped)) {
		return
	}
	s.bus.Publish(event.NewSessionEvent(event.SessionEnded, s, s.ID))
	s.logger.Info(s.ctx, "Session stopped",
		"frames", s.frame,
		"steps", s.world.Steps(),
		"sim_time", s.world.Time(),
	)
}

// Run drives frames from a ticker at the configured frame rate until ctx is
// cancelled.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Stop()

	rate := s.cfg.Render.FrameRate
	if !(rate > 0) {
		rate = 60
	}
	interval := time.Duration(float64(time.Second) / rate)
	if interval <= 0 {
		return fmt.Errorf("frame interval too small for rate %v", rate)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Frame(now.Sub(last).Seconds())
			last = now
		}
	}
}

// beforeStep reads one input snapshot and writes the controls for the step.
func (s *Session) beforeStep(step uint64) {
	s.stepStart = time.Now()
	s.lastSnap = s.input.Snapshot()

	cmd := s.mapper.Map(s.lastSnap)
	if s.resetRequested.Swap(false) {
		cmd.Reset = true
	}
	if err := s.mapper.Apply(cmd, s.vehicle); err != nil {
		s.logger.Error(s.ctx, "Failed to apply controls", err, "step", step+1)
	}
}

// afterStep reports resets, velocity clamps and contact changes.
func (s *Session) afterStep(res physics.StepResult) {
	took := time.Since(s.stepStart)

	if res.Reset {
		s.frameReset = true
		pos := s.vehicle.Pose().Position
		s.logger.Info(s.ctx, "Vehicle reset", "step", res.Step, "position", pos)
		s.bus.Publish(event.NewResetEvent(s, res.Step, [3]float64(pos)))
	}

	if r := res.Integration; r.Clamped() {
		s.logger.Warn(s.ctx, "Velocity clamped",
			"step", res.Step,
			"linear_speed", r.LinearSpeed,
			"angular_speed", r.AngularSpeed,
			"linear_clamped", r.LinearClamped,
			"angular_clamped", r.AngularClamped,
		)
		s.bus.Publish(event.NewDivergenceEvent(s, res.Step, r.LinearSpeed, r.AngularSpeed, r.LinearClamped, r.AngularClamped))
	}

	for i, w := range s.vehicle.Wheels() {
		if w.State.InContact == s.contacts[i] {
			continue
		}
		s.contacts[i] = w.State.InContact
		s.logger.Debug(s.ctx, "Wheel contact changed",
			"step", res.Step, "wheel", w.Spec.Name, "in_contact", w.State.InContact)
		s.bus.Publish(event.NewContactEvent(s, res.Step, i, w.State.InContact))
	}

	for _, o := range s.observers {
		o.ObserveStep(res, took)
	}
}

// buildFrameState copies the published state out of the simulation.
func (s *Session) buildFrameState() FrameState {
	v := s.vehicle
	state := FrameState{
		SessionID: s.ID,
		Frame:     s.frame,
		Step:      s.world.Steps(),
		Time:      s.world.Time(),
		Alpha:     s.world.Alpha(),
		Chassis:   v.Pose(),
		Speed:     v.ForwardSpeed(),
		Contacts:  v.ContactCount(),
		Camera:    s.rig.State(),
		Reset:     s.frameReset,
	}
	for i, w := range v.Wheels() {
		pose, _ := v.WheelTransform(i)
		state.Wheels[i] = WheelView{
			Name:        w.Spec.Name,
			Transform:   pose,
			InContact:   w.State.InContact,
			Compression: w.State.Compression,
			Sliding:     w.State.Sliding,
			Rotation:    w.State.Rotation,
			Steering:    w.State.SteeringAngle,
		}
	}
	keys := s.lastSnap.Keys()
	state.Keys = make([]string, len(keys))
	for i, k := range keys {
		state.Keys[i] = string(k)
	}

	s.mu.RLock()
	state.Visual = s.visual
	s.mu.RUnlock()
	return state
}
