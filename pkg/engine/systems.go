// pkg/engine/systems.go
package engine

import (
	"github.com/EngoEngine/ecs"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/event"
)

// System priorities; higher runs first within a frame.
const (
	simulationPriority = 30
	cameraPriority     = 20
	publishPriority    = 10
)

// simulationSystem runs the fixed steps owed for the frame.
type simulationSystem struct {
	session *Session
}

// Priority satisfies the ecs.Prioritizer interface
func (*simulationSystem) Priority() int { return simulationPriority }

// Remove satisfies the ecs.System interface
func (*simulationSystem) Remove(ecs.BasicEntity) {}

// Update advances the world by the frame's wall time. The float32 dt from
// the ecs world is ignored in favour of the session's float64 copy.
func (sys *simulationSystem) Update(float32) {
	s := sys.session
	res := s.world.Advance(s.frameDT)
	if res.Dropped > 0 {
		s.logger.Warn(s.ctx, "Simulation fell behind, dropping time",
			"steps", res.Steps,
			"dropped_seconds", res.Dropped,
			"max_sub_steps", s.cfg.Physics.MaxSubSteps,
		)
		s.bus.Publish(event.NewCatchUpEvent(s, res.Steps, res.Dropped))
	}
}

// cameraSystem moves the chase camera toward the chassis once per frame.
type cameraSystem struct {
	session *Session
}

// Priority satisfies the ecs.Prioritizer interface
func (*cameraSystem) Priority() int { return cameraPriority }

// Remove satisfies the ecs.System interface
func (*cameraSystem) Remove(ecs.BasicEntity) {}

// Update follows the chassis; after a reset the camera jumps with it.
func (sys *cameraSystem) Update(float32) {
	s := sys.session
	pose := s.vehicle.Pose()
	if s.frameReset {
		s.rig.Snap(pose)
		return
	}
	s.rig.Update(pose, s.frameDT)
}

// publishSystem stores the frame and hands it to every sink.
type publishSystem struct {
	session *Session
}

// Priority satisfies the ecs.Prioritizer interface
func (*publishSystem) Priority() int { return publishPriority }

// Remove satisfies the ecs.System interface
func (*publishSystem) Remove(ecs.BasicEntity) {}

// Update publishes the frame. Sink errors are logged and do not stop the
// loop.
func (sys *publishSystem) Update(float32) {
	s := sys.session
	state := s.buildFrameState()

	s.mu.Lock()
	s.last = state
	s.mu.Unlock()

	for _, sink := range s.sinks {
		frame := state
		if err := sink.Publish(&frame); err != nil {
			s.logger.Warn(s.ctx, "Frame sink failed", "frame", state.Frame, "error", err.Error())
		}
	}
}
