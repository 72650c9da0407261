// pkg/render/engo/camera.go
package engo

import (
	"github.com/EngoEngine/ecs"
	"github.com/EngoEngine/engo"
	"github.com/EngoEngine/engo/common"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
)

// CameraSystem keeps the window centred on the car. It follows the chassis
// in the ground plane; the chase rig's height and offset only matter to a
// perspective view.
type CameraSystem struct {
	ppm float32

	// Target to follow
	target    engo.Point
	targetSet bool

	// Camera properties
	zoom    float32
	minZoom float32
	maxZoom float32

	// Smooth following
	followSpeed float32
	smoothing   bool

	// Current camera state
	currentPos engo.Point
	viewport   engo.Point
}

// NewCameraSystem creates a camera for a view drawn at ppm pixels per metre.
func NewCameraSystem(ppm float32) *CameraSystem {
	if ppm <= 0 {
		ppm = 8
	}
	return &CameraSystem{
		ppm:         ppm,
		zoom:        1.0,
		minZoom:     0.1,
		maxZoom:     3.0,
		followSpeed: 4.0,
		smoothing:   true,
	}
}

// Priority runs the camera after the session has produced the frame.
func (cs *CameraSystem) Priority() int { return cameraSystemPriority }

// Remove satisfies the ecs.System interface
func (cs *CameraSystem) Remove(basic ecs.BasicEntity) {}

// Update updates the camera position and zoom
func (cs *CameraSystem) Update(dt float32) {
	cs.handleZoomInput()
	cs.step(dt)
	cs.applyCameraTransform()
}

// Publish implements engine.Sink: the chassis becomes the target and a reset
// cuts straight to it.
func (cs *CameraSystem) Publish(state *engine.FrameState) error {
	if state == nil {
		return nil
	}
	p := state.Chassis.Position
	cs.SetTarget(worldToPixel(p.X(), p.Z(), cs.ppm))
	if state.Reset {
		cs.currentPos = cs.target
	}
	return nil
}

// handleZoomInput processes zoom-related input
func (cs *CameraSystem) handleZoomInput() {
	if engo.Input == nil {
		return
	}
	if scrollY := engo.Input.Mouse.ScrollY; scrollY != 0 {
		cs.SetZoom(cs.zoom * (1.0 + scrollY*0.1))
	}
	if engo.Input.Button(buttonZoomIn).Down() {
		cs.SetZoom(cs.zoom * 1.02)
	}
	if engo.Input.Button(buttonZoomOut).Down() {
		cs.SetZoom(cs.zoom * 0.98)
	}
	if engo.Input.Button(buttonResetZoom).JustPressed() {
		cs.SetZoom(1.0)
	}
}

// step moves the camera toward the target.
func (cs *CameraSystem) step(dt float32) {
	if !cs.targetSet {
		return
	}
	if !cs.smoothing {
		cs.currentPos = cs.target
		return
	}
	f := cs.followSpeed * dt
	if f > 1 {
		f = 1
	}
	if f < 0 {
		f = 0
	}
	cs.currentPos.X += (cs.target.X - cs.currentPos.X) * f
	cs.currentPos.Y += (cs.target.Y - cs.currentPos.Y) * f
}

// applyCameraTransform centres the engo camera on the current position.
func (cs *CameraSystem) applyCameraTransform() {
	if engo.Mailbox == nil {
		return
	}
	engo.Mailbox.Dispatch(common.CameraMessage{Axis: common.XAxis, Value: cs.currentPos.X, Incremental: false})
	engo.Mailbox.Dispatch(common.CameraMessage{Axis: common.YAxis, Value: cs.currentPos.Y, Incremental: false})
	engo.Mailbox.Dispatch(common.CameraMessage{Axis: common.ZAxis, Value: 1 / cs.zoom, Incremental: false})
}

// SetTarget sets the target position for the camera to follow
func (cs *CameraSystem) SetTarget(target engo.Point) {
	first := !cs.targetSet
	cs.target = target
	cs.targetSet = true

	if first || !cs.smoothing {
		cs.currentPos = target
	}
}

// ClearTarget clears the camera target
func (cs *CameraSystem) ClearTarget() {
	cs.targetSet = false
}

// SetZoom sets the camera zoom level
func (cs *CameraSystem) SetZoom(zoom float32) {
	cs.zoom = cs.clampZoom(zoom)
}

// GetZoom returns the current zoom level
func (cs *CameraSystem) GetZoom() float32 {
	return cs.zoom
}

// clampZoom ensures zoom is within valid bounds
func (cs *CameraSystem) clampZoom(zoom float32) float32 {
	if zoom < cs.minZoom {
		return cs.minZoom
	}
	if zoom > cs.maxZoom {
		return cs.maxZoom
	}
	return zoom
}

// SetFollowSpeed sets how quickly the camera closes on the target, per second.
func (cs *CameraSystem) SetFollowSpeed(speed float32) {
	cs.followSpeed = speed
}

// EnableSmoothing enables or disables camera smoothing
func (cs *CameraSystem) EnableSmoothing(enabled bool) {
	cs.smoothing = enabled
}

// GetCurrentPosition returns the current camera position in pixels.
func (cs *CameraSystem) GetCurrentPosition() engo.Point {
	return cs.currentPos
}

// SetViewport sets the window size used for screen conversions.
func (cs *CameraSystem) SetViewport(width, height float32) {
	cs.viewport = engo.Point{X: width, Y: height}
}

// WorldToScreen converts world XZ to window coordinates.
func (cs *CameraSystem) WorldToScreen(x, z float64) engo.Point {
	p := worldToPixel(x, z, cs.ppm)
	return engo.Point{
		X: (p.X-cs.currentPos.X)*cs.zoom + cs.viewport.X/2,
		Y: (p.Y-cs.currentPos.Y)*cs.zoom + cs.viewport.Y/2,
	}
}

// ScreenToWorld converts window coordinates to world XZ.
func (cs *CameraSystem) ScreenToWorld(screen engo.Point) (x, z float64) {
	p := engo.Point{
		X: (screen.X-cs.viewport.X/2)/cs.zoom + cs.currentPos.X,
		Y: (screen.Y-cs.viewport.Y/2)/cs.zoom + cs.currentPos.Y,
	}
	return pixelToWorld(p, cs.ppm)
}

// SetZoomLimits sets the minimum and maximum zoom levels
func (cs *CameraSystem) SetZoomLimits(min, max float32) {
	cs.minZoom = min
	cs.maxZoom = max
	cs.zoom = cs.clampZoom(cs.zoom)
}

// GetZoomLimits returns the current zoom limits
func (cs *CameraSystem) GetZoomLimits() (float32, float32) {
	return cs.minZoom, cs.maxZoom
}
