// pkg/render/engo/scene.go
package engo

import (
	"context"
	"errors"

	"github.com/EngoEngine/ecs"
	"github.com/EngoEngine/engo"
	"github.com/EngoEngine/engo/common"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
)

// System priorities; engo updates higher values first and the common render
// system runs last.
const (
	inputSystemPriority  = 300
	driveSystemPriority  = 200
	cameraSystemPriority = 100
	hudSystemPriority    = 90
)

// frameSource advances a simulation by wall time.
type frameSource interface {
	Frame(dt float64) engine.FrameState
}

// DriveSystem advances the session once per engo frame and hands the
// published state to the view sinks.
type DriveSystem struct {
	source frameSource
	sinks  []engine.Sink
	onErr  func(error)
}

// NewDriveSystem creates a system stepping source and fanning out to sinks.
func NewDriveSystem(source frameSource, sinks ...engine.Sink) *DriveSystem {
	return &DriveSystem{source: source, sinks: sinks}
}

// Priority steps the session after input and before the view.
func (ds *DriveSystem) Priority() int { return driveSystemPriority }

// Remove satisfies the ecs.System interface
func (ds *DriveSystem) Remove(basic ecs.BasicEntity) {}

// Update runs one session frame.
func (ds *DriveSystem) Update(dt float32) {
	state := ds.source.Frame(float64(dt))
	for _, sink := range ds.sinks {
		if err := sink.Publish(&state); err != nil && ds.onErr != nil {
			ds.onErr(err)
		}
	}
}

// DriveScene is the windowed top-down view of one driving session.
type DriveScene struct {
	session *engine.Session
	ppm     float32

	world    *ecs.World
	renderer *EngoRenderer
	camera   *CameraSystem
	input    *InputSystem
	hud      *HUDSystem
	drive    *DriveSystem
}

// NewDriveScene creates a scene for session.
func NewDriveScene(session *engine.Session) *DriveScene {
	return &DriveScene{
		session: session,
		ppm:     float32(session.Config().Render.PixelsPerMetre),
	}
}

// Type returns the scene type (required by Engo)
func (scene *DriveScene) Type() string {
	return "DriveScene"
}

// Preload registers the HUD font (required by Engo)
func (scene *DriveScene) Preload() {
	if err := PreloadFont(); err != nil {
		scene.session.Logger().Warn(context.Background(), "HUD font unavailable", "error", err)
	}
}

// Setup is called when the scene starts (required by Engo)
func (scene *DriveScene) Setup(u engo.Updater) {
	world, ok := u.(*ecs.World)
	if !ok {
		panic("DriveScene needs an *ecs.World updater")
	}
	scene.world = world
	logger := scene.session.Logger()
	ctx := context.Background()

	common.SetBackground(skyColor)
	renderSystem := &common.RenderSystem{}
	world.AddSystem(renderSystem)

	scene.renderer = NewEngoRenderer(renderSystem, NewAssetManager(), scene.ppm)
	if err := scene.renderer.Initialize(scene.session.World().Terrain()); err != nil {
		panic("Failed to initialize renderer: " + err.Error())
	}

	scene.camera = NewCameraSystem(scene.ppm)
	scene.camera.SetViewport(engo.GameWidth(), engo.GameHeight())
	world.AddSystem(scene.camera)

	keys, unknown := SetupInputBindings(scene.session.Bindings())
	if len(unknown) > 0 {
		logger.Warn(ctx, "Bindings without a window key", "keys", unknown)
	}
	scene.input = NewInputSystem(scene.session, keys)
	world.AddSystem(scene.input)

	scene.hud = NewHUDSystem(renderSystem)
	if err := scene.hud.Initialize(); err != nil {
		logger.Warn(ctx, "HUD disabled", "error", err)
	}
	world.AddSystem(scene.hud)

	scene.drive = NewDriveSystem(scene.session, scene.renderer, scene.camera, scene.hud)
	scene.drive.onErr = func(err error) {
		logger.Warn(ctx, "View update failed", "error", err)
	}
	world.AddSystem(scene.drive)

	if err := scene.session.Start(); err != nil && !errors.Is(err, engine.ErrAlreadyRunning) {
		logger.Error(ctx, "Failed to start session", err)
	}
	initial := scene.session.Snapshot()
	for _, sink := range []engine.Sink{scene.renderer, scene.camera, scene.hud} {
		_ = sink.Publish(&initial)
	}
}

// Exit is called when the scene is exiting (required by Engo)
func (scene *DriveScene) Exit() {
	if scene.input != nil {
		scene.input.Release()
	}
	scene.session.Stop()
}
