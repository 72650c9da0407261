// pkg/render/engo/renderer.go
package engo

import (
	"image/color"
	"math"

	"github.com/EngoEngine/ecs"
	"github.com/EngoEngine/engo"
	"github.com/EngoEngine/engo/common"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// Render layers, lowest first.
const (
	terrainZ float32 = 0
	wheelZ   float32 = 1
	chassisZ float32 = 2
	hudZ     float32 = 10
)

// wheelSize is the drawn wheel footprint in metres.
var wheelSize = [2]float64{0.4, 0.8}

var (
	wheelContactColor = color.RGBA{40, 40, 40, 255}
	wheelSlideColor   = color.RGBA{230, 140, 0, 255}
	wheelAirColor     = color.RGBA{150, 150, 150, 255}
	modelColor        = color.RGBA{200, 200, 210, 255}
	skyColor          = color.RGBA{135, 206, 235, 255}
)

// sprite is one drawn entity.
type sprite struct {
	ecs.BasicEntity
	common.RenderComponent
	common.SpaceComponent

	// texture size in pixels, used to scale to world size
	texW, texH float32
	z          float32
}

func newSprite(drawable common.Drawable, texW, texH, z float32) *sprite {
	s := &sprite{BasicEntity: ecs.NewBasic(), texW: texW, texH: texH, z: z}
	s.Drawable = drawable
	s.Color = color.White
	return s
}

// resize sets the on-screen size and scales the texture to cover it.
func (s *sprite) resize(width, height float32) {
	s.Width, s.Height = width, height
	if s.texW > 0 && s.texH > 0 {
		s.Scale = engo.Point{X: width / s.texW, Y: height / s.texH}
	}
}

// worldToPixel maps the world XZ plane onto the window: +Z is up the screen
// and +X is to the left, matching the chassis left axis when facing up.
func worldToPixel(x, z float64, ppm float32) engo.Point {
	return engo.Point{X: -float32(x) * ppm, Y: -float32(z) * ppm}
}

// pixelToWorld inverts worldToPixel.
func pixelToWorld(p engo.Point, ppm float32) (x, z float64) {
	return float64(-p.X / ppm), float64(-p.Y / ppm)
}

// yawToRotation converts a heading to engo degrees, which turn clockwise on
// screen. Positive yaw turns left, which is anticlockwise here.
func yawToRotation(yaw float64) float32 {
	return float32(-yaw * 180 / math.Pi)
}

// EngoRenderer draws the terrain, chassis and wheels from published frames.
type EngoRenderer struct {
	renderSystem *common.RenderSystem
	assets       *AssetManager
	ppm          float32

	terrain *sprite
	chassis *sprite
	wheels  [physics.WheelCount]*sprite

	visual engine.VisualView
}

// NewEngoRenderer creates a renderer drawing at ppm pixels per metre.
func NewEngoRenderer(renderSystem *common.RenderSystem, assets *AssetManager, ppm float32) *EngoRenderer {
	if assets == nil {
		assets = NewAssetManager()
	}
	if ppm <= 0 {
		ppm = 8
	}
	return &EngoRenderer{
		renderSystem: renderSystem,
		assets:       assets,
		ppm:          ppm,
	}
}

// Initialize loads textures and adds the entities to the render system.
func (r *EngoRenderer) Initialize(terrain *physics.Heightfield) error {
	if err := r.assets.LoadAssets(terrain); err != nil {
		return err
	}
	r.buildEntities(terrain)

	if r.renderSystem == nil {
		return nil
	}
	for _, s := range r.sprites() {
		s.SetZIndex(s.z)
		r.renderSystem.Add(&s.BasicEntity, &s.RenderComponent, &s.SpaceComponent)
	}
	return nil
}

// buildEntities creates the sprites without touching the render system.
func (r *EngoRenderer) buildEntities(terrain *physics.Heightfield) {
	if terrain != nil {
		tex, size := r.assets.Terrain()
		r.terrain = newSprite(tex, float32(size.X), float32(size.Y), terrainZ)
		r.placeTerrain(terrain.Grid())
	}

	r.chassis = newSprite(r.assets.Sprite(SpriteChassis), 16, 32, chassisZ)
	r.applyVisual(engine.PlaceholderVisual())

	for i := range r.wheels {
		w := newSprite(r.assets.Sprite(SpriteWheel), 4, 8, wheelZ)
		w.resize(float32(wheelSize[0])*r.ppm, float32(wheelSize[1])*r.ppm)
		r.wheels[i] = w
	}
}

// placeTerrain covers the grid extent; each texel is centred on its node.
func (r *EngoRenderer) placeTerrain(grid *physics.HeightGrid) {
	_, _, maxX, maxZ := grid.Bounds()
	half := grid.ElementSize() / 2
	r.terrain.Position = worldToPixel(maxX+half, maxZ+half, r.ppm)
	cell := float32(grid.ElementSize()) * r.ppm
	r.terrain.resize(float32(grid.Cols())*cell, float32(grid.Rows())*cell)
}

func (r *EngoRenderer) sprites() []*sprite {
	out := make([]*sprite, 0, 2+len(r.wheels))
	if r.terrain != nil {
		out = append(out, r.terrain)
	}
	for _, w := range r.wheels {
		out = append(out, w)
	}
	return append(out, r.chassis)
}

// applyVisual switches between the placeholder box and the model sprite.
func (r *EngoRenderer) applyVisual(v engine.VisualView) {
	r.visual = v

	size := v.Size
	if size == ([3]float64{}) {
		size = engine.PlaceholderVisual().Size
	}
	scale := v.Scale
	if !(scale > 0) {
		scale = 1
	}

	if v.Placeholder {
		r.chassis.Drawable = r.assets.Sprite(SpriteChassis)
		if c, err := parseHexColor(v.Color); err == nil {
			r.chassis.Color = c
		}
	} else {
		r.chassis.Drawable = r.assets.Sprite(SpriteCar)
		r.chassis.Color = modelColor
	}
	r.chassis.resize(float32(size[0]*scale)*r.ppm, float32(size[2]*scale)*r.ppm)
}

// Publish implements engine.Sink. It must run on the engo goroutine.
func (r *EngoRenderer) Publish(state *engine.FrameState) error {
	if state == nil || r.chassis == nil {
		return nil
	}
	if state.Visual != r.visual {
		r.applyVisual(state.Visual)
	}

	place(r.chassis, state.Chassis, r.ppm)
	for i, w := range state.Wheels {
		s := r.wheels[i]
		place(s, w.Transform, r.ppm)
		switch {
		case w.Sliding:
			s.Color = wheelSlideColor
		case w.InContact:
			s.Color = wheelContactColor
		default:
			s.Color = wheelAirColor
		}
	}
	return nil
}

// place centres a sprite on a pose, rotated to its heading.
func place(s *sprite, pose physics.Pose, ppm float32) {
	s.Rotation = yawToRotation(pose.Heading())
	s.SetCenter(worldToPixel(pose.Position.X(), pose.Position.Z(), ppm))
}

// Remove takes every entity out of the render system.
func (r *EngoRenderer) Remove() {
	if r.renderSystem == nil {
		return
	}
	for _, s := range r.sprites() {
		if s != nil {
			r.renderSystem.Remove(s.BasicEntity)
		}
	}
}
