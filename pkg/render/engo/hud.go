// pkg/render/engo/hud.go
package engo

import (
	"bytes"
	"fmt"
	"image/color"
	"strings"

	"github.com/EngoEngine/ecs"
	"github.com/EngoEngine/engo"
	"github.com/EngoEngine/engo/common"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
)

const hudFontURL = "hud-goregular.ttf"

// HUDSystem draws a status panel in the window's top-left corner.
type HUDSystem struct {
	renderSystem *common.RenderSystem
	font         *common.Font
	text         *sprite

	status  string
	dirty   bool
	visible bool

	hudColor color.Color
}

// NewHUDSystem creates a new HUD system
func NewHUDSystem(renderSystem *common.RenderSystem) *HUDSystem {
	return &HUDSystem{
		renderSystem: renderSystem,
		visible:      true,
		hudColor:     color.RGBA{255, 255, 255, 255},
	}
}

// PreloadFont registers the embedded HUD font with engo's file loader.
func PreloadFont() error {
	return engo.Files.LoadReaderData(hudFontURL, bytes.NewReader(goregular.TTF))
}

// Initialize builds the font and the text entity. It needs an OpenGL
// context and PreloadFont to have run.
func (hud *HUDSystem) Initialize() error {
	font := &common.Font{URL: hudFontURL, FG: hud.hudColor, Size: 16}
	if err := font.CreatePreloaded(); err != nil {
		return fmt.Errorf("failed to create HUD font: %w", err)
	}
	hud.font = font

	hud.text = newSprite(common.Text{Font: font, Text: " "}, 0, 0, hudZ)
	hud.text.SetShader(common.TextHUDShader)
	hud.text.SetZIndex(hud.text.z)
	hud.text.Position = engo.Point{X: 10, Y: 10}
	if hud.renderSystem != nil {
		hud.renderSystem.Add(&hud.text.BasicEntity, &hud.text.RenderComponent, &hud.text.SpaceComponent)
	}
	return nil
}

// Priority draws the HUD after the camera has moved.
func (hud *HUDSystem) Priority() int { return hudSystemPriority }

// Remove satisfies the ecs.System interface
func (hud *HUDSystem) Remove(basic ecs.BasicEntity) {}

// Update refreshes the text entity when the status changed.
func (hud *HUDSystem) Update(dt float32) {
	if hud.text == nil || !hud.dirty {
		return
	}
	text := hud.status
	if !hud.visible {
		text = " "
	}
	hud.text.Drawable = common.Text{Font: hud.font, Text: text}
	hud.dirty = false
}

// Publish implements engine.Sink.
func (hud *HUDSystem) Publish(state *engine.FrameState) error {
	if state == nil {
		return nil
	}
	if status := statusText(state); status != hud.status {
		hud.status = status
		hud.dirty = true
	}
	return nil
}

// SetVisible shows or hides the panel.
func (hud *HUDSystem) SetVisible(visible bool) {
	hud.visible = visible
	hud.dirty = true
}

// Status returns the current panel text.
func (hud *HUDSystem) Status() string {
	return hud.status
}

// statusText formats one frame for the panel.
func statusText(state *engine.FrameState) string {
	p := state.Chassis.Position
	model := "placeholder"
	if !state.Visual.Placeholder {
		model = state.Visual.Path
	}
	keys := "-"
	if len(state.Keys) > 0 {
		keys = strings.Join(state.Keys, " ")
	}

	lines := []string{
		fmt.Sprintf("Speed: %5.1f km/h", state.Speed*3.6),
		fmt.Sprintf("Position: %.1f, %.1f, %.1f", p.X(), p.Y(), p.Z()),
		fmt.Sprintf("Wheels on ground: %d/%d", state.Contacts, len(state.Wheels)),
		fmt.Sprintf("Time: %.1fs", state.Time),
		"Keys: " + keys,
		"Model: " + model,
	}
	return strings.Join(lines, "\n")
}
