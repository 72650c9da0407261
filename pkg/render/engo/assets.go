// pkg/render/engo/assets.go
package engo

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"github.com/EngoEngine/engo/common"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// Sprite names.
const (
	SpriteChassis = "chassis"
	SpriteCar     = "car"
	SpriteWheel   = "wheel"
)

// AssetManager builds the textures drawn by the window view. Everything is
// generated from pixel patterns so no image files are needed.
type AssetManager struct {
	sprites map[string]common.Drawable

	terrain     common.Drawable
	terrainSize image.Point
}

// NewAssetManager creates a new asset manager
func NewAssetManager() *AssetManager {
	return &AssetManager{
		sprites: make(map[string]common.Drawable),
	}
}

// LoadAssets uploads the vehicle sprites and, when terrain is not nil, a
// height-shaded terrain texture. It needs an OpenGL context.
func (am *AssetManager) LoadAssets(terrain *physics.Heightfield) error {
	am.sprites[SpriteChassis] = am.createSprite(chassisPattern())
	am.sprites[SpriteCar] = am.createSprite(carPattern())
	am.sprites[SpriteWheel] = am.createSprite(wheelPattern())

	if terrain != nil {
		img := terrainImage(terrain.Grid())
		am.terrainSize = img.Bounds().Size()
		am.terrain = common.NewTextureSingle(common.NewImageObject(img))
	}
	return nil
}

// chassisPattern is a plain box with the nose row at the top.
func chassisPattern() [][]int {
	pattern := make([][]int, 32)
	for y := range pattern {
		pattern[y] = make([]int, 16)
		for x := range pattern[y] {
			pattern[y][x] = 1
		}
	}
	// Windscreen so the heading is readable.
	for x := 3; x < 13; x++ {
		pattern[8][x] = 0
		pattern[9][x] = 0
	}
	return pattern
}

// carPattern is the body outline used once a model is attached.
func carPattern() [][]int {
	pattern := make([][]int, 32)
	for y := range pattern {
		pattern[y] = make([]int, 16)
		inset := 0
		switch {
		case y < 2 || y > 29:
			inset = 3
		case y < 4 || y > 27:
			inset = 1
		}
		for x := inset; x < 16-inset; x++ {
			pattern[y][x] = 1
		}
	}
	for y := 9; y < 22; y++ {
		for x := 4; x < 12; x++ {
			if y == 9 || y == 21 || x == 4 || x == 11 {
				pattern[y][x] = 0
			}
		}
	}
	return pattern
}

func wheelPattern() [][]int {
	pattern := make([][]int, 8)
	for y := range pattern {
		pattern[y] = []int{1, 1, 1, 1}
	}
	// Tread marks show rotation direction.
	pattern[2][1], pattern[5][2] = 0, 0
	return pattern
}

// createSprite creates a texture from a 2D pattern
func (am *AssetManager) createSprite(pattern [][]int) common.Drawable {
	return am.convertToEngoTexture(patternImage(pattern))
}

func patternImage(pattern [][]int) *image.RGBA {
	height := len(pattern)
	width := 0
	if height > 0 {
		width = len(pattern[0])
	}
	img := createBaseImage(width, height)
	drawPatternOnImage(img, pattern, width, height)
	return img
}

// createBaseImage creates a transparent RGBA image with the specified dimensions.
func createBaseImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{0, 0, 0, 0}}, image.Point{}, draw.Src)
	return img
}

// drawPatternOnImage draws a 2D pixel pattern onto the provided RGBA image.
// Sprites are white so the render colour tints them.
func drawPatternOnImage(img *image.RGBA, pattern [][]int, width, height int) {
	for y, row := range pattern {
		if y >= height {
			break
		}
		for x, pixel := range row {
			if x >= width {
				break
			}
			if pixel == 1 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
}

// convertToEngoTexture converts an RGBA image to an Engo-compatible texture.
func (am *AssetManager) convertToEngoTexture(img *image.RGBA) common.Drawable {
	bounds := img.Bounds()
	nrgbaImg := image.NewNRGBA(bounds)
	draw.Draw(nrgbaImg, bounds, img, bounds.Min, draw.Src)

	texture := common.NewImageObject(nrgbaImg)
	return common.NewTextureSingle(texture)
}

// terrainImage draws one pixel per grid node. Pixel (0, 0) is the node with
// the largest X and Z so the image matches the screen orientation.
func terrainImage(grid *physics.HeightGrid) *image.NRGBA {
	cols, rows := grid.Cols(), grid.Rows()
	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))

	lo, hi := math.Inf(1), math.Inf(-1)
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			h := grid.Node(i, j)
			lo = math.Min(lo, h)
			hi = math.Max(hi, h)
		}
	}

	for py := 0; py < rows; py++ {
		for px := 0; px < cols; px++ {
			img.SetNRGBA(px, py, shade(grid.Node(cols-1-px, rows-1-py), lo, hi))
		}
	}
	return img
}

// shade maps a height onto a dark-to-light green ramp.
func shade(h, lo, hi float64) color.NRGBA {
	t := 0.5
	if hi > lo {
		t = (h - lo) / (hi - lo)
	}
	return color.NRGBA{
		R: uint8(40 + 90*t),
		G: uint8(80 + 120*t),
		B: uint8(30 + 60*t),
		A: 255,
	}
}

// parseHexColor reads "#rrggbb" or "rrggbb".
func parseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// Sprite returns a named sprite, falling back to the chassis box.
func (am *AssetManager) Sprite(name string) common.Drawable {
	if sprite, exists := am.sprites[name]; exists {
		return sprite
	}
	return am.sprites[SpriteChassis]
}

// Terrain returns the terrain texture and its size in pixels.
func (am *AssetManager) Terrain() (common.Drawable, image.Point) {
	return am.terrain, am.terrainSize
}
