package render

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// shades run from the lowest to the highest terrain.
const shades = " .:-=+*#%@"

// TerminalRenderer draws a top-down ASCII view centred on the car: terrain
// height as shading, the chassis as an arrow and contacting wheels as 'o'.
// World +Z is up the screen and world +X is to the left, so the car's left
// stays on the left of the screen when it faces up.
type TerminalRenderer struct {
	width   int
	height  int
	buffer  [][]rune
	scale   float64
	centerX float64
	centerZ float64

	terrain    *physics.Heightfield
	minH, maxH float64
	out        io.Writer
	clear      bool
	status     string
}

// NewTerminalRenderer creates a renderer with the given character dimensions.
// scale is metres per character. terrain may be nil.
func NewTerminalRenderer(width, height int, scale float64, terrain *physics.Heightfield, out io.Writer) *TerminalRenderer {
	buffer := make([][]rune, height)
	for i := range buffer {
		buffer[i] = make([]rune, width)
	}

	r := &TerminalRenderer{
		width:   width,
		height:  height,
		buffer:  buffer,
		scale:   scale,
		terrain: terrain,
		out:     out,
	}
	if terrain != nil {
		r.minH, r.maxH = heightRange(terrain.Grid())
	}
	return r
}

// SetClearScreen makes Present emit an ANSI clear before each frame.
func (r *TerminalRenderer) SetClearScreen(clear bool) {
	r.clear = clear
}

func heightRange(g *physics.HeightGrid) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < g.Cols(); i++ {
		for j := 0; j < g.Rows(); j++ {
			h := g.Node(i, j)
			lo = math.Min(lo, h)
			hi = math.Max(hi, h)
		}
	}
	return lo, hi
}

// SetCenter sets the world position at the middle of the view.
func (r *TerminalRenderer) SetCenter(x, z float64) {
	r.centerX = x
	r.centerZ = z
}

// worldToScreen converts world coordinates to screen coordinates
func (r *TerminalRenderer) worldToScreen(x, z float64) (int, int) {
	screenX := int(math.Floor(-(x-r.centerX)/r.scale + float64(r.width)/2))
	screenY := int(math.Floor(-(z-r.centerZ)/r.scale + float64(r.height)/2))
	return screenX, screenY
}

// screenToWorld returns the world coordinates at the centre of a character.
func (r *TerminalRenderer) screenToWorld(sx, sy int) (float64, float64) {
	x := r.centerX - (float64(sx)+0.5-float64(r.width)/2)*r.scale
	z := r.centerZ - (float64(sy)+0.5-float64(r.height)/2)*r.scale
	return x, z
}

func (r *TerminalRenderer) inBounds(x, y int) bool {
	return x >= 0 && x < r.width && y >= 0 && y < r.height
}

// Clear blanks the buffer.
func (r *TerminalRenderer) Clear() {
	for y := range r.buffer {
		for x := range r.buffer[y] {
			r.buffer[y][x] = ' '
		}
	}
	r.status = ""
}

// DrawTerrain shades every character by the terrain height below it. Points
// off the heightfield stay blank.
func (r *TerminalRenderer) DrawTerrain() {
	if r.terrain == nil {
		return
	}
	span := r.maxH - r.minH
	for sy := 0; sy < r.height; sy++ {
		for sx := 0; sx < r.width; sx++ {
			x, z := r.screenToWorld(sx, sy)
			h, err := r.terrain.HeightAt(x, z)
			if err != nil {
				continue
			}
			level := 0
			if span > 0 {
				level = int((h - r.minH) / span * float64(len(shades)-1))
			}
			r.buffer[sy][sx] = rune(shades[level])
		}
	}
}

// headingGlyph picks the arrow closest to the screen direction of the
// chassis forward axis.
func headingGlyph(pose physics.Pose) rune {
	f := pose.VectorToWorld(physics.LocalForward)
	if math.Abs(f.Z()) >= math.Abs(f.X()) {
		if f.Z() >= 0 {
			return '^'
		}
		return 'v'
	}
	if f.X() > 0 {
		return '<'
	}
	return '>'
}

// DrawVehicle draws the wheels then the chassis arrow.
func (r *TerminalRenderer) DrawVehicle(state *engine.FrameState) {
	for _, w := range state.Wheels {
		x, y := r.worldToScreen(w.Transform.Position.X(), w.Transform.Position.Z())
		if !r.inBounds(x, y) {
			continue
		}
		switch {
		case w.Sliding:
			r.buffer[y][x] = 'x'
		case w.InContact:
			r.buffer[y][x] = 'o'
		default:
			r.buffer[y][x] = '\''
		}
	}

	x, y := r.worldToScreen(state.Chassis.Position.X(), state.Chassis.Position.Z())
	if r.inBounds(x, y) {
		r.buffer[y][x] = headingGlyph(state.Chassis)
	}

	p := state.Chassis.Position
	r.status = fmt.Sprintf("t=%6.2fs speed=%6.2fm/s pos=(%.1f, %.1f, %.1f) contacts=%d keys=%s",
		state.Time, state.Speed, p.X(), p.Y(), p.Z(), state.Contacts, strings.Join(state.Keys, ","))
}

// Present writes the buffer inside a border, followed by the status line.
func (r *TerminalRenderer) Present() error {
	var b strings.Builder
	if r.clear {
		b.WriteString("\033[H\033[2J")
	}

	border := "+" + strings.Repeat("-", r.width) + "+\n"
	b.WriteString(border)
	for y := range r.buffer {
		b.WriteByte('|')
		b.WriteString(string(r.buffer[y]))
		b.WriteString("|\n")
	}
	b.WriteString(border)
	if r.status != "" {
		b.WriteString(r.status)
		b.WriteByte('\n')
	}

	_, err := io.WriteString(r.out, b.String())
	return err
}

// Publish implements TransformSink: it redraws the view around the car.
func (r *TerminalRenderer) Publish(state *engine.FrameState) error {
	if state == nil {
		return nil
	}
	r.Clear()
	r.SetCenter(state.Chassis.Position.X(), state.Chassis.Position.Z())
	r.DrawTerrain()
	r.DrawVehicle(state)
	return r.Present()
}
