package render

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// rampTerrain rises one metre per metre along +X.
func rampTerrain(t *testing.T) *physics.Heightfield {
	t.Helper()
	grid, err := physics.NewHeightGrid(11, 11, 1, physics.HeightSamplerFunc(func(i, j int) float64 {
		return float64(i)
	}))
	if err != nil {
		t.Fatalf("NewHeightGrid() error = %v", err)
	}
	return physics.NewHeightfield(grid)
}

func frameAt(x, z, yaw float64) *engine.FrameState {
	state := &engine.FrameState{
		Chassis:  physics.YawPose(mgl64.Vec3{x, 1, z}, yaw),
		Speed:    3.5,
		Contacts: 4,
		Keys:     []string{"forward"},
	}
	for i := range state.Wheels {
		state.Wheels[i].Transform = physics.YawPose(mgl64.Vec3{x, 0.35, z}, yaw)
		state.Wheels[i].InContact = true
	}
	return state
}

func TestNewTerminalRenderer_CreatesValidRenderer_WithCorrectDimensions(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		scale  float64
	}{
		{"small renderer", 10, 5, 1.0},
		{"medium renderer", 80, 24, 10.0},
		{"large renderer", 120, 40, 5.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renderer := NewTerminalRenderer(tt.width, tt.height, tt.scale, nil, &bytes.Buffer{})

			if renderer == nil {
				t.Fatal("NewTerminalRenderer returned nil")
			}
			if renderer.width != tt.width || renderer.height != tt.height {
				t.Errorf("expected %dx%d, got %dx%d", tt.width, tt.height, renderer.width, renderer.height)
			}
			if renderer.scale != tt.scale {
				t.Errorf("expected scale %f, got %f", tt.scale, renderer.scale)
			}
			if len(renderer.buffer) != tt.height {
				t.Errorf("expected buffer height %d, got %d", tt.height, len(renderer.buffer))
			}
			for i, row := range renderer.buffer {
				if len(row) != tt.width {
					t.Errorf("row %d: expected width %d, got %d", i, tt.width, len(row))
				}
			}
			if renderer.centerX != 0 || renderer.centerZ != 0 {
				t.Errorf("expected center at origin, got (%f, %f)", renderer.centerX, renderer.centerZ)
			}
		})
	}
}

func TestNewTerminalRenderer_HeightRange(t *testing.T) {
	renderer := NewTerminalRenderer(10, 5, 1, rampTerrain(t), &bytes.Buffer{})
	if renderer.minH != 0 || renderer.maxH != 10 {
		t.Errorf("height range = [%f, %f], expected [0, 10]", renderer.minH, renderer.maxH)
	}
}

func TestWorldToScreen_ConvertsCoordinates_Correctly(t *testing.T) {
	renderer := NewTerminalRenderer(80, 24, 10.0, nil, &bytes.Buffer{})

	tests := []struct {
		name             string
		centerX, centerZ float64
		worldX, worldZ   float64
		expectedX        int
		expectedY        int
	}{
		{"center at origin, world at origin", 0, 0, 0, 0, 40, 12},
		// +X draws to the left and +Z draws up.
		{"center at origin, world offset", 0, 0, 100, 50, 30, 7},
		{"center offset, world at origin", 50, 25, 0, 0, 45, 14},
		{"both center and world offset", 100, 50, 200, 150, 30, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renderer.SetCenter(tt.centerX, tt.centerZ)
			x, y := renderer.worldToScreen(tt.worldX, tt.worldZ)

			if x != tt.expectedX {
				t.Errorf("expected screen X %d, got %d", tt.expectedX, x)
			}
			if y != tt.expectedY {
				t.Errorf("expected screen Y %d, got %d", tt.expectedY, y)
			}
		})
	}
}

func TestScreenToWorld_InvertsWorldToScreen(t *testing.T) {
	renderer := NewTerminalRenderer(30, 20, 2.5, nil, &bytes.Buffer{})
	renderer.SetCenter(12, -7)

	for sy := 0; sy < renderer.height; sy++ {
		for sx := 0; sx < renderer.width; sx++ {
			x, z := renderer.screenToWorld(sx, sy)
			gx, gy := renderer.worldToScreen(x, z)
			if gx != sx || gy != sy {
				t.Fatalf("(%d, %d) -> (%f, %f) -> (%d, %d)", sx, sy, x, z, gx, gy)
			}
		}
	}
}

func TestClear_ClearsBuffer_WithSpaces(t *testing.T) {
	renderer := NewTerminalRenderer(10, 5, 1.0, nil, &bytes.Buffer{})

	for y := 0; y < renderer.height; y++ {
		for x := 0; x < renderer.width; x++ {
			renderer.buffer[y][x] = 'X'
		}
	}
	renderer.status = "stale"

	renderer.Clear()

	for y := 0; y < renderer.height; y++ {
		for x := 0; x < renderer.width; x++ {
			if renderer.buffer[y][x] != ' ' {
				t.Errorf("position (%d, %d) expected space, got %c", x, y, renderer.buffer[y][x])
			}
		}
	}
	if renderer.status != "" {
		t.Errorf("status not cleared: %q", renderer.status)
	}
}

func TestHeadingGlyph(t *testing.T) {
	tests := []struct {
		name     string
		yaw      float64
		expected rune
	}{
		{"facing +Z", 0, '^'},
		{"facing +X", math.Pi / 2, '<'},
		{"facing -Z", math.Pi, 'v'},
		{"facing -X", -math.Pi / 2, '>'},
		{"slightly left of +Z", 0.3, '^'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := headingGlyph(physics.YawPose(mgl64.Vec3{}, tt.yaw))
			if got != tt.expected {
				t.Errorf("headingGlyph(%v) = %c, expected %c", tt.yaw, got, tt.expected)
			}
		})
	}
}

func TestDrawVehicle_RendersAtCorrectPosition(t *testing.T) {
	tests := []struct {
		name         string
		x, z         float64
		expectRender bool
	}{
		{"vehicle at center", 0, 0, true},
		{"vehicle out of bounds", 1000, 1000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renderer := NewTerminalRenderer(20, 10, 1.0, nil, &bytes.Buffer{})
			renderer.Clear()
			renderer.DrawVehicle(frameAt(tt.x, tt.z, 0))

			x, y := renderer.worldToScreen(tt.x, tt.z)
			if tt.expectRender {
				if renderer.buffer[y][x] != '^' {
					t.Errorf("expected '^' at (%d, %d), got %c", x, y, renderer.buffer[y][x])
				}
				return
			}
			for y := 0; y < renderer.height; y++ {
				for x := 0; x < renderer.width; x++ {
					if renderer.buffer[y][x] != ' ' {
						t.Errorf("expected no rendering, but found %c at (%d, %d)", renderer.buffer[y][x], x, y)
					}
				}
			}
		})
	}
}

func TestDrawVehicle_WheelGlyphs(t *testing.T) {
	renderer := NewTerminalRenderer(20, 10, 1.0, nil, &bytes.Buffer{})
	renderer.Clear()

	state := frameAt(0, 0, 0)
	offsets := [physics.WheelCount]mgl64.Vec3{{3, 0, 3}, {-3, 0, 3}, {3, 0, -3}, {-3, 0, -3}}
	for i := range state.Wheels {
		state.Wheels[i].Transform.Position = offsets[i]
	}
	state.Wheels[1].Sliding = true
	state.Wheels[2].InContact = false

	renderer.DrawVehicle(state)

	expected := []rune{'o', 'x', '\'', 'o'}
	for i, want := range expected {
		x, y := renderer.worldToScreen(offsets[i].X(), offsets[i].Z())
		if got := renderer.buffer[y][x]; got != want {
			t.Errorf("wheel %d glyph = %c, expected %c", i, got, want)
		}
	}
}

func TestDrawTerrain_ShadesByHeight(t *testing.T) {
	renderer := NewTerminalRenderer(10, 4, 1.0, rampTerrain(t), &bytes.Buffer{})
	renderer.Clear()
	renderer.DrawTerrain()

	// Terrain rises toward +X, which is the left of the screen.
	for y := 0; y < renderer.height; y++ {
		prev := len(shades)
		for x := 0; x < renderer.width; x++ {
			level := strings.IndexRune(shades, renderer.buffer[y][x])
			if level < 0 {
				t.Fatalf("unexpected glyph %c at (%d, %d)", renderer.buffer[y][x], x, y)
			}
			if level > prev {
				t.Errorf("row %d: shading rises to the right at column %d", y, x)
			}
			prev = level
		}
		if renderer.buffer[y][0] == ' ' {
			t.Errorf("row %d: high ground drawn blank", y)
		}
	}
}

func TestDrawTerrain_OffFieldIsBlank(t *testing.T) {
	renderer := NewTerminalRenderer(10, 4, 1.0, rampTerrain(t), &bytes.Buffer{})
	renderer.Clear()
	renderer.SetCenter(500, 500)
	renderer.DrawTerrain()

	for y := range renderer.buffer {
		if row := string(renderer.buffer[y]); strings.TrimSpace(row) != "" {
			t.Errorf("row %d drawn off the terrain: %q", y, row)
		}
	}
}

func TestPresent_WritesBorderAndStatus(t *testing.T) {
	var out bytes.Buffer
	renderer := NewTerminalRenderer(6, 2, 1.0, nil, &out)
	renderer.Clear()
	renderer.DrawVehicle(frameAt(0, 0, 0))

	if err := renderer.Present(); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(lines), out.String())
	}
	if lines[0] != "+------+" || lines[3] != "+------+" {
		t.Errorf("unexpected border: %q / %q", lines[0], lines[3])
	}
	if !strings.Contains(lines[4], "speed=  3.50m/s") || !strings.Contains(lines[4], "keys=forward") {
		t.Errorf("unexpected status line %q", lines[4])
	}
	if strings.Contains(out.String(), "\033[2J") {
		t.Error("screen cleared without SetClearScreen")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestPublish_DrawsAroundCar(t *testing.T) {
	var out bytes.Buffer
	renderer := NewTerminalRenderer(21, 9, 0.5, rampTerrain(t), &out)
	renderer.SetClearScreen(true)

	if err := renderer.Publish(frameAt(1, 2, math.Pi)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if renderer.centerX != 1 || renderer.centerZ != 2 {
		t.Errorf("view not centred on car: (%f, %f)", renderer.centerX, renderer.centerZ)
	}
	if !strings.HasPrefix(out.String(), "\033[H\033[2J") {
		t.Error("expected clear-screen prefix")
	}
	if !strings.ContainsRune(out.String(), 'v') {
		t.Error("car arrow missing from output")
	}

	if err := renderer.Publish(nil); err != nil {
		t.Errorf("Publish(nil) error = %v", err)
	}

	broken := NewTerminalRenderer(4, 2, 1, nil, failingWriter{})
	if err := broken.Publish(frameAt(0, 0, 0)); err == nil {
		t.Error("expected write error from Publish")
	}
}
