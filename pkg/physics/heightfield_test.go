// pkg/physics/heightfield_test.go
package physics

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func mustHeightfield(t *testing.T, cols, rows int, size float64, sampler HeightSampler) *Heightfield {
	t.Helper()
	grid, err := NewHeightGrid(cols, rows, size, sampler)
	if err != nil {
		t.Fatalf("NewHeightGrid() error = %v", err)
	}
	return NewHeightfield(grid)
}

// rampSampler rises one metre per metre along world X on a grid whose
// minimum X is minX.
func rampSampler(minX, size float64) HeightSampler {
	return HeightSamplerFunc(func(i, j int) float64 {
		return minX + float64(i)*size
	})
}

func TestNewHeightGrid_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cols    int
		rows    int
		size    float64
		sampler HeightSampler
	}{
		{"too_few_cols", 1, 5, 1, FlatSampler(0)},
		{"too_few_rows", 5, 1, 1, FlatSampler(0)},
		{"zero_element_size", 5, 5, 0, FlatSampler(0)},
		{"negative_element_size", 5, 5, -2, FlatSampler(0)},
		{"nil_sampler", 5, 5, 1, nil},
		{"nan_sample", 5, 5, 1, FlatSampler(math.NaN())},
		{"inf_sample", 5, 5, 1, FlatSampler(math.Inf(-1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHeightGrid(tt.cols, tt.rows, tt.size, tt.sampler)
			if !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("NewHeightGrid() error = %v, expected ErrInvalidSpec", err)
			}
		})
	}
}

func TestHeightGrid_CentredOnOrigin(t *testing.T) {
	hf := mustHeightfield(t, 51, 51, 4, FlatSampler(0))
	minX, minZ, maxX, maxZ := hf.Grid().Bounds()
	if minX != -100 || minZ != -100 || maxX != 100 || maxZ != 100 {
		t.Errorf("Bounds() = (%v, %v, %v, %v), expected +-100", minX, minZ, maxX, maxZ)
	}
	if p := hf.Grid().NodePosition(25, 25); p.X() != 0 || p.Z() != 0 {
		t.Errorf("centre node at %v, expected origin", p)
	}
}

func TestWaveSampler_MatchesClosedForm(t *testing.T) {
	w := WaveSampler{ElementSize: 4, Cols: 51, Rows: 51, Amplitude: 2, Frequency: 0.1}
	hf := mustHeightfield(t, w.Cols, w.Rows, w.ElementSize, w)

	for _, i := range []int{0, 10, 25, 50} {
		for _, j := range []int{0, 7, 25, 50} {
			p := hf.Grid().NodePosition(i, j)
			expected := 2*math.Sin(p.X()*0.1) + 2*math.Cos(p.Z()*0.1)
			if math.Abs(p.Y()-expected) > 1e-12 {
				t.Errorf("node (%d, %d) height = %v, expected %v", i, j, p.Y(), expected)
			}
		}
	}
}

func TestHeightfield_HeightAt(t *testing.T) {
	hf := mustHeightfield(t, 11, 11, 2, rampSampler(-10, 2))

	tests := []struct {
		name     string
		x, z     float64
		expected float64
	}{
		{"node", 0, 0, 0},
		{"mid_cell", 1, 1, 1},
		{"quarter_cell", -3.5, 4.2, -3.5},
		{"max_edge", 10, 10, 10},
		{"min_edge", -10, -10, -10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := hf.HeightAt(tt.x, tt.z)
			if err != nil {
				t.Fatalf("HeightAt() error = %v", err)
			}
			if math.Abs(got-tt.expected) > epsilon {
				t.Errorf("HeightAt() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestHeightfield_OutOfBounds(t *testing.T) {
	hf := mustHeightfield(t, 11, 11, 2, FlatSampler(0))

	for _, p := range [][2]float64{{10.01, 0}, {0, -10.01}, {100, 100}, {math.NaN(), 0}} {
		if _, err := hf.HeightAt(p[0], p[1]); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("HeightAt(%v) error = %v, expected ErrOutOfBounds", p, err)
		}
		if _, err := hf.NormalAt(p[0], p[1]); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("NormalAt(%v) error = %v, expected ErrOutOfBounds", p, err)
		}
	}
}

func TestHeightfield_NormalAt(t *testing.T) {
	flat := mustHeightfield(t, 11, 11, 2, FlatSampler(3))
	n, err := flat.NormalAt(1.3, -2.7)
	if err != nil {
		t.Fatalf("NormalAt() error = %v", err)
	}
	if !vecNear(n, mgl64.Vec3{0, 1, 0}, epsilon) {
		t.Errorf("flat NormalAt() = %v, expected +Y", n)
	}

	ramp := mustHeightfield(t, 11, 11, 2, rampSampler(-10, 2))
	n, err = ramp.NormalAt(0.5, 0.5)
	if err != nil {
		t.Fatalf("NormalAt() error = %v", err)
	}
	expected := mgl64.Vec3{-1, 1, 0}.Normalize()
	if !vecNear(n, expected, epsilon) {
		t.Errorf("ramp NormalAt() = %v, expected %v", n, expected)
	}
	if math.Abs(n.Len()-1) > epsilon {
		t.Errorf("normal length = %v, expected 1", n.Len())
	}
}

func TestHeightfield_Raycast(t *testing.T) {
	hf := mustHeightfield(t, 21, 21, 1, FlatSampler(0))
	down := mgl64.Vec3{0, -1, 0}

	t.Run("hit_flat", func(t *testing.T) {
		hit, ok := hf.Raycast(mgl64.Vec3{0.3, 0.6, -1.2}, down, 1)
		if !ok {
			t.Fatal("Raycast() found no hit")
		}
		if math.Abs(hit.Distance-0.6) > 1e-6 {
			t.Errorf("Distance = %v, expected 0.6", hit.Distance)
		}
		if math.Abs(hit.ContactPoint.Y()) > 1e-6 {
			t.Errorf("ContactPoint.Y = %v, expected 0", hit.ContactPoint.Y())
		}
		if !vecNear(hit.Normal, mgl64.Vec3{0, 1, 0}, epsilon) {
			t.Errorf("Normal = %v, expected +Y", hit.Normal)
		}
	})

	t.Run("too_short", func(t *testing.T) {
		if _, ok := hf.Raycast(mgl64.Vec3{0, 2, 0}, down, 1); ok {
			t.Error("Raycast() hit beyond max length")
		}
	})

	t.Run("origin_below_surface", func(t *testing.T) {
		hit, ok := hf.Raycast(mgl64.Vec3{0, -0.2, 0}, down, 1)
		if !ok || hit.Distance != 0 {
			t.Errorf("Raycast() = %+v, %v, expected hit at distance 0", hit, ok)
		}
	})

	t.Run("outside_grid", func(t *testing.T) {
		if _, ok := hf.Raycast(mgl64.Vec3{50, 0.5, 0}, down, 1); ok {
			t.Error("Raycast() hit outside the grid")
		}
	})

	t.Run("leaves_grid", func(t *testing.T) {
		dir := mgl64.Vec3{1, -0.1, 0}
		if _, ok := hf.Raycast(mgl64.Vec3{9.5, 0.5, 0}, dir, 20); ok {
			t.Error("Raycast() hit after leaving the grid")
		}
	})

	t.Run("slanted_on_ramp", func(t *testing.T) {
		ramp := mustHeightfield(t, 11, 11, 2, rampSampler(-10, 2))
		hit, ok := ramp.Raycast(mgl64.Vec3{0, 1, 0}, down, 3)
		if !ok {
			t.Fatal("Raycast() found no hit")
		}
		surface, _ := ramp.HeightAt(hit.ContactPoint.X(), hit.ContactPoint.Z())
		if math.Abs(hit.ContactPoint.Y()-surface) > 1e-6 {
			t.Errorf("contact %v off surface %v", hit.ContactPoint.Y(), surface)
		}
		if math.Abs(hit.Distance-1) > 1e-6 {
			t.Errorf("Distance = %v, expected 1", hit.Distance)
		}
	})
}
