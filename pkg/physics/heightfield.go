// pkg/physics/heightfield.go
package physics

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrOutOfBounds is returned by terrain queries outside the grid. Callers
// treat it as "no ground".
var ErrOutOfBounds = errors.New("terrain query out of bounds")

// HeightGrid is an immutable grid of elevations centred on the world origin.
// Node (i, j) sits at x = MinX + i*ElementSize, z = MinZ + j*ElementSize.
type HeightGrid struct {
	cols        int
	rows        int
	elementSize float64
	minX        float64
	minZ        float64
	heights     []float64
}

// NewHeightGrid samples sampler at every node of a cols x rows grid.
func NewHeightGrid(cols, rows int, elementSize float64, sampler HeightSampler) (*HeightGrid, error) {
	if cols < 2 || rows < 2 {
		return nil, fmt.Errorf("%w: height grid must be at least 2x2, got %dx%d", ErrInvalidSpec, cols, rows)
	}
	if !(elementSize > 0) || math.IsInf(elementSize, 0) {
		return nil, fmt.Errorf("%w: element size must be positive, got %v", ErrInvalidSpec, elementSize)
	}
	if sampler == nil {
		return nil, fmt.Errorf("%w: height sampler is nil", ErrInvalidSpec)
	}

	g := &HeightGrid{
		cols:        cols,
		rows:        rows,
		elementSize: elementSize,
		minX:        -float64(cols-1) * elementSize / 2,
		minZ:        -float64(rows-1) * elementSize / 2,
		heights:     make([]float64, cols*rows),
	}
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			h := sampler.Sample(i, j)
			if math.IsNaN(h) || math.IsInf(h, 0) {
				return nil, fmt.Errorf("%w: non-finite height %v at node (%d, %d)", ErrInvalidSpec, h, i, j)
			}
			g.heights[j*cols+i] = h
		}
	}
	return g, nil
}

// Cols returns the number of nodes along X.
func (g *HeightGrid) Cols() int { return g.cols }

// Rows returns the number of nodes along Z.
func (g *HeightGrid) Rows() int { return g.rows }

// ElementSize returns the world distance between adjacent nodes.
func (g *HeightGrid) ElementSize() float64 { return g.elementSize }

// Node returns the elevation stored at node (i, j).
func (g *HeightGrid) Node(i, j int) float64 {
	return g.heights[j*g.cols+i]
}

// NodePosition returns the world-space position of node (i, j).
func (g *HeightGrid) NodePosition(i, j int) mgl64.Vec3 {
	return mgl64.Vec3{
		g.minX + float64(i)*g.elementSize,
		g.Node(i, j),
		g.minZ + float64(j)*g.elementSize,
	}
}

// Bounds returns the world-space XZ extent covered by the grid.
func (g *HeightGrid) Bounds() (minX, minZ, maxX, maxZ float64) {
	return g.minX, g.minZ,
		g.minX + float64(g.cols-1)*g.elementSize,
		g.minZ + float64(g.rows-1)*g.elementSize
}

// RayHit describes where a ray met the terrain surface.
type RayHit struct {
	ContactPoint mgl64.Vec3
	Normal       mgl64.Vec3
	Distance     float64
}

// Heightfield is the static collision surface built from a HeightGrid.
type Heightfield struct {
	grid *HeightGrid
}

// NewHeightfield wraps grid as a collider.
func NewHeightfield(grid *HeightGrid) *Heightfield {
	return &Heightfield{grid: grid}
}

// Grid returns the underlying height grid.
func (h *Heightfield) Grid() *HeightGrid {
	return h.grid
}

// Contains reports whether (x, z) lies inside the grid.
func (h *Heightfield) Contains(x, z float64) bool {
	_, _, _, _, ok := h.cell(x, z)
	return ok
}

// cell locates the grid cell enclosing (x, z) and the fractional offsets
// within it.
func (h *Heightfield) cell(x, z float64) (i, j int, tx, tz float64, ok bool) {
	g := h.grid
	fx := (x - g.minX) / g.elementSize
	fz := (z - g.minZ) / g.elementSize
	if !(fx >= 0 && fx <= float64(g.cols-1) && fz >= 0 && fz <= float64(g.rows-1)) {
		return 0, 0, 0, 0, false
	}
	i = int(math.Floor(fx))
	j = int(math.Floor(fz))
	if i > g.cols-2 {
		i = g.cols - 2
	}
	if j > g.rows-2 {
		j = g.rows - 2
	}
	return i, j, fx - float64(i), fz - float64(j), true
}

// HeightAt returns the bilinearly interpolated surface height at (x, z).
func (h *Heightfield) HeightAt(x, z float64) (float64, error) {
	i, j, tx, tz, ok := h.cell(x, z)
	if !ok {
		return 0, ErrOutOfBounds
	}
	g := h.grid
	h00 := g.Node(i, j)
	h10 := g.Node(i+1, j)
	h01 := g.Node(i, j+1)
	h11 := g.Node(i+1, j+1)

	near := h00*(1-tx) + h10*tx
	far := h01*(1-tx) + h11*tx
	return near*(1-tz) + far*tz, nil
}

// NormalAt returns the unit surface normal of the interpolated surface at (x, z).
func (h *Heightfield) NormalAt(x, z float64) (mgl64.Vec3, error) {
	i, j, tx, tz, ok := h.cell(x, z)
	if !ok {
		return mgl64.Vec3{}, ErrOutOfBounds
	}
	g := h.grid
	h00 := g.Node(i, j)
	h10 := g.Node(i+1, j)
	h01 := g.Node(i, j+1)
	h11 := g.Node(i+1, j+1)

	dhdx := ((h10-h00)*(1-tz) + (h11-h01)*tz) / g.elementSize
	dhdz := ((h01-h00)*(1-tx) + (h11-h10)*tx) / g.elementSize
	return mgl64.Vec3{-dhdx, 1, -dhdz}.Normalize(), nil
}

// gap returns how far p sits above the surface; negative means below.
func (h *Heightfield) gap(p mgl64.Vec3) (float64, bool) {
	surface, err := h.HeightAt(p.X(), p.Z())
	if err != nil {
		return 0, false
	}
	return p.Y() - surface, true
}

const raycastBisections = 24

// Raycast marches a ray from origin along dir for at most maxLen and returns
// the first point where it meets the surface. Leaving the grid before a hit
// counts as no contact.
func (h *Heightfield) Raycast(origin, dir mgl64.Vec3, maxLen float64) (RayHit, bool) {
	if !(maxLen > 0) {
		return RayHit{}, false
	}
	dir = SafeNormalize(dir, LocalDown)

	startGap, ok := h.gap(origin)
	if !ok {
		return RayHit{}, false
	}
	if startGap <= 0 {
		return h.hitAt(origin, dir, 0)
	}

	step := math.Min(h.grid.elementSize/4, maxLen/8)
	prevT := 0.0
	for t := step; ; t += step {
		if t > maxLen {
			t = maxLen
		}
		g, ok := h.gap(origin.Add(dir.Mul(t)))
		if !ok {
			return RayHit{}, false
		}
		if g <= 0 {
			lo, hi := prevT, t
			for k := 0; k < raycastBisections; k++ {
				mid := (lo + hi) / 2
				mg, ok := h.gap(origin.Add(dir.Mul(mid)))
				if ok && mg <= 0 {
					hi = mid
				} else {
					lo = mid
				}
			}
			return h.hitAt(origin, dir, hi)
		}
		if t >= maxLen {
			return RayHit{}, false
		}
		prevT = t
	}
}

func (h *Heightfield) hitAt(origin, dir mgl64.Vec3, t float64) (RayHit, bool) {
	p := origin.Add(dir.Mul(t))
	n, err := h.NormalAt(p.X(), p.Z())
	if err != nil {
		return RayHit{}, false
	}
	return RayHit{ContactPoint: p, Normal: n, Distance: t}, true
}
