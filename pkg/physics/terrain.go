// pkg/physics/terrain.go
package physics

import "math"

// HeightSampler maps an integer grid coordinate to an elevation. Implementations
// must be pure: the same (i, j) always yields the same height.
type HeightSampler interface {
	Sample(i, j int) float64
}

// HeightSamplerFunc adapts a plain function to HeightSampler.
type HeightSamplerFunc func(i, j int) float64

// Sample calls f(i, j).
func (f HeightSamplerFunc) Sample(i, j int) float64 {
	return f(i, j)
}

// FlatSampler returns a sampler with constant elevation h.
func FlatSampler(h float64) HeightSampler {
	return HeightSamplerFunc(func(int, int) float64 { return h })
}

// WaveSampler produces rolling terrain: A*sin(x*f) + A*cos(z*f), where x and z
// are the world coordinates of node (i, j) on a grid centred on the origin.
type WaveSampler struct {
	ElementSize float64
	Cols        int
	Rows        int
	Amplitude   float64
	Frequency   float64
}

// Sample returns the elevation at node (i, j).
func (w WaveSampler) Sample(i, j int) float64 {
	x := (float64(i) - float64(w.Cols-1)/2) * w.ElementSize
	z := (float64(j) - float64(w.Rows-1)/2) * w.ElementSize
	return math.Sin(x*w.Frequency)*w.Amplitude + math.Cos(z*w.Frequency)*w.Amplitude
}
