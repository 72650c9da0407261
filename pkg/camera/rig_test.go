package camera

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

func newTestRig(t *testing.T, s Settings) *Rig {
	t.Helper()
	r, err := NewRig(s)
	if err != nil {
		t.Fatalf("NewRig() error = %v", err)
	}
	return r
}

func TestRig_FirstUpdateSnaps(t *testing.T) {
	r := newTestRig(t, DefaultSettings())
	pose := physics.YawPose(mgl64.Vec3{5, 1, 5}, 0)

	got := r.Update(pose, 1.0/60)
	expected := mgl64.Vec3{5, 7, -7}
	if got.Position.Sub(expected).Len() > 1e-12 {
		t.Errorf("Position = %v, expected %v", got.Position, expected)
	}
	if got.Target != pose.Position {
		t.Errorf("Target = %v, expected %v", got.Target, pose.Position)
	}
}

func TestRig_OffsetFollowsHeading(t *testing.T) {
	r := newTestRig(t, DefaultSettings())
	// Facing +X, "behind" is -X.
	pose := physics.YawPose(mgl64.Vec3{}, math.Pi/2)
	got := r.Desired(pose)
	expected := mgl64.Vec3{-12, 6, 0}
	if got.Position.Sub(expected).Len() > 1e-9 {
		t.Errorf("Desired().Position = %v, expected %v", got.Position, expected)
	}
}

func TestRig_BlendAtReferenceRate(t *testing.T) {
	r := newTestRig(t, DefaultSettings())
	r.Update(physics.YawPose(mgl64.Vec3{}, 0), 1.0/60)

	moved := physics.YawPose(mgl64.Vec3{10, 0, 0}, 0)
	got := r.Update(moved, 1.0/60)

	// 10% of the way from x=0 to x=10.
	if math.Abs(got.Position.X()-1) > 1e-9 {
		t.Errorf("Position.X = %v, expected 1", got.Position.X())
	}
}

func TestRig_FrameRateIndependence(t *testing.T) {
	target := physics.YawPose(mgl64.Vec3{10, 0, 0}, 0)
	start := physics.YawPose(mgl64.Vec3{}, 0)

	run := func(hz int) float64 {
		r := newTestRig(t, DefaultSettings())
		r.Update(start, 0)
		var s State
		for i := 0; i < hz; i++ {
			s = r.Update(target, 1/float64(hz))
		}
		return s.Position.X()
	}

	at30, at60, at144 := run(30), run(60), run(144)
	if math.Abs(at30-at60) > 1e-9 || math.Abs(at144-at60) > 1e-9 {
		t.Errorf("one second of blending differs by frame rate: 30Hz=%v 60Hz=%v 144Hz=%v", at30, at60, at144)
	}
}

func TestRig_FrameCoupled(t *testing.T) {
	s := DefaultSettings()
	s.FrameCoupled = true
	r := newTestRig(t, s)
	r.Update(physics.YawPose(mgl64.Vec3{}, 0), 0)

	got := r.Update(physics.YawPose(mgl64.Vec3{10, 0, 0}, 0), 0.5)
	if math.Abs(got.Position.X()-1) > 1e-9 {
		t.Errorf("Position.X = %v, expected 1 regardless of dt", got.Position.X())
	}
}

func TestRig_Snap(t *testing.T) {
	r := newTestRig(t, DefaultSettings())
	r.Update(physics.YawPose(mgl64.Vec3{}, 0), 0)
	r.Update(physics.YawPose(mgl64.Vec3{50, 0, 0}, 0), 1.0/60)

	spawn := physics.YawPose(mgl64.Vec3{0, 5, 0}, 0)
	got := r.Snap(spawn)
	if got != r.Desired(spawn) {
		t.Errorf("Snap() = %+v, expected %+v", got, r.Desired(spawn))
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero_blend", func(s *Settings) { s.Blend = 0 }},
		{"blend_above_one", func(s *Settings) { s.Blend = 1.5 }},
		{"zero_rate", func(s *Settings) { s.ReferenceRate = 0 }},
		{"nan_offset", func(s *Settings) { s.Offset = mgl64.Vec3{math.NaN(), 0, 0} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			if _, err := NewRig(s); !errors.Is(err, physics.ErrInvalidSpec) {
				t.Errorf("NewRig() error = %v, expected ErrInvalidSpec", err)
			}
		})
	}
}

func TestState_View(t *testing.T) {
	s := State{Position: mgl64.Vec3{0, 6, -12}, Target: mgl64.Vec3{}}
	view := s.View()
	// The target lies straight ahead of the camera, on the -Z view axis.
	p := view.Mul4x1(mgl64.Vec4{0, 0, 0, 1})
	if math.Abs(p.X()) > 1e-9 || math.Abs(p.Y()) > 1e-9 || p.Z() >= 0 {
		t.Errorf("target in view space = %v, expected on -Z axis", p)
	}
}
