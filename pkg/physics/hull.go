// pkg/physics/hull.go
package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Chassis box contact. Wheels only see the ground along their rays, so a
// rolled or bottomed-out chassis rests on its box corners instead.
const (
	// hullStiffnessPerKg is the corner spring rate per kilogram of chassis.
	hullStiffnessPerKg = 200.0
	hullDampingRatio   = 1.0
	hullFriction       = 0.8
)

// hullCorners are the chassis box corners in body space.
func hullCorners(halfExtents mgl64.Vec3) [8]mgl64.Vec3 {
	var corners [8]mgl64.Vec3
	for i := range corners {
		c := halfExtents
		if i&1 != 0 {
			c[0] = -c[0]
		}
		if i&2 != 0 {
			c[1] = -c[1]
		}
		if i&4 != 0 {
			c[2] = -c[2]
		}
		corners[i] = c
	}
	return corners
}

type hullContact struct {
	point  mgl64.Vec3
	normal mgl64.Vec3
	depth  float64
}

// findHullContacts returns the chassis corners under the surface.
func (v *Vehicle) findHullContacts(terrain *Heightfield) []hullContact {
	var found []hullContact
	for _, local := range v.corners {
		p := v.chassis.PointToWorld(local)
		gap, ok := terrain.gap(p)
		if !ok || gap >= 0 {
			continue
		}
		n, err := terrain.NormalAt(p.X(), p.Z())
		if err != nil {
			continue
		}
		// Vertical gap to penetration along the normal.
		found = append(found, hullContact{point: p, normal: n, depth: -gap * n.Y()})
	}
	return found
}

// updateHull pushes every chassis corner under the surface back out along
// the surface normal with a damped spring and adds Coulomb friction against
// the corner's sliding velocity. It returns the number of corners in
// contact.
func (v *Vehicle) updateHull(terrain *Heightfield, dt float64) int {
	contacts := v.findHullContacts(terrain)
	if len(contacts) == 0 {
		return 0
	}

	b := v.chassis
	stiffness := hullStiffnessPerKg * b.Mass()
	// Critical damping for the share of mass one of four corners carries.
	damping := 2 * hullDampingRatio * math.Sqrt(stiffness*b.Mass()/4)
	share := float64(len(contacts))

	for _, c := range contacts {
		vel := b.VelocityAtPoint(c.point)
		push := stiffness*c.depth - damping*vel.Dot(c.normal)
		if push <= 0 {
			continue
		}
		b.ApplyForceAtPoint(c.normal.Mul(push), c.point)

		sliding := ProjectOnPlane(vel, c.normal)
		speed := sliding.Len()
		if speed < 1e-9 {
			continue
		}
		dir := sliding.Mul(-1 / speed)
		// The corners together never do more than stop the slide within
		// the step.
		friction := math.Min(hullFriction*push, b.EffectiveMass(c.point, dir)*speed/(dt*share))
		b.ApplyForceAtPoint(dir.Mul(friction), c.point)
	}
	return len(contacts)
}
