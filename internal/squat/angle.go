// Package squat turns reduced poses into a squat repetition count with form
// feedback.
package squat

import (
	"math"

	"github.com/ayusman/gymbuddy/internal/pose"
)

// Angle returns the interior angle at b, in degrees within [0, 180], formed
// by the rays b->a and b->c. Both rays must use the same unit.
func Angle(a, b, c pose.Point) float64 {
	radians := math.Atan2(c.Y-b.Y, c.X-b.X) - math.Atan2(a.Y-b.Y, a.X-b.X)
	deg := math.Abs(radians * 180.0 / math.Pi)
	if deg > 180.0 {
		deg = 360.0 - deg
	}
	return deg
}

// KneeAngle is the hip-knee-ankle angle.
func KneeAngle(p *pose.ReducedPose) float64 {
	return Angle(p.Hip, p.Knee, p.Ankle)
}

// HipAngle is the shoulder-hip-knee angle.
func HipAngle(p *pose.ReducedPose) float64 {
	return Angle(p.Shoulder, p.Hip, p.Knee)
}
