package control

import "image"

// MinAngle and MaxAngle bound every commanded servo angle, in degrees.
const (
	MinAngle = 0.0
	MaxAngle = 180.0
)

// PositionSmoother keeps an exponentially weighted pixel position across frames
type PositionSmoother struct {
	alpha  float64
	pos    image.Point
	primed bool
}

// NewPositionSmoother creates a smoother that weights each new sample by alpha
func NewPositionSmoother(alpha float64) *PositionSmoother {
	return &PositionSmoother{alpha: alpha}
}

// Update blends c into the running position and returns the new value.
// The first sample is taken as-is. Results are truncated to whole pixels.
func (s *PositionSmoother) Update(c image.Point) image.Point {
	if !s.primed {
		s.pos = c
		s.primed = true
		return s.pos
	}

	s.pos = image.Point{
		X: int(float64(s.pos.X)*(1-s.alpha) + float64(c.X)*s.alpha),
		Y: int(float64(s.pos.Y)*(1-s.alpha) + float64(c.Y)*s.alpha),
	}
	return s.pos
}

// Position returns the last smoothed position and whether any sample was seen
func (s *PositionSmoother) Position() (image.Point, bool) {
	return s.pos, s.primed
}

// Angles holds one angle per axis, in degrees
type Angles struct {
	Pan  float64
	Tilt float64
}

// AngleSmoother blends commanded angles toward their targets
type AngleSmoother struct {
	beta float64
}

// NewAngleSmoother creates an angle smoother with blend factor beta
func NewAngleSmoother(beta float64) *AngleSmoother {
	return &AngleSmoother{beta: beta}
}

// Blend moves current toward target by beta on each axis and clamps the result
// to [MinAngle, MaxAngle].
func (s *AngleSmoother) Blend(current, target Angles) Angles {
	return Angles{
		Pan:  clampAngle((1-s.beta)*current.Pan + s.beta*target.Pan),
		Tilt: clampAngle((1-s.beta)*current.Tilt + s.beta*target.Tilt),
	}
}

func clampAngle(v float64) float64 {
	if v < MinAngle {
		return MinAngle
	}
	if v > MaxAngle {
		return MaxAngle
	}
	return v
}
