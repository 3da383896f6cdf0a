package control

import "image"

// Config for the control chain
type Config struct {
	Zone          ZoneConfig
	Scale         float64 // degrees of correction per pixel of offset
	PositionAlpha float64
	AngleAlpha    float64
	InitialAngle  float64
}

// Step describes what the controller did with one frame
type Step struct {
	Detected  bool
	Smoothed  image.Point
	Offset    image.Point
	Corrected bool
	Target    Angles // unsmoothed target, valid when Corrected
	Angles    Angles // commanded angles after this frame
}

// Controller owns the loop state: the smoothed position and both servo angles.
// It is not safe for concurrent use; the tracking loop is its only writer.
type Controller struct {
	position *PositionSmoother
	offset   *OffsetController
	smoother *AngleSmoother
	angles   Angles
}

// New creates a controller with both axes at the initial angle
func New(cfg Config) (*Controller, error) {
	zone, err := NewDeadZone(cfg.Zone)
	if err != nil {
		return nil, err
	}

	return &Controller{
		position: NewPositionSmoother(cfg.PositionAlpha),
		offset:   NewOffsetController(zone, cfg.Scale),
		smoother: NewAngleSmoother(cfg.AngleAlpha),
		angles: Angles{
			Pan:  clampAngle(cfg.InitialAngle),
			Tilt: clampAngle(cfg.InitialAngle),
		},
	}, nil
}

// Angles returns the current commanded angles
func (c *Controller) Angles() Angles {
	return c.angles
}

// Zone returns the active dead-zone
func (c *Controller) Zone() DeadZone {
	return c.offset.Zone()
}

// Update advances the controller by one frame. When nothing was detected the
// state is left untouched and no correction is issued.
func (c *Controller) Update(center image.Point, detected bool) Step {
	if !detected {
		return Step{Angles: c.angles}
	}

	smoothed := c.position.Update(center)
	step := Step{
		Detected: true,
		Smoothed: smoothed,
		Offset:   c.offset.Offset(smoothed),
	}

	target, ok := c.offset.Correct(smoothed, c.angles)
	if ok {
		c.angles = c.smoother.Blend(c.angles, target)
		step.Corrected = true
		step.Target = target
	}
	step.Angles = c.angles

	return step
}
