package control

import (
	"fmt"
	"image"
)

// Policy names accepted by NewDeadZone
const (
	PolicyCenter = "center"
	PolicyBox    = "box"
)

// DeadZone decides when the tracked position is close enough to the reference
// that no correction should be issued.
type DeadZone interface {
	// Contains reports whether p lies inside the dead-zone
	Contains(p image.Point) bool

	// Reference returns the point offsets are measured from
	Reference() image.Point
}

// PointDeadZone is a square tolerance around a center point
type PointDeadZone struct {
	Center    image.Point
	Tolerance int
}

// Contains is true when both offsets are within the tolerance (inclusive)
func (z PointDeadZone) Contains(p image.Point) bool {
	d := p.Sub(z.Center)
	return abs(d.X) <= z.Tolerance && abs(d.Y) <= z.Tolerance
}

// Reference returns the center point
func (z PointDeadZone) Reference() image.Point {
	return z.Center
}

// BoxDeadZone is a fixed rectangle. Bounds are inclusive on all four sides,
// so Max is a point that still belongs to the box.
type BoxDeadZone struct {
	Min, Max image.Point
	center   image.Point
}

// NewBoxDeadZone builds a width x height box centered on center
func NewBoxDeadZone(center image.Point, width, height int) BoxDeadZone {
	return BoxDeadZone{
		Min:    image.Pt(center.X-width/2, center.Y-height/2),
		Max:    image.Pt(center.X+width/2, center.Y+height/2),
		center: center,
	}
}

// Contains reports whether p lies within the box, edges included
func (z BoxDeadZone) Contains(p image.Point) bool {
	return z.Min.X <= p.X && p.X <= z.Max.X && z.Min.Y <= p.Y && p.Y <= z.Max.Y
}

// Reference returns the box center
func (z BoxDeadZone) Reference() image.Point {
	return z.center
}

// Rect returns the box as an image.Rectangle for drawing
func (z BoxDeadZone) Rect() image.Rectangle {
	return image.Rectangle{Min: z.Min, Max: z.Max}
}

// ZoneConfig selects and sizes a dead-zone policy
type ZoneConfig struct {
	Policy    string
	Frame     image.Point // frame width and height
	Tolerance int
	BoxWidth  int
	BoxHeight int
}

// NewDeadZone builds the dead-zone for the configured policy. Both policies
// are centered on the frame.
func NewDeadZone(cfg ZoneConfig) (DeadZone, error) {
	center := image.Pt(cfg.Frame.X/2, cfg.Frame.Y/2)

	switch cfg.Policy {
	case PolicyCenter, "":
		return PointDeadZone{Center: center, Tolerance: cfg.Tolerance}, nil
	case PolicyBox:
		return NewBoxDeadZone(center, cfg.BoxWidth, cfg.BoxHeight), nil
	default:
		return nil, fmt.Errorf("unknown dead-zone policy: %s", cfg.Policy)
	}
}

// OffsetController is a proportional controller in pixel-offset space
type OffsetController struct {
	zone  DeadZone
	scale float64 // degrees per pixel
}

// NewOffsetController creates a controller with the given dead-zone and gain
func NewOffsetController(zone DeadZone, scale float64) *OffsetController {
	return &OffsetController{zone: zone, scale: scale}
}

// Zone returns the controller's dead-zone
func (c *OffsetController) Zone() DeadZone {
	return c.zone
}

// Offset returns pos relative to the dead-zone reference
func (c *OffsetController) Offset(pos image.Point) image.Point {
	return pos.Sub(c.zone.Reference())
}

// Correct returns target angles for pos, or false when pos is inside the
// dead-zone. Camera Y grows downward, so the tilt term has the opposite sign
// to the pan term.
func (c *OffsetController) Correct(pos image.Point, current Angles) (Angles, bool) {
	if c.zone.Contains(pos) {
		return current, false
	}

	off := c.Offset(pos)
	return Angles{
		Pan:  current.Pan - float64(off.X)*c.scale,
		Tilt: current.Tilt + float64(off.Y)*c.scale,
	}, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
