package servo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrUnavailable means the actuator subsystem could not be reached at startup
	ErrUnavailable = errors.New("servo subsystem unavailable")

	// ErrAngleOutOfRange is returned when a caller asks for an angle outside [0, 180]
	ErrAngleOutOfRange = errors.New("servo angle out of range")
)

// Pulse width range for a standard 180 degree hobby servo, in microseconds
const (
	DefaultMinPulse = 500
	DefaultMaxPulse = 2500
	MaxAngle        = 180.0
)

// Axis identifies one rotational degree of freedom of the mount
type Axis int

const (
	Pan Axis = iota
	Tilt
)

// Axes lists both axes in dispatch order
var Axes = []Axis{Pan, Tilt}

func (a Axis) String() string {
	switch a {
	case Pan:
		return "pan"
	case Tilt:
		return "tilt"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Actuator defines the interface for driving a pan/tilt servo mount
type Actuator interface {
	// SetAngle moves an axis to the given angle
	// degrees: 0 to 180
	SetAngle(axis Axis, degrees float64) error

	// Disengage de-energizes an axis (zero pulse)
	Disengage(axis Axis) error

	// Close releases the actuator connection
	Close() error
}

// Pins maps each axis to a GPIO pin
type Pins struct {
	Pan  int
	Tilt int
}

// Pin returns the GPIO pin for axis
func (p Pins) Pin(axis Axis) (int, error) {
	switch axis {
	case Pan:
		return p.Pan, nil
	case Tilt:
		return p.Tilt, nil
	default:
		return 0, fmt.Errorf("unknown axis: %s", axis)
	}
}

// CheckAngle returns ErrAngleOutOfRange unless degrees is within [0, 180]
func CheckAngle(degrees float64) error {
	if degrees < 0 || degrees > MaxAngle || degrees != degrees {
		return fmt.Errorf("%w: %.2f", ErrAngleOutOfRange, degrees)
	}
	return nil
}

// PulseWidth linearly maps degrees in [0, 180] onto [minPulse, maxPulse] microseconds
func PulseWidth(degrees float64, minPulse, maxPulse int) int {
	return int(float64(minPulse) + (degrees/MaxAngle)*float64(maxPulse-minPulse))
}

// DisengageAll de-energizes every axis and returns the first error
func DisengageAll(a Actuator) error {
	var first error
	for _, axis := range Axes {
		if err := a.Disengage(axis); err != nil && first == nil {
			first = fmt.Errorf("disengage %s: %w", axis, err)
		}
	}
	return first
}

// DryRun is an actuator that only logs and remembers what it was told
type DryRun struct {
	log     logrus.FieldLogger
	mu      sync.Mutex
	angles  map[Axis]float64
	engaged map[Axis]bool
}

// NewDryRun creates an actuator without hardware
func NewDryRun(log logrus.FieldLogger) *DryRun {
	return &DryRun{
		log:     log,
		angles:  make(map[Axis]float64),
		engaged: make(map[Axis]bool),
	}
}

// SetAngle records the angle
func (d *DryRun) SetAngle(axis Axis, degrees float64) error {
	if err := CheckAngle(degrees); err != nil {
		return err
	}

	d.mu.Lock()
	d.angles[axis] = degrees
	d.engaged[axis] = true
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"axis":  axis.String(),
		"angle": degrees,
		"pulse": PulseWidth(degrees, DefaultMinPulse, DefaultMaxPulse),
	}).Debug("dry-run servo move")
	return nil
}

// Disengage marks the axis as de-energized
func (d *DryRun) Disengage(axis Axis) error {
	d.mu.Lock()
	d.engaged[axis] = false
	d.mu.Unlock()

	d.log.WithField("axis", axis.String()).Debug("dry-run servo disengaged")
	return nil
}

// Angle returns the last angle set on axis and whether the axis is engaged
func (d *DryRun) Angle(axis Axis) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.angles[axis], d.engaged[axis]
}

// Close does nothing
func (d *DryRun) Close() error {
	return nil
}
