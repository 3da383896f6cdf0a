package piblaster

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"laser-tracker/internal/servo"
)

// pi-blaster runs its PWM at a fixed period; duty cycles are written as a
// fraction of that period.
const pwmFreq = 50

// DefaultDevice is the FIFO created by the pi-blaster daemon
const DefaultDevice = "/dev/pi-blaster"

// Controller drives servos by writing duty cycles to the pi-blaster FIFO
type Controller struct {
	dev      *os.File
	mu       sync.Mutex
	pins     servo.Pins
	minPulse int
	maxPulse int
	log      logrus.FieldLogger
}

// Config for pi-blaster controller
type Config struct {
	Device   string
	Pins     servo.Pins
	MinPulse int
	MaxPulse int
}

// NewController opens the pi-blaster device. Failure wraps servo.ErrUnavailable.
func NewController(cfg Config, log logrus.FieldLogger) (*Controller, error) {
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.MinPulse == 0 && cfg.MaxPulse == 0 {
		cfg.MinPulse, cfg.MaxPulse = servo.DefaultMinPulse, servo.DefaultMaxPulse
	}

	dev, err := os.OpenFile(cfg.Device, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", servo.ErrUnavailable, cfg.Device, err)
	}
	log.WithField("device", cfg.Device).Info("opened pi-blaster")

	return &Controller{
		dev:      dev,
		pins:     cfg.Pins,
		minPulse: cfg.MinPulse,
		maxPulse: cfg.MaxPulse,
		log:      log,
	}, nil
}

// dutyCycle converts a pulse width in microseconds to a fraction of the PWM period
func dutyCycle(pulse int) float64 {
	return float64(pulse) * pwmFreq / 1000000
}

func (c *Controller) write(pin int, duty float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.dev, "%d=%f\n", pin, duty); err != nil {
		return fmt.Errorf("failed to write pi-blaster pin %d: %w", pin, err)
	}
	return nil
}

// SetAngle moves an axis to the given angle
func (c *Controller) SetAngle(axis servo.Axis, degrees float64) error {
	if err := servo.CheckAngle(degrees); err != nil {
		return err
	}

	pin, err := c.pins.Pin(axis)
	if err != nil {
		return err
	}
	return c.write(pin, dutyCycle(servo.PulseWidth(degrees, c.minPulse, c.maxPulse)))
}

// Disengage drops the duty cycle of an axis to zero
func (c *Controller) Disengage(axis servo.Axis) error {
	pin, err := c.pins.Pin(axis)
	if err != nil {
		return err
	}
	return c.write(pin, 0)
}

// Close closes the device
func (c *Controller) Close() error {
	return c.dev.Close()
}
