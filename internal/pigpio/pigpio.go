package pigpio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"laser-tracker/internal/servo"
)

// pigpiod socket command numbers
const (
	cmdServo    = 8
	cmdHardware = 17 // HWVER, used as a connection probe
)

const frameSize = 16

// Controller drives servos through the pigpio daemon socket interface
type Controller struct {
	conn     net.Conn
	mu       sync.Mutex
	pins     servo.Pins
	minPulse int
	maxPulse int
	timeout  time.Duration
	log      logrus.FieldLogger
}

// Config for pigpio controller
type Config struct {
	// Address of the daemon, e.g. "localhost:8888"
	Address  string
	Pins     servo.Pins
	MinPulse int // microseconds at 0 degrees
	MaxPulse int // microseconds at 180 degrees
	Timeout  time.Duration
}

// NewController connects to pigpiod. Any failure wraps servo.ErrUnavailable.
func NewController(cfg Config, log logrus.FieldLogger) (*Controller, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MinPulse == 0 && cfg.MaxPulse == 0 {
		cfg.MinPulse, cfg.MaxPulse = servo.DefaultMinPulse, servo.DefaultMaxPulse
	}

	conn, err := net.DialTimeout("tcp", cfg.Address, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to pigpiod at %s: %v", servo.ErrUnavailable, cfg.Address, err)
	}

	c := &Controller{
		conn:     conn,
		pins:     cfg.Pins,
		minPulse: cfg.MinPulse,
		maxPulse: cfg.MaxPulse,
		timeout:  cfg.Timeout,
		log:      log,
	}

	// The daemon accepts connections before it is ready to serve, so make one
	// round trip before reporting success.
	hw, err := c.sendCommand(cmdHardware, 0, 0)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: pigpiod not responding: %v", servo.ErrUnavailable, err)
	}
	log.WithFields(logrus.Fields{"address": cfg.Address, "hw_revision": fmt.Sprintf("%x", hw)}).Info("connected to pigpiod")

	return c, nil
}

// Close closes the daemon connection
func (c *Controller) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// encodeCommand builds a pigpiod request: cmd, p1, p2, p3 as little endian
// uint32 words. p3 is the length of an extension, always zero here.
func encodeCommand(cmd, p1, p2 uint32) []byte {
	buf := make([]byte, frameSize)
	binary.LittleEndian.PutUint32(buf[0:4], cmd)
	binary.LittleEndian.PutUint32(buf[4:8], p1)
	binary.LittleEndian.PutUint32(buf[8:12], p2)
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	return buf
}

// decodeResult extracts the signed result word from a response frame
func decodeResult(resp []byte) int32 {
	return int32(binary.LittleEndian.Uint32(resp[12:16]))
}

// sendCommand writes a request and waits for its response
func (c *Controller) sendCommand(cmd, p1, p2 uint32) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, fmt.Errorf("failed to set deadline for command %d: %w", cmd, err)
	}
	if _, err := c.conn.Write(encodeCommand(cmd, p1, p2)); err != nil {
		return 0, fmt.Errorf("failed to send command %d: %w", cmd, err)
	}

	resp := make([]byte, frameSize)
	if _, err := io.ReadFull(c.conn, resp); err != nil {
		return 0, fmt.Errorf("failed to read response to command %d: %w", cmd, err)
	}

	res := decodeResult(resp)
	if res < 0 {
		return res, fmt.Errorf("pigpiod command %d failed with code %d", cmd, res)
	}
	return res, nil
}

// SetAngle moves an axis to the given angle
// degrees: 0 to 180, mapped linearly onto the pulse range
func (c *Controller) SetAngle(axis servo.Axis, degrees float64) error {
	if err := servo.CheckAngle(degrees); err != nil {
		return err
	}

	pin, err := c.pins.Pin(axis)
	if err != nil {
		return err
	}

	pulse := servo.PulseWidth(degrees, c.minPulse, c.maxPulse)
	_, err = c.sendCommand(cmdServo, uint32(pin), uint32(pulse))
	return err
}

// Disengage stops servo pulses on an axis
func (c *Controller) Disengage(axis servo.Axis) error {
	pin, err := c.pins.Pin(axis)
	if err != nil {
		return err
	}

	_, err = c.sendCommand(cmdServo, uint32(pin), 0)
	return err
}
