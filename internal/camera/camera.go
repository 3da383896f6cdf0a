package camera

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var (
	// ErrClosed is returned by Read after Stop
	ErrClosed = errors.New("frame source closed")

	// ErrNoFrame is returned when the device stops producing frames
	ErrNoFrame = errors.New("no frame from capture device")
)

// Source supplies successive BGR frames
type Source interface {
	// Start begins frame delivery
	Start() error

	// Read blocks until the next frame is written into dst, ctx is done, or
	// the source fails.
	Read(ctx context.Context, dst *gocv.Mat) error

	// Stop ends frame delivery and releases the device
	Stop() error
}

// Config for a capture device
type Config struct {
	// Device index ("0"), video file path, or any URL gocv can open
	Device string
	Width  int
	Height int
}

// Capture reads frames from a local camera or file via gocv
type Capture struct {
	cfg Config
	log logrus.FieldLogger

	mu      sync.Mutex
	vc      *gocv.VideoCapture
	stopped bool
}

// NewCapture creates a capture source; the device is opened by Start
func NewCapture(cfg Config, log logrus.FieldLogger) *Capture {
	return &Capture{cfg: cfg, log: log}
}

// Start opens the device and requests the configured frame size
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var device interface{} = c.cfg.Device
	if id, err := strconv.Atoi(c.cfg.Device); err == nil {
		device = id
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("failed to open capture device %q: %w", c.cfg.Device, err)
	}
	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	}

	c.vc = vc
	c.log.WithFields(logrus.Fields{
		"device": c.cfg.Device,
		"width":  c.cfg.Width,
		"height": c.cfg.Height,
	}).Info("capture started")
	return nil
}

// Read grabs the next frame. gocv reads cannot be interrupted, so ctx is only
// checked before the read.
func (c *Capture) Read(ctx context.Context, dst *gocv.Mat) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	vc, stopped := c.vc, c.stopped
	c.mu.Unlock()

	if stopped || vc == nil {
		return ErrClosed
	}
	if ok := vc.Read(dst); !ok || dst.Empty() {
		return ErrNoFrame
	}
	return nil
}

// Stop closes the device
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	c.stopped = true

	if c.vc != nil {
		return c.vc.Close()
	}
	return nil
}
