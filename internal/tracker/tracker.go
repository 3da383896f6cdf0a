// Package tracker runs the perception-to-actuation loop: read a frame, find
// the laser dot, update the controller and drive the servos.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"laser-tracker/internal/camera"
	"laser-tracker/internal/control"
	"laser-tracker/internal/protocol"
	"laser-tracker/internal/servo"
	"laser-tracker/internal/vision"
)

// ErrAcquisition wraps an unrecoverable frame source failure
var ErrAcquisition = errors.New("frame acquisition failed")

// Sink receives every annotated frame. Show reports whether the user asked
// the tracker to stop.
type Sink interface {
	Show(frame gocv.Mat, t protocol.TelemetryPayload) bool
	Close() error
}

// Config for the tracking loop
type Config struct {
	Detector  vision.DetectorConfig
	MinRadius float64
	Control   control.Config
	Settle    time.Duration // wait after homing before the first frame
}

// Tracker owns the control loop. Run must not be called concurrently.
type Tracker struct {
	cfg      Config
	source   camera.Source
	actuator servo.Actuator
	sinks    []Sink
	log      logrus.FieldLogger

	detector *vision.Detector
	locator  *vision.Locator
	ctl      *control.Controller
	mask     gocv.Mat
	frames   int64
}

// New creates a tracker. Call Close to release its scratch buffers.
func New(cfg Config, source camera.Source, actuator servo.Actuator, sinks []Sink, log logrus.FieldLogger) (*Tracker, error) {
	ctl, err := control.New(cfg.Control)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		cfg:      cfg,
		source:   source,
		actuator: actuator,
		sinks:    sinks,
		log:      log,
		detector: vision.NewDetector(cfg.Detector),
		locator:  vision.NewLocator(cfg.MinRadius),
		ctl:      ctl,
		mask:     gocv.NewMat(),
	}, nil
}

// Run homes the servos and tracks until ctx is done, a sink asks to quit, or
// the source fails. Both axes are disengaged and the source is stopped on
// every return path. Cancellation and quit return nil; source failures
// return an error wrapping ErrAcquisition.
func (t *Tracker) Run(ctx context.Context) error {
	defer t.shutdown()

	if err := t.source.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrAcquisition, err)
	}

	t.home()
	if !sleep(ctx, t.cfg.Settle) {
		return nil
	}

	frame := gocv.NewMat()
	defer frame.Close()

	t.log.Info("tracking started")
	for {
		if ctx.Err() != nil {
			t.log.Info("tracking interrupted")
			return nil
		}

		if err := t.source.Read(ctx, &frame); err != nil {
			if ctx.Err() != nil {
				t.log.Info("tracking interrupted")
				return nil
			}
			return fmt.Errorf("%w: %w", ErrAcquisition, err)
		}

		if _, quit := t.Step(&frame); quit {
			t.log.Info("quit requested")
			return nil
		}
	}
}

// Step processes one frame: detect, update the controller, drive the servos
// if a correction was issued, annotate the frame and hand it to the sinks.
// It reports whether any sink asked to quit.
func (t *Tracker) Step(frame *gocv.Mat) (control.Step, bool) {
	t.frames++

	t.detector.Mask(*frame, &t.mask)
	blob, found := t.locator.Locate(t.mask)
	step := t.ctl.Update(blob.Center, found)

	log := t.log.WithField("frame", t.frames)
	if found {
		log.WithFields(logrus.Fields{
			"x":      blob.Center.X,
			"y":      blob.Center.Y,
			"radius": blob.Radius,
		}).Debug("laser detected")
	}

	if step.Corrected {
		log.WithFields(logrus.Fields{
			"offset": step.Offset,
			"pan":    step.Angles.Pan,
			"tilt":   step.Angles.Tilt,
		}).Debug("correction")
		t.drive(step.Angles)
	}

	t.annotate(frame, blob, found, step)

	telemetry := t.telemetry(blob, step)
	quit := false
	for _, sink := range t.sinks {
		if sink.Show(*frame, telemetry) {
			quit = true
		}
	}

	return step, quit
}

// Angles returns the current commanded angles
func (t *Tracker) Angles() control.Angles {
	return t.ctl.Angles()
}

// Close releases the detector and scratch mask
func (t *Tracker) Close() error {
	t.mask.Close()
	return t.detector.Close()
}

func (t *Tracker) home() {
	angles := t.ctl.Angles()
	t.log.WithFields(logrus.Fields{"pan": angles.Pan, "tilt": angles.Tilt}).Info("homing servos")
	t.drive(angles)
}

// drive commands both axes. Actuator errors are logged and the loop carries on.
func (t *Tracker) drive(a control.Angles) {
	for _, axis := range servo.Axes {
		deg := angleFor(a, axis)
		if err := t.actuator.SetAngle(axis, deg); err != nil {
			t.log.WithError(err).WithFields(logrus.Fields{"axis": axis.String(), "angle": deg}).Warn("failed to set servo angle")
		}
	}
}

func (t *Tracker) shutdown() {
	if err := servo.DisengageAll(t.actuator); err != nil {
		t.log.WithError(err).Warn("failed to disengage servos")
	}
	if err := t.source.Stop(); err != nil {
		t.log.WithError(err).Warn("failed to stop frame source")
	}
	t.log.Info("servos disengaged, source stopped")
}

func (t *Tracker) annotate(frame *gocv.Mat, blob vision.Blob, found bool, step control.Step) {
	if frame.Empty() {
		return
	}
	if box, ok := t.ctl.Zone().(interface{ Rect() image.Rectangle }); ok {
		vision.DrawBox(frame, box.Rect())
	}
	if found {
		vision.DrawBlob(frame, blob)
	}
	vision.DrawAngles(frame, step.Angles.Pan, step.Angles.Tilt)
}

func (t *Tracker) telemetry(blob vision.Blob, step control.Step) protocol.TelemetryPayload {
	p := protocol.TelemetryPayload{
		Frame:     t.frames,
		Timestamp: time.Now().UnixMilli(),
		Detected:  step.Detected,
		OffsetX:   step.Offset.X,
		OffsetY:   step.Offset.Y,
		Corrected: step.Corrected,
		Pan:       step.Angles.Pan,
		Tilt:      step.Angles.Tilt,
	}
	if step.Detected {
		p.RawX, p.RawY = blob.Center.X, blob.Center.Y
		p.Radius = blob.Radius
		p.SmoothedX, p.SmoothedY = step.Smoothed.X, step.Smoothed.Y
	}
	return p
}

func angleFor(a control.Angles, axis servo.Axis) float64 {
	if axis == servo.Tilt {
		return a.Tilt
	}
	return a.Pan
}

// sleep waits for d and reports false if ctx was canceled first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
