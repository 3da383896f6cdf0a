package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"image"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"laser-tracker/internal/camera"
	"laser-tracker/internal/config"
	"laser-tracker/internal/control"
	"laser-tracker/internal/display"
	"laser-tracker/internal/logging"
	"laser-tracker/internal/piblaster"
	"laser-tracker/internal/pigpio"
	"laser-tracker/internal/protocol"
	"laser-tracker/internal/server"
	"laser-tracker/internal/servo"
	"laser-tracker/internal/tracker"
)

//go:embed web/*
var staticFiles embed.FS

// Process exit codes
const (
	exitOK      = 0
	exitFailure = 1 // actuator unreachable at startup, or the frame source failed
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "laser-tracker: %v\n", err)
		return exitUsage
	}

	log, err := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		MaxBackups: 3,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "laser-tracker: %v\n", err)
		return exitUsage
	}

	log.WithFields(logrus.Fields{
		"source": redact(cfg.Source),
		"driver": cfg.Driver,
		"policy": cfg.Policy,
		"frame":  fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
	}).Info("laser tracker starting")

	actuator, err := newActuator(cfg, logging.Component(log, "servo"))
	if err != nil {
		log.WithError(err).Error("servo subsystem unavailable")
		return exitFailure
	}
	defer func() {
		if err := actuator.Close(); err != nil {
			log.WithError(err).Warn("failed to close actuator")
		}
	}()

	source, err := camera.Open(cfg.Camera(), cfg.RTSPRetries, logging.Component(log, "camera"))
	if err != nil {
		log.WithError(err).Error("failed to open frame source")
		return exitFailure
	}

	sinks, err := newSinks(cfg, logging.Component(log, "viewer"))
	if err != nil {
		log.WithError(err).Error("failed to start display")
		return exitFailure
	}
	defer func() {
		for _, sink := range sinks {
			if err := sink.Close(); err != nil {
				log.WithError(err).Warn("failed to close display")
			}
		}
	}()

	tr, err := tracker.New(tracker.Config{
		Detector:  cfg.Detector(),
		MinRadius: cfg.MinRadius,
		Control:   cfg.Control(),
		Settle:    cfg.Settle,
	}, source, actuator, sinks, logging.Component(log, "tracker"))
	if err != nil {
		log.WithError(err).Error("failed to create tracker")
		return exitFailure
	}
	defer tr.Close()

	ctx, stop := interruptContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tr.Run(ctx); err != nil {
		log.WithError(err).Error("tracking stopped")
		return exitFailure
	}

	log.Info("laser tracker stopped")
	return exitOK
}

// interruptContext is canceled by the first of sigs. From then on the signals
// get their default behaviour back, so a second Ctrl-C kills a process stuck
// in a blocking camera read.
func interruptContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, sigs...)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

func newActuator(cfg *config.Config, log logrus.FieldLogger) (servo.Actuator, error) {
	switch cfg.Driver {
	case config.DriverPigpio:
		c, err := pigpio.NewController(pigpio.Config{
			Address:  cfg.PigpioAddr,
			Pins:     cfg.Pins(),
			MinPulse: cfg.MinPulse,
			MaxPulse: cfg.MaxPulse,
		}, log)
		if err != nil {
			return nil, err
		}
		return c, nil

	case config.DriverPiBlaster:
		c, err := piblaster.NewController(piblaster.Config{
			Device:   cfg.BlasterDevice,
			Pins:     cfg.Pins(),
			MinPulse: cfg.MinPulse,
			MaxPulse: cfg.MaxPulse,
		}, log)
		if err != nil {
			return nil, err
		}
		return c, nil

	default:
		log.Warn("no actuator driver, servo commands are only logged")
		return servo.NewDryRun(log), nil
	}
}

func newSinks(cfg *config.Config, log logrus.FieldLogger) ([]tracker.Sink, error) {
	var sinks []tracker.Sink

	if cfg.Window {
		sinks = append(sinks, display.NewWindow("Laser Tracker"))
	}

	if cfg.Listen != "" {
		srv, err := server.New(server.Config{
			ListenAddr: cfg.Listen,
			PreviewFPS: cfg.PreviewFPS,
			WebRTC:     cfg.WebRTC,
			ICEServers: cfg.ICEServerList(),
			Status:     status(cfg),
		}, staticFiles, log)
		if err != nil {
			return closeAll(sinks, err)
		}
		if err := srv.Start(); err != nil {
			return closeAll(sinks, err)
		}
		sinks = append(sinks, srv)
	}

	return sinks, nil
}

func closeAll(sinks []tracker.Sink, err error) ([]tracker.Sink, error) {
	for _, sink := range sinks {
		sink.Close()
	}
	return nil, err
}

func status(cfg *config.Config) protocol.StatusPayload {
	st := protocol.StatusPayload{
		Source:      redact(cfg.Source),
		Actuator:    cfg.Driver,
		Policy:      cfg.Policy,
		FrameWidth:  cfg.Width,
		FrameHeight: cfg.Height,
	}

	zone, err := control.NewDeadZone(cfg.Control().Zone)
	if err != nil {
		return st
	}
	if box, ok := zone.(interface{ Rect() image.Rectangle }); ok {
		r := box.Rect()
		st.DeadZone = &protocol.RectJSON{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
	}
	return st
}

// redact hides credentials embedded in a camera URL
func redact(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.User == nil {
		return source
	}
	return u.Redacted()
}
