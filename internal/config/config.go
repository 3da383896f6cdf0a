package config

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"laser-tracker/internal/camera"
	"laser-tracker/internal/control"
	"laser-tracker/internal/servo"
	"laser-tracker/internal/vision"
)

// EnvPrefix is prepended to the upper-cased flag name to form its
// environment variable, e.g. -min-radius becomes TRACKER_MIN_RADIUS.
const EnvPrefix = "TRACKER_"

// Actuator drivers
const (
	DriverPigpio    = "pigpio"
	DriverPiBlaster = "piblaster"
	DriverNone      = "none"
)

// Config holds every tunable of the tracker
type Config struct {
	Profile string `validate:"oneof=center box"`
	EnvFile string

	// Frame source
	Source      string `validate:"required"`
	Width       int    `validate:"gt=0"`
	Height      int    `validate:"gt=0"`
	RTSPRetries int    `validate:"gte=0"`

	// Detection, OpenCV HSV units
	HueLowMin  float64 `validate:"gte=0,lte=180"`
	HueLowMax  float64 `validate:"gte=0,lte=180,gtefield=HueLowMin"`
	HueHighMin float64 `validate:"gte=0,lte=180"`
	HueHighMax float64 `validate:"gte=0,lte=180,gtefield=HueHighMin"`
	MinSat     float64 `validate:"gte=0,lte=255"`
	MinVal     float64 `validate:"gte=0,lte=255"`
	Kernel     int     `validate:"gte=1"`
	Iterations int     `validate:"gte=0"`
	MinRadius  float64 `validate:"gte=0"`

	// Control
	Policy        string  `validate:"oneof=center box"`
	Tolerance     int     `validate:"gte=0"`
	BoxWidth      int     `validate:"gt=0"`
	BoxHeight     int     `validate:"gt=0"`
	Scale         float64 `validate:"gt=0"`
	PositionAlpha float64 `validate:"gt=0,lte=1"`
	AngleAlpha    float64 `validate:"gt=0,lte=1"`
	InitialAngle  float64 `validate:"gte=0,lte=180"`

	// Actuator
	Driver        string        `validate:"oneof=pigpio piblaster none"`
	PigpioAddr    string        `validate:"required_if=Driver pigpio"`
	PanPin        int           `validate:"gte=0,lte=53"`
	TiltPin       int           `validate:"gte=0,lte=53,nefield=PanPin"`
	BlasterDevice string        `validate:"required_if=Driver piblaster"`
	MinPulse      int           `validate:"gte=0"`
	MaxPulse      int           `validate:"gtfield=MinPulse"`
	Settle        time.Duration `validate:"gte=0"`

	// Display sinks
	Window     bool
	Listen     string // empty disables the viewer server
	PreviewFPS float64 `validate:"gt=0"`
	WebRTC     bool
	ICEServers string // comma separated STUN/TURN URLs

	// Logging
	LogLevel string `validate:"oneof=trace debug info warn error"`
	LogFile  string
}

// profiles are the two tunings the tracker ships with. Values are applied to
// flags that were set neither on the command line nor in the environment.
var profiles = map[string]map[string]string{
	control.PolicyCenter: {
		"policy":      control.PolicyCenter,
		"hue-low-max": "10",
		"min-radius":  "5",
	},
	control.PolicyBox: {
		"policy":      control.PolicyBox,
		"hue-low-max": "20",
		"min-radius":  "0.5",
	},
}

// Default returns the built-in configuration (the center profile)
func Default() *Config {
	t := vision.DefaultThresholds()
	return &Config{
		Profile: control.PolicyCenter,
		EnvFile: ".env",

		Source:      "0",
		Width:       640,
		Height:      480,
		RTSPRetries: 5,

		HueLowMin:  t.Low.Min,
		HueLowMax:  t.Low.Max,
		HueHighMin: t.High.Min,
		HueHighMax: t.High.Max,
		MinSat:     t.MinSat,
		MinVal:     t.MinVal,
		Kernel:     3,
		Iterations: 2,
		MinRadius:  5,

		Policy:        control.PolicyCenter,
		Tolerance:     5,
		BoxWidth:      200,
		BoxHeight:     150,
		Scale:         0.15,
		PositionAlpha: 0.3,
		AngleAlpha:    0.2,
		InitialAngle:  90,

		Driver:        DriverPigpio,
		PigpioAddr:    "localhost:8888",
		PanPin:        17,
		TiltPin:       27,
		BlasterDevice: "/dev/pi-blaster",
		MinPulse:      servo.DefaultMinPulse,
		MaxPulse:      servo.DefaultMaxPulse,
		Settle:        time.Second,

		Window:     true,
		Listen:     "",
		PreviewFPS: 10,
		WebRTC:     false,

		LogLevel: "info",
	}
}

func (c *Config) bind(set *flag.FlagSet) {
	set.StringVar(&c.Profile, "profile", c.Profile, "tuning profile (center or box)")
	set.StringVar(&c.EnvFile, "env-file", c.EnvFile, "optional dotenv file with TRACKER_* variables")

	set.StringVar(&c.Source, "source", c.Source, "camera index, video file, or rtsp:// URL")
	set.IntVar(&c.Width, "width", c.Width, "frame width")
	set.IntVar(&c.Height, "height", c.Height, "frame height")
	set.IntVar(&c.RTSPRetries, "rtsp-retries", c.RTSPRetries, "RTSP reconnect attempts before giving up")

	set.Float64Var(&c.HueLowMin, "hue-low-min", c.HueLowMin, "lower red hue range start (0-180)")
	set.Float64Var(&c.HueLowMax, "hue-low-max", c.HueLowMax, "lower red hue range end (0-180)")
	set.Float64Var(&c.HueHighMin, "hue-high-min", c.HueHighMin, "upper red hue range start (0-180)")
	set.Float64Var(&c.HueHighMax, "hue-high-max", c.HueHighMax, "upper red hue range end (0-180)")
	set.Float64Var(&c.MinSat, "min-sat", c.MinSat, "minimum saturation (0-255)")
	set.Float64Var(&c.MinVal, "min-val", c.MinVal, "minimum value (0-255)")
	set.IntVar(&c.Kernel, "kernel", c.Kernel, "morphology kernel size in pixels")
	set.IntVar(&c.Iterations, "iterations", c.Iterations, "erode/dilate iterations")
	set.Float64Var(&c.MinRadius, "min-radius", c.MinRadius, "minimum blob radius in pixels")

	set.StringVar(&c.Policy, "policy", c.Policy, "dead-zone policy (center or box)")
	set.IntVar(&c.Tolerance, "tolerance", c.Tolerance, "center dead-zone tolerance in pixels")
	set.IntVar(&c.BoxWidth, "box-width", c.BoxWidth, "dead-zone box width in pixels")
	set.IntVar(&c.BoxHeight, "box-height", c.BoxHeight, "dead-zone box height in pixels")
	set.Float64Var(&c.Scale, "scale", c.Scale, "degrees of correction per pixel of offset")
	set.Float64Var(&c.PositionAlpha, "position-alpha", c.PositionAlpha, "position smoothing factor")
	set.Float64Var(&c.AngleAlpha, "angle-alpha", c.AngleAlpha, "angle smoothing factor")
	set.Float64Var(&c.InitialAngle, "initial-angle", c.InitialAngle, "homing angle for both axes")

	set.StringVar(&c.Driver, "driver", c.Driver, "actuator driver (pigpio, piblaster, none)")
	set.StringVar(&c.PigpioAddr, "pigpio-addr", c.PigpioAddr, "pigpiod address")
	set.IntVar(&c.PanPin, "pan-pin", c.PanPin, "pan servo GPIO (BCM)")
	set.IntVar(&c.TiltPin, "tilt-pin", c.TiltPin, "tilt servo GPIO (BCM)")
	set.StringVar(&c.BlasterDevice, "blaster-device", c.BlasterDevice, "pi-blaster FIFO path")
	set.IntVar(&c.MinPulse, "min-pulse", c.MinPulse, "pulse width at 0 degrees (us)")
	set.IntVar(&c.MaxPulse, "max-pulse", c.MaxPulse, "pulse width at 180 degrees (us)")
	set.DurationVar(&c.Settle, "settle", c.Settle, "wait after homing before tracking")

	set.BoolVar(&c.Window, "window", c.Window, "show a local preview window")
	set.StringVar(&c.Listen, "listen", c.Listen, "viewer HTTP listen address (empty disables)")
	set.Float64Var(&c.PreviewFPS, "preview-fps", c.PreviewFPS, "viewer preview frame rate")
	set.BoolVar(&c.WebRTC, "webrtc", c.WebRTC, "offer a WebRTC telemetry channel to viewers")
	set.StringVar(&c.ICEServers, "ice-servers", c.ICEServers, "comma-separated ICE server URLs")

	set.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
	set.StringVar(&c.LogFile, "log-file", c.LogFile, "also log to this rotating file")
}

// EnvName returns the environment variable bound to a flag
func EnvName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// Load parses args and the environment into a validated Config.
// Precedence is flag, then environment, then profile, then default.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fset := flag.NewFlagSet("laser-tracker", flag.ContinueOnError)
	cfg.bind(fset)
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	explicit := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if err := godotenv.Load(cfg.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", cfg.EnvFile, err)
	}

	if !explicit["profile"] {
		if v, ok := os.LookupEnv(EnvName("profile")); ok {
			cfg.Profile = v
		}
	}
	profile, ok := profiles[cfg.Profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	for name, value := range profile {
		if !explicit[name] {
			if err := fset.Set(name, value); err != nil {
				return nil, fmt.Errorf("profile %s: %w", cfg.Profile, err)
			}
		}
	}

	var envErr error
	fset.VisitAll(func(f *flag.Flag) {
		if envErr != nil || explicit[f.Name] || f.Name == "profile" || f.Name == "env-file" {
			return
		}
		if v, ok := os.LookupEnv(EnvName(f.Name)); ok {
			if err := fset.Set(f.Name, v); err != nil {
				envErr = fmt.Errorf("invalid %s: %w", EnvName(f.Name), err)
			}
		}
	})
	if envErr != nil {
		return nil, envErr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Camera returns the frame source settings
func (c *Config) Camera() camera.Config {
	return camera.Config{Device: c.Source, Width: c.Width, Height: c.Height}
}

// Frame returns the configured frame size
func (c *Config) Frame() image.Point {
	return image.Pt(c.Width, c.Height)
}

// Detector returns the mask detector settings
func (c *Config) Detector() vision.DetectorConfig {
	return vision.DetectorConfig{
		Thresholds: vision.Thresholds{
			Low:    vision.HueRange{Min: c.HueLowMin, Max: c.HueLowMax},
			High:   vision.HueRange{Min: c.HueHighMin, Max: c.HueHighMax},
			MinSat: c.MinSat,
			MinVal: c.MinVal,
		},
		KernelSize: c.Kernel,
		Iterations: c.Iterations,
	}
}

// Control returns the controller settings
func (c *Config) Control() control.Config {
	return control.Config{
		Zone: control.ZoneConfig{
			Policy:    c.Policy,
			Frame:     c.Frame(),
			Tolerance: c.Tolerance,
			BoxWidth:  c.BoxWidth,
			BoxHeight: c.BoxHeight,
		},
		Scale:         c.Scale,
		PositionAlpha: c.PositionAlpha,
		AngleAlpha:    c.AngleAlpha,
		InitialAngle:  c.InitialAngle,
	}
}

// Pins returns the servo GPIO assignment
func (c *Config) Pins() servo.Pins {
	return servo.Pins{Pan: c.PanPin, Tilt: c.TiltPin}
}

// ICEServerList splits the ICE server option
func (c *Config) ICEServerList() []string {
	var out []string
	for _, s := range strings.Split(c.ICEServers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
