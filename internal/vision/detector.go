// Package vision finds the laser dot in a camera frame.
//
// Frames are 8-bit BGR gocv.Mats. Thresholds use OpenCV's 8-bit HSV scale:
// hue 0-180 (degrees halved), saturation and value 0-255.
package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// HueRange is an inclusive hue interval on OpenCV's 0-180 scale
type HueRange struct {
	Min, Max float64
}

// Thresholds defines what counts as "red". Two hue ranges cover the wrap-around
// at 0/180; both share the saturation and value floors.
type Thresholds struct {
	Low    HueRange
	High   HueRange
	MinSat float64
	MinVal float64
}

// DefaultThresholds returns the thresholds of the center-seeking tuning
func DefaultThresholds() Thresholds {
	return Thresholds{
		Low:    HueRange{Min: 0, Max: 10},
		High:   HueRange{Min: 160, Max: 180},
		MinSat: 120,
		MinVal: 200,
	}
}

// DetectorConfig for the color mask detector
type DetectorConfig struct {
	Thresholds Thresholds
	KernelSize int // side of the square structuring element
	Iterations int // erosion passes, then the same number of dilation passes
}

// Detector turns a color frame into a binary mask of red pixels.
// It reuses scratch Mats between calls and is not safe for concurrent use.
type Detector struct {
	lowLower, lowUpper   gocv.Scalar
	highLower, highUpper gocv.Scalar
	kernel               gocv.Mat
	iterations           int

	hsv      gocv.Mat
	lowMask  gocv.Mat
	highMask gocv.Mat
}

// NewDetector creates a detector. Call Close to release its Mats.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.KernelSize <= 0 {
		cfg.KernelSize = 3
	}
	if cfg.Iterations < 0 {
		cfg.Iterations = 0
	}

	th := cfg.Thresholds
	return &Detector{
		lowLower:   gocv.NewScalar(th.Low.Min, th.MinSat, th.MinVal, 0),
		lowUpper:   gocv.NewScalar(th.Low.Max, 255, 255, 0),
		highLower:  gocv.NewScalar(th.High.Min, th.MinSat, th.MinVal, 0),
		highUpper:  gocv.NewScalar(th.High.Max, 255, 255, 0),
		kernel:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(cfg.KernelSize, cfg.KernelSize)),
		iterations: cfg.Iterations,
		hsv:        gocv.NewMat(),
		lowMask:    gocv.NewMat(),
		highMask:   gocv.NewMat(),
	}
}

// Mask writes the cleaned-up red mask of frame into mask. An empty frame
// produces an empty mask, which the locator treats as no detection.
func (d *Detector) Mask(frame gocv.Mat, mask *gocv.Mat) {
	if frame.Empty() {
		mask.Close()
		*mask = gocv.NewMat()
		return
	}

	gocv.CvtColor(frame, &d.hsv, gocv.ColorBGRToHSV)
	gocv.InRangeWithScalar(d.hsv, d.lowLower, d.lowUpper, &d.lowMask)
	gocv.InRangeWithScalar(d.hsv, d.highLower, d.highUpper, &d.highMask)
	gocv.BitwiseOr(d.lowMask, d.highMask, mask)

	// Opening with a fixed pass count removes speckle without closing gaps.
	for i := 0; i < d.iterations; i++ {
		gocv.Erode(*mask, mask, d.kernel)
	}
	for i := 0; i < d.iterations; i++ {
		gocv.Dilate(*mask, mask, d.kernel)
	}
}

// Close releases the detector's Mats
func (d *Detector) Close() error {
	d.kernel.Close()
	d.hsv.Close()
	d.lowMask.Close()
	d.highMask.Close()
	return nil
}
