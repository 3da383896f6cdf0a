package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// laserRed is BGR(50, 80, 230): hue 5, saturation 200, value 230 on OpenCV's scale
var laserRed = color.RGBA{R: 230, G: 80, B: 50, A: 0}

func blankFrame() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
}

func newDetector() *Detector {
	return NewDetector(DetectorConfig{
		Thresholds: DefaultThresholds(),
		KernelSize: 3,
		Iterations: 2,
	})
}

func detect(t *testing.T, frame gocv.Mat, minRadius float64) (Blob, bool) {
	t.Helper()

	d := newDetector()
	defer d.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	d.Mask(frame, &mask)
	return NewLocator(minRadius).Locate(mask)
}

func TestLocatesRedDisc(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()
	gocv.Circle(&frame, image.Pt(500, 200), 10, laserRed, -1)

	blob, ok := detect(t, frame, 5)
	require.True(t, ok)
	assert.InDelta(t, 500, blob.Center.X, 1)
	assert.InDelta(t, 200, blob.Center.Y, 1)
	assert.InDelta(t, 10, blob.Radius, 1.5)
	assert.Greater(t, blob.Mass, 0.0)
}

func TestMaskMatchesFrameSize(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()
	gocv.Circle(&frame, image.Pt(100, 100), 12, laserRed, -1)

	d := newDetector()
	defer d.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	d.Mask(frame, &mask)
	assert.Equal(t, 480, mask.Rows())
	assert.Equal(t, 640, mask.Cols())
	assert.Greater(t, gocv.CountNonZero(mask), 300)
}

func TestDarkFrameHasNoDetection(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()

	d := newDetector()
	defer d.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	d.Mask(frame, &mask)
	assert.Equal(t, 0, gocv.CountNonZero(mask))

	_, ok := NewLocator(5).Locate(mask)
	assert.False(t, ok)
}

func TestEmptyFrameHasNoDetection(t *testing.T) {
	frame := gocv.NewMat()
	defer frame.Close()

	_, ok := detect(t, frame, 0.5)
	assert.False(t, ok)
}

func TestDimOrDesaturatedRedIgnored(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()

	// value 120: too dark
	gocv.Circle(&frame, image.Pt(200, 200), 15, color.RGBA{R: 120, G: 30, B: 20, A: 0}, -1)
	// saturation ~55: washed out pink
	gocv.Circle(&frame, image.Pt(400, 300), 15, color.RGBA{R: 240, G: 200, B: 190, A: 0}, -1)

	_, ok := detect(t, frame, 0.5)
	assert.False(t, ok)
}

func TestHueWrapAroundDetected(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()

	// hue ~175: magenta-leaning red on the far side of the wrap
	gocv.Circle(&frame, image.Pt(320, 240), 12, color.RGBA{R: 240, G: 40, B: 80, A: 0}, -1)

	blob, ok := detect(t, frame, 5)
	require.True(t, ok)
	assert.InDelta(t, 320, blob.Center.X, 1)
	assert.InDelta(t, 240, blob.Center.Y, 1)
}

func TestSpeckleRemovedByErosion(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()

	for _, p := range []image.Point{{50, 50}, {300, 120}, {610, 400}} {
		gocv.Rectangle(&frame, image.Rect(p.X, p.Y, p.X+2, p.Y+2), laserRed, -1)
	}

	_, ok := detect(t, frame, 0.5)
	assert.False(t, ok)
}

func TestLargestRegionWins(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()
	gocv.Circle(&frame, image.Pt(100, 380), 8, laserRed, -1)
	gocv.Circle(&frame, image.Pt(450, 150), 20, laserRed, -1)

	blob, ok := detect(t, frame, 5)
	require.True(t, ok)
	assert.InDelta(t, 450, blob.Center.X, 1)
	assert.InDelta(t, 150, blob.Center.Y, 1)
}

func TestMinRadiusRejectsSmallRegion(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()
	gocv.Circle(&frame, image.Pt(320, 240), 4, laserRed, -1)

	_, ok := detect(t, frame, 5)
	assert.False(t, ok)

	_, ok = detect(t, frame, 0.5)
	assert.True(t, ok)
}

func TestDrawingDoesNotMoveDetection(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()
	gocv.Circle(&frame, image.Pt(500, 200), 10, laserRed, -1)

	blob, ok := detect(t, frame, 5)
	require.True(t, ok)

	DrawBox(&frame, image.Rect(220, 165, 420, 315))
	DrawAngles(&frame, 84.6, 88.8)
	assert.Equal(t, 480, frame.Rows())

	again, ok := detect(t, frame, 5)
	require.True(t, ok)
	assert.Equal(t, blob.Center, again.Center)
}
