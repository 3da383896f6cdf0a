package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Blob is the laser dot found in one frame
type Blob struct {
	Center image.Point     // centroid from first-order area moments
	Circle image.Point     // center of the minimum enclosing circle
	Radius float64         // radius of the minimum enclosing circle
	Area   float64         // contour area
	Mass   float64         // foreground pixel count of the region
	Bounds image.Rectangle // bounding box of the contour
}

// Locator picks the most prominent region out of a mask
type Locator struct {
	minRadius float64
}

// NewLocator creates a locator that rejects regions whose enclosing circle
// radius is not above minRadius.
func NewLocator(minRadius float64) *Locator {
	return &Locator{minRadius: minRadius}
}

// Locate returns the largest external region of mask, or false when there is
// none, its enclosing circle is too small, or it has no pixel mass.
func (l *Locator) Locate(mask gocv.Mat) (Blob, bool) {
	if mask.Empty() {
		return Blob{}, false
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return Blob{}, false
	}

	best := -1
	maxArea := -1.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > maxArea {
			maxArea = area
			best = i
		}
	}

	contour := contours.At(best)
	x, y, radius := gocv.MinEnclosingCircle(contour)
	if float64(radius) <= l.minRadius {
		return Blob{}, false
	}

	// Rasterize only the chosen region so its moments are not polluted by
	// smaller regions elsewhere in the mask.
	region := gocv.Zeros(mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1)
	defer region.Close()
	gocv.DrawContours(&region, contours, best, color.RGBA{R: 255, G: 255, B: 255, A: 0}, -1)

	m := gocv.Moments(region, true)
	mass := m["m00"]
	if mass == 0 {
		return Blob{}, false
	}

	return Blob{
		Center: image.Pt(int(m["m10"]/mass), int(m["m01"]/mass)),
		Circle: image.Pt(int(x), int(y)),
		Radius: float64(radius),
		Area:   maxArea,
		Mass:   mass,
		Bounds: gocv.BoundingRect(contour),
	}, true
}
