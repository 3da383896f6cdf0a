package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	circleColor = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	centerColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	boxColor    = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	textColor   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// DrawBlob marks the enclosing circle and centroid of b on frame
func DrawBlob(frame *gocv.Mat, b Blob) {
	gocv.Circle(frame, b.Circle, int(b.Radius), circleColor, 2)
	gocv.Circle(frame, b.Center, 5, centerColor, -1)
}

// DrawBox outlines a dead-zone rectangle on frame
func DrawBox(frame *gocv.Mat, r image.Rectangle) {
	gocv.Rectangle(frame, r, boxColor, 2)
}

// DrawAngles prints the commanded angles in the lower-left corner
func DrawAngles(frame *gocv.Mat, pan, tilt float64) {
	text := fmt.Sprintf("pan %.1f  tilt %.1f", pan, tilt)
	gocv.PutText(frame, text, image.Pt(10, frame.Rows()-12), gocv.FontHersheySimplex, 0.5, textColor, 1)
}
