package display

import (
	"gocv.io/x/gocv"

	"laser-tracker/internal/protocol"
)

// QuitKey closes the window and stops the tracker
const QuitKey = 'q'

// Window shows annotated frames in a local HighGUI window.
// gocv windows must be driven from the goroutine that created them.
type Window struct {
	win *gocv.Window
}

// NewWindow opens a window with the given title
func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Show displays frame and reports whether the quit key was pressed
func (w *Window) Show(frame gocv.Mat, _ protocol.TelemetryPayload) bool {
	if !frame.Empty() {
		w.win.IMShow(frame)
	}
	return w.win.WaitKey(1)&0xFF == QuitKey
}

// Close destroys the window
func (w *Window) Close() error {
	return w.win.Close()
}
