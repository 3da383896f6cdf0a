package camera

import (
	"strings"

	"github.com/sirupsen/logrus"

	"laser-tracker/internal/rtsp"
)

// Open picks a source for the configured device: rtsp:// and rtsps:// URLs
// are received as MJPEG streams, anything else goes to gocv.
func Open(cfg Config, retries int, log logrus.FieldLogger) (Source, error) {
	if strings.HasPrefix(cfg.Device, "rtsp://") || strings.HasPrefix(cfg.Device, "rtsps://") {
		return rtsp.NewSource(rtsp.Config{URL: cfg.Device, MaxRetries: retries}, log)
	}
	return NewCapture(cfg, log), nil
}
