package rtsp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtpmjpeg"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var (
	// ErrClosed is returned by Read after Stop
	ErrClosed = errors.New("rtsp source closed")

	// ErrNoMJPEG is returned when the stream has no MJPEG video track
	ErrNoMJPEG = errors.New("stream has no MJPEG track")
)

// Source receives an MJPEG stream over RTSP and decodes it into frames
type Source struct {
	url        string
	maxRetries int
	frames     chan []byte // newest complete JPEG image
	stopCh     chan struct{}
	failCh     chan struct{}
	log        logrus.FieldLogger

	mu      sync.Mutex
	client  *gortsplib.Client
	stopped bool
	failErr error
}

// Config for the RTSP source
type Config struct {
	URL string
	// MaxRetries bounds reconnect attempts after the stream drops; once they
	// are spent Read fails.
	MaxRetries int
}

// NewSource creates a new RTSP frame source
func NewSource(cfg Config, log logrus.FieldLogger) (*Source, error) {
	// Validate URL by parsing it
	if _, err := base.ParseURL(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid rtsp url: %w", err)
	}

	return &Source{
		url:        cfg.URL,
		maxRetries: cfg.MaxRetries,
		frames:     make(chan []byte, 1),
		stopCh:     make(chan struct{}),
		failCh:     make(chan struct{}),
		log:        log,
	}, nil
}

// Start establishes the RTSP session and starts receiving frames
func (s *Source) Start() error {
	return s.connect()
}

func (s *Source) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrClosed
	}

	client := &gortsplib.Client{
		// Use TCP transport (interleaved)
		Transport: func() *gortsplib.Transport {
			t := gortsplib.TransportTCP
			return &t
		}(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		OnDecodeError: func(err error) {
			s.log.WithError(err).Debug("rtsp decode error")
		},
	}

	u, err := base.ParseURL(s.url)
	if err != nil {
		return err
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return err
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return err
	}

	var forma *format.MJPEG
	medi := desc.FindFormat(&forma)
	if medi == nil {
		client.Close()
		return ErrNoMJPEG
	}

	dec, err := forma.CreateDecoder()
	if err != nil {
		client.Close()
		return err
	}

	if _, err := client.Setup(desc.BaseURL, medi, 0, 0); err != nil {
		client.Close()
		return err
	}

	client.OnPacketRTP(medi, forma, func(pkt *rtp.Packet) {
		img, err := dec.Decode(pkt)
		if err != nil {
			if !errors.Is(err, rtpmjpeg.ErrMorePacketsNeeded) &&
				!errors.Is(err, rtpmjpeg.ErrNonStartingPacketAndNoPrevious) {
				s.log.WithError(err).Debug("mjpeg depacketize error")
			}
			return
		}

		s.push(img)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return err
	}

	s.client = client
	s.log.WithField("url", s.url).Info("rtsp connected and playing")

	go s.monitorConnection(client)

	return nil
}

// push queues img, replacing a frame the loop has not picked up yet
func (s *Source) push(img []byte) {
	for {
		select {
		case s.frames <- img:
			return
		case <-s.stopCh:
			return
		default:
		}

		select {
		case <-s.frames:
		default:
		}
	}
}

// monitorConnection waits for the session to drop and reconnects with
// exponential backoff until MaxRetries is exhausted.
func (s *Source) monitorConnection(client *gortsplib.Client) {
	err := client.Wait()

	select {
	case <-s.stopCh:
		return
	default:
	}

	s.log.WithError(err).Warn("rtsp connection lost")

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		delay := min(time.Duration(1<<uint(attempt-1))*time.Second, 30*time.Second)
		s.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Info("rtsp reconnecting")

		select {
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}

		if err = s.connect(); err != nil {
			s.log.WithError(err).Warn("rtsp reconnect failed")
			continue
		}

		s.log.Info("rtsp reconnected")
		return
	}

	s.mu.Lock()
	s.failErr = fmt.Errorf("rtsp stream lost after %d retries: %w", s.maxRetries, err)
	s.mu.Unlock()
	close(s.failCh)
}

// Read blocks until the next frame is decoded into dst. Frames that fail to
// decode are skipped.
func (s *Source) Read(ctx context.Context, dst *gocv.Mat) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return ErrClosed
		case <-s.failCh:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.failErr
		case img := <-s.frames:
			mat, err := gocv.IMDecode(img, gocv.IMReadColor)
			if err != nil || mat.Empty() {
				mat.Close()
				s.log.WithError(err).Debug("dropping undecodable jpeg")
				continue
			}
			mat.CopyTo(dst)
			mat.Close()
			return nil
		}
	}
}

// Stop closes the RTSP session
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	client := s.client
	s.mu.Unlock()

	close(s.stopCh)

	if client != nil {
		client.Close()
	}
	return nil
}
