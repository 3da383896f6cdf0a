package webrtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// Session is a WebRTC peer connection carrying telemetry to one viewer over an
// unordered, no-retransmit data channel. Late telemetry is useless, so lost
// messages are never resent.
type Session struct {
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	onICE   func(candidate *webrtc.ICECandidate)
	log     logrus.FieldLogger
	mu      sync.Mutex
	open    bool
	closed  bool
}

// Config for WebRTC session
type Config struct {
	ICEServers []string // STUN/TURN server URLs
}

// DefaultConfig returns a default WebRTC configuration
func DefaultConfig() Config {
	return Config{
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
		},
	}
}

// NewSession creates a new WebRTC session with its telemetry channel
func NewSession(cfg Config, log logrus.FieldLogger, onICE func(*webrtc.ICECandidate)) (*Session, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{},
	}
	for _, url := range cfg.ICEServers {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := &Session{
		pc:    pc,
		onICE: onICE,
		log:   log,
	}

	ordered := false
	var maxRetransmits uint16
	channel, err := pc.CreateDataChannel("telemetry", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	session.channel = channel

	channel.OnOpen(func() {
		session.mu.Lock()
		session.open = true
		session.mu.Unlock()
		log.Debug("telemetry channel open")
	})
	channel.OnClose(func() {
		session.mu.Lock()
		session.open = false
		session.mu.Unlock()
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && session.onICE != nil {
			session.onICE(c)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.WithField("state", s.String()).Debug("webrtc connection state")
	})

	return session, nil
}

// CreateOffer creates an SDP offer
func (s *Session) CreateOffer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	// Wait for ICE gathering to complete
	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	<-gatherComplete

	return s.pc.LocalDescription().SDP, nil
}

// SetAnswer sets the remote SDP answer
func (s *Session) SetAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}

	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate
func (s *Session) AddICECandidate(candidate string, sdpMid string, sdpMLineIndex uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ice := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	if err := s.pc.AddICECandidate(ice); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// Ready reports whether the telemetry channel is open
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && !s.closed
}

// SendTelemetry writes one encoded telemetry message. It is a no-op until the
// channel opens.
func (s *Session) SendTelemetry(data []byte) error {
	if !s.Ready() {
		return nil
	}
	return s.channel.SendText(string(data))
}

// Close closes the WebRTC session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.pc != nil {
		return s.pc.Close()
	}
	return nil
}
