package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"laser-tracker/internal/protocol"
	"laser-tracker/internal/webrtc"
)

// Config for the viewer server
type Config struct {
	ListenAddr string
	PreviewFPS float64 // JPEG preview frames per second pushed to viewers
	WebRTC     bool    // offer a telemetry data channel to each viewer
	ICEServers []string
	Status     protocol.StatusPayload
}

// Server streams annotated frames and telemetry to browser viewers and relays
// their quit requests back to the tracking loop.
type Server struct {
	cfg       Config
	log       logrus.FieldLogger
	clients   map[*Client]bool
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
	staticFS  fs.FS
	limiter   *rate.Limiter
	httpSrv   *http.Server
	quit      atomic.Bool
}

type outbound struct {
	kind int // websocket.TextMessage or websocket.BinaryMessage
	data []byte
}

// Client represents a connected WebSocket viewer
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	webrtc *webrtc.Session
	send   chan outbound
	log    logrus.FieldLogger
	mu     sync.Mutex
	closed bool
}

// New creates a new server instance. staticFS must contain a web directory.
func New(cfg Config, staticFS fs.FS, log logrus.FieldLogger) (*Server, error) {
	webFS, err := fs.Sub(staticFS, "web")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded web files: %w", err)
	}

	if cfg.PreviewFPS <= 0 {
		cfg.PreviewFPS = 10
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		clients:  make(map[*Client]bool),
		staticFS: webFS,
		limiter:  rate.NewLimiter(rate.Limit(cfg.PreviewFPS), 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local use
			},
		},
	}

	return s, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/", http.FileServer(http.FS(s.staticFS)))
	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}

	s.httpSrv = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("viewer server stopped")
		}
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("viewer server listening")
	return nil
}

// Show pushes telemetry for every frame and a rate-limited JPEG preview to all
// viewers. It reports whether any viewer has asked the tracker to quit.
func (s *Server) Show(frame gocv.Mat, t protocol.TelemetryPayload) bool {
	if s.clientCount() == 0 {
		return s.quit.Load()
	}

	if data, err := protocol.Encode(protocol.TypeTelemetry, t); err == nil {
		s.broadcast(outbound{kind: websocket.TextMessage, data: data}, true)
	} else {
		s.log.WithError(err).Warn("failed to encode telemetry")
	}

	if !frame.Empty() && s.limiter.Allow() {
		buf, err := gocv.IMEncode(".jpg", frame)
		if err != nil {
			s.log.WithError(err).Warn("failed to encode preview frame")
		} else {
			jpeg := make([]byte, len(buf.GetBytes()))
			copy(jpeg, buf.GetBytes())
			buf.Close()
			s.broadcast(outbound{kind: websocket.BinaryMessage, data: jpeg}, false)
		}
	}

	return s.quit.Load()
}

// QuitRequested reports whether a viewer sent a quit message
func (s *Server) QuitRequested() bool {
	return s.quit.Load()
}

func (s *Server) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// broadcast queues msg for every client, dropping it for clients that are behind
func (s *Server) broadcast(msg outbound, telemetry bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		if session := client.session(); telemetry && session != nil && session.Ready() {
			if err := session.SendTelemetry(msg.data); err == nil {
				continue
			}
		}
		client.enqueue(msg)
	}
}

// Close stops the HTTP server and disconnects all viewers
func (s *Server) Close() error {
	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = s.httpSrv.Shutdown(ctx)
	}

	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clientsMu.Unlock()

	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade error")
		return
	}

	id := uuid.NewString()
	client := &Client{
		id:     id,
		conn:   conn,
		server: s,
		send:   make(chan outbound, 64),
		log:    s.log.WithFields(logrus.Fields{"client": id, "remote": r.RemoteAddr}),
	}

	// Queue status before the client is registered so it arrives before telemetry
	client.sendStatus()

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()
	client.log.Info("viewer connected")

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	if s.cfg.WebRTC {
		if err := client.initWebRTC(); err != nil {
			client.log.WithError(err).Warn("failed to initialize webrtc")
			client.sendMessage(protocol.TypeError, protocol.ErrorPayload{
				Code:    protocol.ErrWebRTC,
				Message: err.Error(),
			})
		}
	}
}

func (c *Client) initWebRTC() error {
	session, err := webrtc.NewSession(webrtc.Config{ICEServers: c.server.cfg.ICEServers}, c.log, func(candidate *pwebrtc.ICECandidate) {
		cand := candidate.ToJSON()
		payload := protocol.ICECandidatePayload{Candidate: cand.Candidate}
		if cand.SDPMid != nil {
			payload.SDPMid = *cand.SDPMid
		}
		if cand.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *cand.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.Close()
	}
	c.webrtc = session
	c.mu.Unlock()

	offer, err := session.CreateOffer()
	if err != nil {
		return err
	}

	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})
	return nil
}

func (c *Client) sendStatus() {
	status := c.server.cfg.Status
	status.ClientID = c.id
	c.sendMessage(protocol.TypeStatus, status)
}

func (c *Client) sendMessage(msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.log.WithError(err).Warn("failed to encode message")
		return
	}
	c.enqueue(outbound{kind: websocket.TextMessage, data: data})
}

func (c *Client) enqueue(msg outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		// Viewer is behind, drop this message for it
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.clientsMu.Lock()
		delete(c.server.clients, c)
		c.server.clientsMu.Unlock()
		c.Close()
		c.log.Info("viewer disconnected")
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("websocket error")
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
			Code:    protocol.ErrInvalidMessage,
			Message: "Failed to parse message",
		})
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeQuit:
		var payload protocol.QuitPayload
		_ = msg.ParsePayload(&payload)
		c.log.WithField("reason", payload.Reason).Info("viewer requested quit")
		c.server.quit.Store(true)

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if session := c.session(); session != nil {
			if err := session.SetAnswer(payload.SDP); err != nil {
				c.log.WithError(err).Warn("failed to set answer")
			}
		}

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if session := c.session(); session != nil {
			if err := session.AddICECandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
				c.log.WithError(err).Warn("failed to add ice candidate")
			}
		}

	default:
		c.log.WithField("type", msg.Type).Debug("unknown message type")
	}
}

func (c *Client) session() *webrtc.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webrtc
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.kind, message.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.webrtc != nil {
		c.webrtc.Close()
		c.webrtc = nil
	}

	close(c.send)
}
