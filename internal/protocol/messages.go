package protocol

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeTelemetry    = "telemetry"
	TypeQuit         = "quit"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypeError        = "error"
)

// Error codes
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrWebRTC         = "WEBRTC_ERROR"
)

// Message is the base envelope for all WebSocket text messages.
// Preview frames travel as binary messages holding a bare JPEG.
type Message struct {
	Type    string              `json:"type"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload describes the tracker to a newly connected viewer
type StatusPayload struct {
	ClientID    string    `json:"client_id"`
	Source      string    `json:"source"`
	Actuator    string    `json:"actuator"`
	Policy      string    `json:"policy"`
	FrameWidth  int       `json:"frame_width"`
	FrameHeight int       `json:"frame_height"`
	DeadZone    *RectJSON `json:"dead_zone,omitempty"`
}

// RectJSON is an inclusive pixel rectangle
type RectJSON struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// TelemetryPayload reports what the control loop did with one frame
type TelemetryPayload struct {
	Frame     int64   `json:"frame"`
	Timestamp int64   `json:"timestamp"`
	Detected  bool    `json:"detected"`
	RawX      int     `json:"raw_x,omitempty"`
	RawY      int     `json:"raw_y,omitempty"`
	Radius    float64 `json:"radius,omitempty"`
	SmoothedX int     `json:"smoothed_x,omitempty"`
	SmoothedY int     `json:"smoothed_y,omitempty"`
	OffsetX   int     `json:"offset_x"`
	OffsetY   int     `json:"offset_y"`
	Corrected bool    `json:"corrected"`
	Pan       float64 `json:"pan"`
	Tilt      float64 `json:"tilt"`
}

// QuitPayload for quit requests
type QuitPayload struct {
	Reason string `json:"reason,omitempty"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// Encode marshals a typed payload straight into an envelope
func Encode(msgType string, payload any) ([]byte, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decode parses an envelope
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
