package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"laser-tracker/internal/protocol"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	static := fstest.MapFS{"web/index.html": &fstest.MapFile{Data: []byte("<html>viewer</html>")}}
	s, err := New(Config{
		PreviewFPS: 100,
		Status: protocol.StatusPayload{
			Source:      "0",
			Actuator:    "none",
			Policy:      "center",
			FrameWidth:  640,
			FrameHeight: 480,
		},
	}, static, log)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return kind, data
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	kind, data := readMessage(t, conn)
	require.Equal(t, websocket.TextMessage, kind)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func TestServesStaticViewer(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "viewer")
}

func TestStatusSentOnConnect(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	msg := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeStatus, msg.Type)

	var status protocol.StatusPayload
	require.NoError(t, msg.ParsePayload(&status))
	assert.Equal(t, "center", status.Policy)
	assert.Equal(t, 640, status.FrameWidth)
	assert.NotEmpty(t, status.ClientID)
}

func TestPingPong(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping", "payload": map[string]any{"timestamp": 42}}))

	msg := readEnvelope(t, conn)
	require.Equal(t, protocol.TypePong, msg.Type)
	var pong protocol.PongPayload
	require.NoError(t, msg.ParsePayload(&pong))
	assert.Equal(t, int64(42), pong.ClientTimestamp)
}

func TestInvalidMessageGetsError(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{{{")))

	msg := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeError, msg.Type)
}

func TestShowBroadcastsTelemetryAndPreview(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)
	readEnvelope(t, conn)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	quit := s.Show(frame, protocol.TelemetryPayload{Frame: 7, Detected: true, Pan: 84.6, Tilt: 88.8})
	assert.False(t, quit)

	msg := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeTelemetry, msg.Type)
	var telem protocol.TelemetryPayload
	require.NoError(t, msg.ParsePayload(&telem))
	assert.Equal(t, int64(7), telem.Frame)
	assert.InDelta(t, 84.6, telem.Pan, 1e-9)

	kind, data := readMessage(t, conn)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}

func TestQuitMessageStopsTracker(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)
	readEnvelope(t, conn)

	empty := gocv.NewMat()
	defer empty.Close()
	assert.False(t, s.Show(empty, protocol.TelemetryPayload{}))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "quit", "payload": map[string]any{"reason": "test"}}))

	assert.Eventually(t, func() bool {
		return s.Show(empty, protocol.TelemetryPayload{})
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.QuitRequested())
}
