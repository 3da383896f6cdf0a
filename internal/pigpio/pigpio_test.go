package pigpio

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laser-tracker/internal/servo"
)

type request struct {
	cmd, p1, p2 uint32
}

// fakeDaemon answers pigpiod requests, echoing the command with result 0
type fakeDaemon struct {
	ln       net.Listener
	mu       sync.Mutex
	requests []request
	result   int32
}

func startDaemon(t *testing.T) *fakeDaemon {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDaemon{ln: ln}
	go d.serve()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *fakeDaemon) serve() {
	conn, err := d.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	buf := make([]byte, frameSize)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		req := request{
			cmd: binary.LittleEndian.Uint32(buf[0:4]),
			p1:  binary.LittleEndian.Uint32(buf[4:8]),
			p2:  binary.LittleEndian.Uint32(buf[8:12]),
		}

		d.mu.Lock()
		d.requests = append(d.requests, req)
		res := d.result
		d.mu.Unlock()

		resp := make([]byte, frameSize)
		copy(resp, buf[:12])
		binary.LittleEndian.PutUint32(resp[12:16], uint32(res))
		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}

func (d *fakeDaemon) snapshot() []request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]request(nil), d.requests...)
}

func newTestController(t *testing.T, d *fakeDaemon) *Controller {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	c, err := NewController(Config{
		Address: d.ln.Addr().String(),
		Pins:    servo.Pins{Pan: 17, Tilt: 27},
		Timeout: time.Second,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEncodeCommand(t *testing.T) {
	buf := encodeCommand(cmdServo, 17, 1500)
	require.Len(t, buf, 16)
	assert.Equal(t, []byte{8, 0, 0, 0, 17, 0, 0, 0, 0xdc, 0x05, 0, 0, 0, 0, 0, 0}, buf)
}

func TestDecodeResultNegative(t *testing.T) {
	resp := make([]byte, frameSize)
	binary.LittleEndian.PutUint32(resp[12:16], uint32(0xFFFFFFF8)) // -8
	assert.Equal(t, int32(-8), decodeResult(resp))
}

func TestSetAngleSendsServoPulse(t *testing.T) {
	d := startDaemon(t)
	c := newTestController(t, d)

	require.NoError(t, c.SetAngle(servo.Pan, 90))
	require.NoError(t, c.SetAngle(servo.Tilt, 0))
	require.NoError(t, c.SetAngle(servo.Tilt, 180))

	reqs := d.snapshot()
	require.Len(t, reqs, 4)
	assert.Equal(t, uint32(cmdHardware), reqs[0].cmd)
	assert.Equal(t, request{cmd: cmdServo, p1: 17, p2: 1500}, reqs[1])
	assert.Equal(t, request{cmd: cmdServo, p1: 27, p2: 500}, reqs[2])
	assert.Equal(t, request{cmd: cmdServo, p1: 27, p2: 2500}, reqs[3])
}

func TestDisengageSendsZeroPulse(t *testing.T) {
	d := startDaemon(t)
	c := newTestController(t, d)

	require.NoError(t, servo.DisengageAll(c))

	reqs := d.snapshot()
	require.Len(t, reqs, 3)
	assert.Equal(t, request{cmd: cmdServo, p1: 17, p2: 0}, reqs[1])
	assert.Equal(t, request{cmd: cmdServo, p1: 27, p2: 0}, reqs[2])
}

func TestSetAngleRejectsOutOfRange(t *testing.T) {
	d := startDaemon(t)
	c := newTestController(t, d)

	assert.ErrorIs(t, c.SetAngle(servo.Pan, 181), servo.ErrAngleOutOfRange)
	assert.Len(t, d.snapshot(), 1)
}

func TestDaemonErrorCode(t *testing.T) {
	d := startDaemon(t)
	c := newTestController(t, d)

	d.mu.Lock()
	d.result = -8
	d.mu.Unlock()

	assert.Error(t, c.SetAngle(servo.Pan, 45))
}

func TestCommandOnClosedConnection(t *testing.T) {
	d := startDaemon(t)
	c := newTestController(t, d)
	require.NoError(t, c.conn.Close())

	err := c.SetAngle(servo.Pan, 45)
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.ErrorContains(t, err, "deadline")
	assert.Len(t, d.snapshot(), 1)
}

func TestUnreachableDaemonIsStartupFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)

	_, err = NewController(Config{Address: addr, Timeout: 200 * time.Millisecond}, log)
	assert.ErrorIs(t, err, servo.ErrUnavailable)
}
