package rtsp

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewSourceRejectsBadURL(t *testing.T) {
	_, err := NewSource(Config{URL: "::not a url"}, quietLogger())
	assert.Error(t, err)
}

func encodeJPEG(t *testing.T, rows, cols int) []byte {
	t.Helper()

	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(50, 80, 230, 0), rows, cols, gocv.MatTypeCV8UC3)
	defer src.Close()
	buf, err := gocv.IMEncode(".jpg", src)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func TestReadSkipsUndecodableFrames(t *testing.T) {
	s, err := NewSource(Config{URL: "rtsp://127.0.0.1:8554/laser"}, quietLogger())
	require.NoError(t, err)

	jpeg := encodeJPEG(t, 48, 64)
	s.push([]byte("garbage"))
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.push(jpeg)
	}()

	dst := gocv.NewMat()
	defer dst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, s.Read(ctx, &dst))
	assert.Equal(t, 48, dst.Rows())
	assert.Equal(t, 64, dst.Cols())
}

func TestReadReturnsNewestFrame(t *testing.T) {
	s, err := NewSource(Config{URL: "rtsp://127.0.0.1:8554/laser"}, quietLogger())
	require.NoError(t, err)

	s.push(encodeJPEG(t, 16, 16))
	s.push(encodeJPEG(t, 32, 32))
	s.push(encodeJPEG(t, 48, 64))

	dst := gocv.NewMat()
	defer dst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, s.Read(ctx, &dst))
	assert.Equal(t, 48, dst.Rows())
	assert.Equal(t, 64, dst.Cols())

	// Older frames were discarded, nothing else is queued
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, s.Read(short, &dst), context.DeadlineExceeded)
}

func TestReadHonorsContextAndStop(t *testing.T) {
	s, err := NewSource(Config{URL: "rtsp://127.0.0.1:8554/laser"}, quietLogger())
	require.NoError(t, err)

	dst := gocv.NewMat()
	defer dst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Read(ctx, &dst), context.DeadlineExceeded)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Read(context.Background(), &dst), ErrClosed)
	assert.ErrorIs(t, s.Start(), ErrClosed)
}
