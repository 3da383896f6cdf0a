package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTelemetryEnvelope(t *testing.T) {
	data, err := Encode(TypeTelemetry, TelemetryPayload{
		Frame:     12,
		Detected:  true,
		RawX:      500,
		RawY:      200,
		Corrected: true,
		Pan:       84.6,
		Tilt:      88.8,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"telemetry","payload":{"frame":12,"timestamp":0,"detected":true,"raw_x":500,"raw_y":200,"offset_x":0,"offset_y":0,"corrected":true,"pan":84.6,"tilt":88.8}}`, string(data))
}

func TestDecodeQuit(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"quit","payload":{"reason":"done"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeQuit, msg.Type)

	var q QuitPayload
	require.NoError(t, msg.ParsePayload(&q))
	assert.Equal(t, "done", q.Reason)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}
