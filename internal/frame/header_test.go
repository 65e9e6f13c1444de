package frame_test

import (
	"testing"
	"time"

	"github.com/amqpio/amqpio/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	props := frame.BasicProperties{
		ContentType:   "application/json",
		DeliveryMode:  2,
		CorrelationID: "corr-1",
		Timestamp:     time.Unix(1735689600, 0),
		Headers:       map[string]any{"retry": int32(3)},
	}
	f, err := frame.NewContentHeader(3, 1024, props)
	require.NoError(t, err)
	assert.Equal(t, byte(frame.TypeHeader), f.Type)
	assert.Equal(t, uint16(3), f.Channel)

	h, err := frame.ParseContentHeader(f)
	require.NoError(t, err)
	assert.Equal(t, uint16(frame.ClassBasic), h.ClassID)
	assert.Equal(t, uint64(1024), h.BodySize)
	assert.Equal(t, props, h.Props)
}

func TestContentHeaderOmitsZeroProperties(t *testing.T) {
	t.Parallel()

	f, err := frame.NewContentHeader(1, 0, frame.BasicProperties{})
	require.NoError(t, err)
	// class + weight + body size + empty flags
	assert.Len(t, f.Payload, 14)

	h, err := frame.ParseContentHeader(f)
	require.NoError(t, err)
	assert.Equal(t, frame.BasicProperties{}, h.Props)
}

func TestParseContentHeaderRejectsShortPayload(t *testing.T) {
	t.Parallel()

	_, err := frame.ParseContentHeader(&frame.Frame{Type: frame.TypeHeader, Payload: []byte{1, 2, 3}})
	assert.ErrorIs(t, err, frame.ErrMalformed)
}
