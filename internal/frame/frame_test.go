package frame_test

import (
	"bytes"
	"testing"

	"github.com/amqpio/amqpio/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodFrameRoundTrip(t *testing.T) {
	t.Parallel()

	args, err := frame.NewBuilder().
		Short(200).
		ShortString("goodbye").
		Short(0).
		Short(0).
		Bytes()
	require.NoError(t, err)

	var buf bytes.Buffer
	in := frame.NewMethod(7, frame.ClassConnection, frame.ConnectionClose, args)
	require.NoError(t, frame.Write(&buf, in))

	out, err := frame.Read(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(frame.TypeMethod), out.Type)
	assert.Equal(t, uint16(7), out.Channel)

	m, err := out.Method()
	require.NoError(t, err)
	assert.Equal(t, uint16(frame.ClassConnection), m.ClassID)
	assert.Equal(t, uint16(frame.ConnectionClose), m.MethodID)

	r := frame.NewReader(m.Args)
	assert.Equal(t, uint16(200), r.Short())
	assert.Equal(t, "goodbye", r.ShortString())
	require.NoError(t, r.Err())
}

func TestHeartbeatRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, frame.NewHeartbeat()))

	out, err := frame.Read(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(frame.TypeHeartbeat), out.Type)
	assert.Equal(t, uint16(0), out.Channel)
	assert.Empty(t, out.Payload)
}

func TestReadRejectsBadFrameEnd(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, frame.NewBody(1, []byte("x"))))
	raw := buf.Bytes()
	raw[len(raw)-1] = 0x00

	_, err := frame.Read(bytes.NewReader(raw), 0)
	assert.ErrorIs(t, err, frame.ErrMalformed)
}

func TestReadRejectsUnknownFrameType(t *testing.T) {
	t.Parallel()

	raw := []byte{0x05, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0xCE}
	_, err := frame.Read(bytes.NewReader(raw), 0)
	assert.ErrorIs(t, err, frame.ErrMalformed)
}

func TestReadEnforcesMaxSize(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, frame.NewBody(1, make([]byte, 512))))

	_, err := frame.Read(bytes.NewReader(buf.Bytes()), 128)
	assert.ErrorIs(t, err, frame.ErrFrameTooLarge)

	_, err = frame.Read(bytes.NewReader(buf.Bytes()), 512)
	assert.NoError(t, err)
}

func TestReaderIsSticky(t *testing.T) {
	t.Parallel()

	r := frame.NewReader([]byte{0x01})
	r.Long() // needs 4 bytes, only 1 available
	assert.Error(t, r.Err())
	assert.Zero(t, r.Octet())
	assert.Zero(t, r.Short())
	assert.Empty(t, r.ShortString())
	assert.ErrorIs(t, r.Err(), frame.ErrMalformed)
}

func TestBuilderRejectsOversizedShortString(t *testing.T) {
	t.Parallel()

	b := frame.NewBuilder().ShortString(string(make([]byte, 256)))
	_, err := b.Bytes()
	assert.Error(t, err)
}

func TestBitsPackIntoOneOctet(t *testing.T) {
	t.Parallel()

	args, err := frame.NewBuilder().Bits(true, false, true).Bytes()
	require.NoError(t, err)
	require.Len(t, args, 1)
	assert.Equal(t, byte(0x05), args[0])
}
