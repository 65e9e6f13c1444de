// Package frame implements the AMQP 0-9-1 wire framing: the four frame
// types, method argument marshalling, field tables and content headers.
// It knows nothing about connection state; the io loop drives it.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrMalformed is returned when bytes on the wire cannot be parsed
	// as an AMQP frame.
	ErrMalformed = errors.New("malformed frame")

	// ErrFrameTooLarge is returned when a peer announces a payload larger
	// than the negotiated frame-max.
	ErrFrameTooLarge = errors.New("frame exceeds negotiated frame-max")
)

// Frame is one AMQP frame: a type, the channel it belongs to and the raw
// payload. Channel 0 is the connection control channel.
type Frame struct {
	Type    byte
	Channel uint16
	Payload []byte
}

// Method is the decoded head of a method frame.
type Method struct {
	ClassID  uint16
	MethodID uint16
	Args     []byte
}

// Method decodes the class/method head of a method frame. The argument
// bytes are returned raw; use NewReader to walk them.
func (f *Frame) Method() (Method, error) {
	if f.Type != TypeMethod {
		return Method{}, fmt.Errorf("%w: frame type %d is not a method frame", ErrMalformed, f.Type)
	}
	if len(f.Payload) < 4 {
		return Method{}, fmt.Errorf("%w: method frame payload too short", ErrMalformed)
	}
	return Method{
		ClassID:  binary.BigEndian.Uint16(f.Payload[0:2]),
		MethodID: binary.BigEndian.Uint16(f.Payload[2:4]),
		Args:     f.Payload[4:],
	}, nil
}

// NewMethod builds a method frame for the given channel from already
// marshalled arguments.
func NewMethod(channel uint16, classID, methodID uint16, args []byte) *Frame {
	payload := make([]byte, 4, 4+len(args))
	binary.BigEndian.PutUint16(payload[0:2], classID)
	binary.BigEndian.PutUint16(payload[2:4], methodID)
	payload = append(payload, args...)
	return &Frame{Type: TypeMethod, Channel: channel, Payload: payload}
}

// NewHeartbeat builds a heartbeat frame. Heartbeats always travel on
// channel 0 with an empty payload.
func NewHeartbeat() *Frame {
	return &Frame{Type: TypeHeartbeat, Channel: 0}
}

// NewBody builds a content body frame.
func NewBody(channel uint16, chunk []byte) *Frame {
	return &Frame{Type: TypeBody, Channel: channel, Payload: chunk}
}

// WriteProtocolHeader writes the AMQP 0-9-1 protocol preamble.
func WriteProtocolHeader(w io.Writer) error {
	_, err := w.Write([]byte(ProtocolHeader))
	return err
}

// Write marshals a frame: type, channel, length, payload, frame-end octet.
func Write(w io.Writer, f *Frame) error {
	var head [7]byte
	head[0] = f.Type
	binary.BigEndian.PutUint16(head[1:3], f.Channel)
	binary.BigEndian.PutUint32(head[3:7], uint32(len(f.Payload)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{frameEnd})
	return err
}

// Read unmarshals the next frame from r. maxSize bounds the payload length
// we are willing to accept; zero means no bound.
func Read(r io.Reader, maxSize uint32) (*Frame, error) {
	var head [7]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}

	f := &Frame{
		Type:    head[0],
		Channel: binary.BigEndian.Uint16(head[1:3]),
	}
	switch f.Type {
	case TypeMethod, TypeHeader, TypeBody, TypeHeartbeat:
	default:
		return nil, fmt.Errorf("%w: unknown frame type %d", ErrMalformed, f.Type)
	}

	size := binary.BigEndian.Uint32(head[3:7])
	if maxSize > 0 && size > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxSize)
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, err
		}
	}

	var end [1]byte
	if _, err := io.ReadFull(r, end[:]); err != nil {
		return nil, err
	}
	if end[0] != frameEnd {
		return nil, fmt.Errorf("%w: bad frame-end octet 0x%02x", ErrMalformed, end[0])
	}
	return f, nil
}
