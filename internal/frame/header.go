package frame

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Property flag bits of the basic content header, most significant first.
const (
	flagContentType     = 1 << 15
	flagContentEncoding = 1 << 14
	flagHeaders         = 1 << 13
	flagDeliveryMode    = 1 << 12
	flagPriority        = 1 << 11
	flagCorrelationID   = 1 << 10
	flagReplyTo         = 1 << 9
	flagExpiration      = 1 << 8
	flagMessageID       = 1 << 7
	flagTimestamp       = 1 << 6
	flagType            = 1 << 5
	flagUserID          = 1 << 4
	flagAppID           = 1 << 3
)

// BasicProperties are the content-header properties of the basic class.
// Zero values are simply not written to the wire.
type BasicProperties struct {
	ContentType     string
	ContentEncoding string
	Headers         map[string]any
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
}

// ContentHeader is the decoded payload of a header frame.
type ContentHeader struct {
	ClassID  uint16
	BodySize uint64
	Props    BasicProperties
}

// NewContentHeader marshals a basic-class content header frame.
func NewContentHeader(channel uint16, bodySize uint64, props BasicProperties) (*Frame, error) {
	b := NewBuilder()
	b.Short(ClassBasic)
	b.Short(0) // weight, unused
	b.LongLong(bodySize)

	var flags uint16
	if props.ContentType != "" {
		flags |= flagContentType
	}
	if props.ContentEncoding != "" {
		flags |= flagContentEncoding
	}
	if len(props.Headers) > 0 {
		flags |= flagHeaders
	}
	if props.DeliveryMode != 0 {
		flags |= flagDeliveryMode
	}
	if props.Priority != 0 {
		flags |= flagPriority
	}
	if props.CorrelationID != "" {
		flags |= flagCorrelationID
	}
	if props.ReplyTo != "" {
		flags |= flagReplyTo
	}
	if props.Expiration != "" {
		flags |= flagExpiration
	}
	if props.MessageID != "" {
		flags |= flagMessageID
	}
	if !props.Timestamp.IsZero() {
		flags |= flagTimestamp
	}
	if props.Type != "" {
		flags |= flagType
	}
	if props.UserID != "" {
		flags |= flagUserID
	}
	if props.AppID != "" {
		flags |= flagAppID
	}
	b.Short(flags)

	if flags&flagContentType != 0 {
		b.ShortString(props.ContentType)
	}
	if flags&flagContentEncoding != 0 {
		b.ShortString(props.ContentEncoding)
	}
	if flags&flagHeaders != 0 {
		b.Table(props.Headers)
	}
	if flags&flagDeliveryMode != 0 {
		b.Octet(props.DeliveryMode)
	}
	if flags&flagPriority != 0 {
		b.Octet(props.Priority)
	}
	if flags&flagCorrelationID != 0 {
		b.ShortString(props.CorrelationID)
	}
	if flags&flagReplyTo != 0 {
		b.ShortString(props.ReplyTo)
	}
	if flags&flagExpiration != 0 {
		b.ShortString(props.Expiration)
	}
	if flags&flagMessageID != 0 {
		b.ShortString(props.MessageID)
	}
	if flags&flagTimestamp != 0 {
		b.LongLong(uint64(props.Timestamp.Unix()))
	}
	if flags&flagType != 0 {
		b.ShortString(props.Type)
	}
	if flags&flagUserID != 0 {
		b.ShortString(props.UserID)
	}
	if flags&flagAppID != 0 {
		b.ShortString(props.AppID)
	}

	payload, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return &Frame{Type: TypeHeader, Channel: channel, Payload: payload}, nil
}

// ParseContentHeader decodes a header frame payload.
func ParseContentHeader(f *Frame) (ContentHeader, error) {
	if f.Type != TypeHeader {
		return ContentHeader{}, fmt.Errorf("%w: frame type %d is not a header frame", ErrMalformed, f.Type)
	}
	if len(f.Payload) < 14 {
		return ContentHeader{}, fmt.Errorf("%w: content header too short", ErrMalformed)
	}

	h := ContentHeader{
		ClassID:  binary.BigEndian.Uint16(f.Payload[0:2]),
		BodySize: binary.BigEndian.Uint64(f.Payload[4:12]),
	}
	flags := binary.BigEndian.Uint16(f.Payload[12:14])
	r := NewReader(f.Payload[14:])

	if flags&flagContentType != 0 {
		h.Props.ContentType = r.ShortString()
	}
	if flags&flagContentEncoding != 0 {
		h.Props.ContentEncoding = r.ShortString()
	}
	if flags&flagHeaders != 0 {
		h.Props.Headers = r.Table()
	}
	if flags&flagDeliveryMode != 0 {
		h.Props.DeliveryMode = r.Octet()
	}
	if flags&flagPriority != 0 {
		h.Props.Priority = r.Octet()
	}
	if flags&flagCorrelationID != 0 {
		h.Props.CorrelationID = r.ShortString()
	}
	if flags&flagReplyTo != 0 {
		h.Props.ReplyTo = r.ShortString()
	}
	if flags&flagExpiration != 0 {
		h.Props.Expiration = r.ShortString()
	}
	if flags&flagMessageID != 0 {
		h.Props.MessageID = r.ShortString()
	}
	if flags&flagTimestamp != 0 {
		h.Props.Timestamp = time.Unix(int64(r.LongLong()), 0)
	}
	if flags&flagType != 0 {
		h.Props.Type = r.ShortString()
	}
	if flags&flagUserID != 0 {
		h.Props.UserID = r.ShortString()
	}
	if flags&flagAppID != 0 {
		h.Props.AppID = r.ShortString()
	}
	if err := r.Err(); err != nil {
		return ContentHeader{}, err
	}
	return h, nil
}
