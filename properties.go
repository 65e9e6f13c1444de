package amqpio

import (
	"time"

	"github.com/amqpio/amqpio/internal/frame"
)

// Properties is the structured metadata attached to a published or
// delivered message (the basic-class content header properties). Zero
// values are not sent on the wire.
type Properties struct {
	ContentType     string    // MIME content type
	ContentEncoding string    // MIME content encoding
	Headers         Table     // application or header exchange table
	DeliveryMode    uint8     // non-persistent (1) or persistent (2)
	Priority        uint8     // 0 to 9
	CorrelationID   string    // application use - correlation identifier
	ReplyTo         string    // application use - address to reply to
	Expiration      string    // implementation use - message expiration spec
	MessageID       string    // application use - message identifier
	Timestamp       time.Time // application use - message timestamp
	Type            string    // application use - message type name
	UserID          string    // creating user - should be the authenticated user
	AppID           string    // creating application id
}

func (p Properties) wire() frame.BasicProperties {
	return frame.BasicProperties{
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		Headers:         map[string]any(p.Headers),
		DeliveryMode:    p.DeliveryMode,
		Priority:        p.Priority,
		CorrelationID:   p.CorrelationID,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageID:       p.MessageID,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		UserID:          p.UserID,
		AppID:           p.AppID,
	}
}

func propertiesFromWire(w frame.BasicProperties) Properties {
	return Properties{
		ContentType:     w.ContentType,
		ContentEncoding: w.ContentEncoding,
		Headers:         Table(w.Headers),
		DeliveryMode:    w.DeliveryMode,
		Priority:        w.Priority,
		CorrelationID:   w.CorrelationID,
		ReplyTo:         w.ReplyTo,
		Expiration:      w.Expiration,
		MessageID:       w.MessageID,
		Timestamp:       w.Timestamp,
		Type:            w.Type,
		UserID:          w.UserID,
		AppID:           w.AppID,
	}
}
