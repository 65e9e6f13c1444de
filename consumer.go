package amqpio

import "github.com/google/uuid"

// ConsumeOptions alter how a consumer is registered.
type ConsumeOptions struct {
	// Tag is the consumer tag to request. Empty requests a generated tag.
	Tag string

	// NoAck asks the server to consider deliveries acknowledged as soon
	// as they are sent.
	NoAck bool

	// Exclusive requests exclusive consumer access to the queue.
	Exclusive bool

	// NoLocal asks the server not to deliver messages published on this
	// same connection.
	NoLocal bool

	Arguments Table
}

func generatedConsumerTag() string {
	return "amqpio-" + uuid.NewString()
}

// Consumer is a registered queue consumer. Receive deliveries from
// Deliveries; the channel is closed when the consumer is cancelled, its
// channel closes, or the connection terminates.
type Consumer struct {
	tag        string
	deliveries <-chan Delivery
	channel    *Channel
}

// Tag returns the consumer tag confirmed by the server.
func (c *Consumer) Tag() string { return c.tag }

// Deliveries returns the stream of messages for this consumer. The io
// loop blocks once the buffer (ConnectionTuning.MemChannelBound) is full,
// so a stalled consumer stalls the whole connection.
func (c *Consumer) Deliveries() <-chan Delivery { return c.deliveries }

// Cancel stops the consumer. The Deliveries channel is closed after the
// server confirms; messages already buffered are still readable.
func (c *Consumer) Cancel() error {
	return c.channel.io.cancelConsumer(c.channel.id, c.tag)
}
