package amqpio

// channelIO is the slice of the command plane a Channel needs. The io
// loop's engineHandle implements it; tests substitute a recorder.
type channelIO interface {
	closeChannel(channelID uint16) error
	publish(channelID uint16, exchange, routingKey string, mandatory bool, body []byte, props Properties) error
	consume(channelID uint16, queue, tag string, opts ConsumeOptions) (string, <-chan Delivery, error)
	cancelConsumer(channelID uint16, tag string) error
	get(channelID uint16, queue string, noAck bool) (*Delivery, bool, error)
	ack(channelID uint16, tag uint64, multiple bool) error
	nack(channelID uint16, tag uint64, multiple, requeue bool) error
	reject(channelID uint16, tag uint64, requeue bool) error
}

var _ channelIO = (*engineHandle)(nil)

// Channel is one AMQP channel multiplexed over a Connection. A Channel is
// safe for concurrent use; all operations funnel through the connection's
// io loop.
type Channel struct {
	id uint16
	io channelIO
}

// ChannelID returns the channel number negotiated with the server.
func (ch *Channel) ChannelID() uint16 { return ch.id }

// Close closes the channel. Operations on a closed channel fail with a
// ClientClosedChannel error, or with the server's close reason if the
// server closed it first.
func (ch *Channel) Close() error {
	return ch.io.closeChannel(ch.id)
}

// PublishOptions alter how a message is published.
type PublishOptions struct {
	// Mandatory asks the server to return the message if it cannot be
	// routed to any queue. Returned messages are dropped by this client.
	Mandatory bool

	Properties Properties
}

// Publish sends body to an exchange with the given routing key. The call
// returns once the message has been handed to the io loop for writing;
// plain publishes carry no broker acknowledgement.
func (ch *Channel) Publish(exchange, routingKey string, body []byte, opts PublishOptions) error {
	return ch.io.publish(ch.id, exchange, routingKey, opts.Mandatory, body, opts.Properties)
}

// Consume registers a consumer on a queue. Deliveries arrive on the
// returned Consumer until it is cancelled or the channel closes.
func (ch *Channel) Consume(queue string, opts ConsumeOptions) (*Consumer, error) {
	tag := opts.Tag
	if tag == "" {
		tag = generatedConsumerTag()
	}
	serverTag, deliveries, err := ch.io.consume(ch.id, queue, tag, opts)
	if err != nil {
		return nil, err
	}
	return &Consumer{tag: serverTag, deliveries: deliveries, channel: ch}, nil
}

// Get synchronously pulls a single message from a queue. The boolean is
// false when the queue was empty.
func (ch *Channel) Get(queue string, noAck bool) (*Delivery, bool, error) {
	return ch.io.get(ch.id, queue, noAck)
}
