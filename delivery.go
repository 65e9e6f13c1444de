package amqpio

import "fmt"

// Delivery is one message received from the server, either pushed to a
// consumer or pulled via Channel.Get. The acknowledgement methods must be
// called with the channel the delivery arrived on; passing any other
// channel is a programming error and panics.
type Delivery struct {
	channelID uint16

	// ConsumerTag identifies the consumer this delivery was pushed to.
	// Empty for deliveries pulled via Get.
	ConsumerTag string

	// DeliveryTag is the channel-scoped tag used to acknowledge the
	// delivery.
	DeliveryTag uint64

	// Redelivered is true if the message may have been delivered before.
	Redelivered bool

	Exchange   string
	RoutingKey string

	// MessageCount is the number of messages remaining in the queue at
	// the time of a Get; zero for pushed deliveries.
	MessageCount uint32

	Properties Properties
	Body       []byte
}

func (d Delivery) assertChannel(ch *Channel) {
	if ch.id != d.channelID {
		panic(fmt.Sprintf(
			"cannot ack delivery on different channel (delivery channel = %d, ack channel = %d)",
			d.channelID, ch.id,
		))
	}
}

// Ack acknowledges the delivery. With multiple set, all deliveries up to
// and including this one are acknowledged.
func (d Delivery) Ack(ch *Channel, multiple bool) error {
	d.assertChannel(ch)
	return ch.io.ack(ch.id, d.DeliveryTag, multiple)
}

// Nack rejects the delivery, optionally all up to and including this one,
// asking the server to requeue when requeue is set.
func (d Delivery) Nack(ch *Channel, multiple, requeue bool) error {
	d.assertChannel(ch)
	return ch.io.nack(ch.id, d.DeliveryTag, multiple, requeue)
}

// Reject rejects this single delivery, asking the server to requeue when
// requeue is set.
func (d Delivery) Reject(ch *Channel, requeue bool) error {
	d.assertChannel(ch)
	return ch.io.reject(ch.id, d.DeliveryTag, requeue)
}
