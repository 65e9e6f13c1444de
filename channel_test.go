package amqpio_test

import (
	"strings"
	"testing"
	"time"

	"github.com/amqpio/amqpio"
	"github.com/amqpio/amqpio/internal/testserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestChannel(t *testing.T) (*testserver.Server, *amqpio.Connection, *amqpio.Channel) {
	t.Helper()
	srv := testserver.New(t)
	conn := dialTestServer(t, srv, amqpio.DefaultConnectionTuning())
	t.Cleanup(func() { _ = conn.Close() })

	ch, err := conn.OpenChannel(0)
	require.NoError(t, err)
	return srv, conn, ch
}

func receiveDelivery(t *testing.T, consumer *amqpio.Consumer) amqpio.Delivery {
	t.Helper()
	select {
	case d, ok := <-consumer.Deliveries():
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery within deadline")
		return amqpio.Delivery{}
	}
}

func TestPublishReachesServer(t *testing.T) {
	t.Parallel()

	srv, _, ch := openTestChannel(t)

	err := ch.Publish("orders", "orders.created", []byte(`{"id":1}`), amqpio.PublishOptions{
		Mandatory: true,
		Properties: amqpio.Properties{
			ContentType:   "application/json",
			DeliveryMode:  2,
			CorrelationID: "corr-7",
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(srv.Published()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	p := srv.Published()[0]
	assert.Equal(t, ch.ChannelID(), p.Channel)
	assert.Equal(t, "orders", p.Exchange)
	assert.Equal(t, "orders.created", p.RoutingKey)
	assert.True(t, p.Mandatory)
	assert.Equal(t, []byte(`{"id":1}`), p.Body)
	assert.Equal(t, "application/json", p.Props.ContentType)
	assert.Equal(t, uint8(2), p.Props.DeliveryMode)
	assert.Equal(t, "corr-7", p.Props.CorrelationID)
}

func TestConsumeDeliverAndAck(t *testing.T) {
	t.Parallel()

	srv, _, ch := openTestChannel(t)

	consumer, err := ch.Consume("work", amqpio.ConsumeOptions{Tag: "worker-1"})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", consumer.Tag())

	tag := srv.Deliver([]byte("payload"))

	d := receiveDelivery(t, consumer)
	assert.Equal(t, "worker-1", d.ConsumerTag)
	assert.Equal(t, tag, d.DeliveryTag)
	assert.Equal(t, []byte("payload"), d.Body)

	require.NoError(t, d.Ack(ch, false))
	require.Eventually(t, func() bool {
		return len(srv.Acks()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	ack := srv.Acks()[0]
	assert.Equal(t, ch.ChannelID(), ack.Channel)
	assert.Equal(t, tag, ack.DeliveryTag)
	assert.False(t, ack.Multiple)
}

func TestNackAndRejectForwardFlags(t *testing.T) {
	t.Parallel()

	srv, _, ch := openTestChannel(t)

	consumer, err := ch.Consume("work", amqpio.ConsumeOptions{})
	require.NoError(t, err)

	srv.Deliver([]byte("first"))
	srv.Deliver([]byte("second"))

	first := receiveDelivery(t, consumer)
	second := receiveDelivery(t, consumer)

	require.NoError(t, first.Nack(ch, true, true))
	require.NoError(t, second.Reject(ch, false))

	require.Eventually(t, func() bool {
		return len(srv.Nacks()) == 1 && len(srv.Rejects()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	nack := srv.Nacks()[0]
	assert.Equal(t, first.DeliveryTag, nack.DeliveryTag)
	assert.True(t, nack.Multiple)
	assert.True(t, nack.Requeue)

	reject := srv.Rejects()[0]
	assert.Equal(t, second.DeliveryTag, reject.DeliveryTag)
	assert.False(t, reject.Requeue)
}

func TestConsumeGeneratesTag(t *testing.T) {
	t.Parallel()

	_, _, ch := openTestChannel(t)

	consumer, err := ch.Consume("work", amqpio.ConsumeOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(consumer.Tag(), "amqpio-"), "tag %q", consumer.Tag())
}

func TestConsumerCancelClosesDeliveries(t *testing.T) {
	t.Parallel()

	_, _, ch := openTestChannel(t)

	consumer, err := ch.Consume("work", amqpio.ConsumeOptions{})
	require.NoError(t, err)

	require.NoError(t, consumer.Cancel())

	_, open := <-consumer.Deliveries()
	assert.False(t, open)
}

func TestDeliverSkipsClosedChannelConsumers(t *testing.T) {
	t.Parallel()

	srv, conn, ch := openTestChannel(t)

	live, err := ch.Consume("work", amqpio.ConsumeOptions{Tag: "live"})
	require.NoError(t, err)

	ch2, err := conn.OpenChannel(0)
	require.NoError(t, err)
	_, err = ch2.Consume("work", amqpio.ConsumeOptions{Tag: "doomed"})
	require.NoError(t, err)

	// closing the channel retires its consumers server-side, so the
	// delivery lands on the remaining live consumer
	require.NoError(t, ch2.Close())

	tag := srv.Deliver([]byte("still here"))
	d := receiveDelivery(t, live)
	assert.Equal(t, "live", d.ConsumerTag)
	assert.Equal(t, tag, d.DeliveryTag)
	assert.Equal(t, []byte("still here"), d.Body)
}

func TestDuplicateConsumerTagTerminatesConnection(t *testing.T) {
	t.Parallel()

	_, conn, ch := openTestChannel(t)

	_, err := ch.Consume("work", amqpio.ConsumeOptions{Tag: "worker-1"})
	require.NoError(t, err)

	_, err = ch.Consume("work", amqpio.ConsumeOptions{Tag: "worker-1"})
	require.Error(t, err)
	e := asClientError(t, err)
	assert.Equal(t, amqpio.DuplicateConsumerTag, e.Kind())
	assert.Equal(t, "worker-1", e.Detail())

	// Close reports the identical root cause instance
	closeErr := conn.Close()
	require.Error(t, closeErr)
	assert.Same(t, e, asClientError(t, closeErr))
}

func TestUnknownConsumerTagTerminatesConnection(t *testing.T) {
	t.Parallel()

	srv, conn, ch := openTestChannel(t)

	srv.InjectDelivery(ch.ChannelID(), "ghost", []byte("stray"))

	require.Eventually(t, func() bool {
		err := ch.Publish("", "q", []byte("late"), amqpio.PublishOptions{})
		return amqpio.IsKind(err, amqpio.UnknownConsumerTag)
	}, 5*time.Second, 10*time.Millisecond)

	closeErr := conn.Close()
	require.Error(t, closeErr)
	e := asClientError(t, closeErr)
	assert.Equal(t, amqpio.UnknownConsumerTag, e.Kind())
	assert.Equal(t, "ghost", e.Detail())
	assert.Equal(t, ch.ChannelID(), e.ChannelID())
}

func TestGet(t *testing.T) {
	t.Parallel()

	srv, _, ch := openTestChannel(t)
	srv.Enqueue("inbox", []byte("one"))
	srv.Enqueue("inbox", []byte("two"))

	d, ok, err := ch.Get("inbox", false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), d.Body)
	assert.Equal(t, uint32(1), d.MessageCount)
	assert.Equal(t, "inbox", d.RoutingKey)

	require.NoError(t, d.Ack(ch, false))

	d, ok, err = ch.Get("inbox", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("two"), d.Body)

	d, ok, err = ch.Get("empty", true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, d)
}

func TestUnencodableArgumentsFailOnlyTheCall(t *testing.T) {
	t.Parallel()

	srv, _, ch := openTestChannel(t)

	type unsupported struct{}
	_, err := ch.Consume("work", amqpio.ConsumeOptions{
		Arguments: amqpio.Table{"bad": unsupported{}},
	})
	assert.True(t, amqpio.IsKind(err, amqpio.ClientException), "got %v", err)

	err = ch.Publish("", "q", []byte("ok"), amqpio.PublishOptions{
		Properties: amqpio.Properties{Headers: amqpio.Table{"bad": unsupported{}}},
	})
	assert.True(t, amqpio.IsKind(err, amqpio.ClientException), "got %v", err)

	// the connection survives caller-input encoding failures
	require.NoError(t, ch.Publish("", "q", []byte("ok"), amqpio.PublishOptions{}))
	require.Eventually(t, func() bool {
		return len(srv.Published()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestChannelCloseThenUse(t *testing.T) {
	t.Parallel()

	_, _, ch := openTestChannel(t)

	require.NoError(t, ch.Close())

	err := ch.Publish("", "q", []byte("late"), amqpio.PublishOptions{})
	assert.True(t, amqpio.IsKind(err, amqpio.ClientClosedChannel), "got %v", err)

	_, _, err = ch.Get("q", true)
	assert.True(t, amqpio.IsKind(err, amqpio.ClientClosedChannel))
}

func TestChannelCloseClosesConsumers(t *testing.T) {
	t.Parallel()

	_, _, ch := openTestChannel(t)

	consumer, err := ch.Consume("work", amqpio.ConsumeOptions{})
	require.NoError(t, err)

	require.NoError(t, ch.Close())

	_, open := <-consumer.Deliveries()
	assert.False(t, open)
}

func TestConnectionCloseClosesConsumers(t *testing.T) {
	t.Parallel()

	srv, conn, ch := openTestChannel(t)

	consumer, err := ch.Consume("work", amqpio.ConsumeOptions{})
	require.NoError(t, err)

	srv.Deliver([]byte("in flight"))
	d := receiveDelivery(t, consumer)
	assert.Equal(t, []byte("in flight"), d.Body)

	require.NoError(t, conn.Close())

	_, open := <-consumer.Deliveries()
	assert.False(t, open)
}

func TestLargeBodySplitsAcrossFrames(t *testing.T) {
	t.Parallel()

	srv, _, ch := openTestChannel(t)

	// larger than the negotiated frame-max, so the body spans frames
	body := make([]byte, 300*1024)
	for i := range body {
		body[i] = byte(i)
	}
	require.NoError(t, ch.Publish("", "bulk", body, amqpio.PublishOptions{}))

	require.Eventually(t, func() bool {
		return len(srv.Published()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, body, srv.Published()[0].Body)
}
