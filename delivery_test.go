package amqpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackCall struct {
	channelID uint16
	tag       uint64
	multiple  bool
	requeue   bool
}

// recordingIO captures acknowledgement calls without an io loop behind it.
type recordingIO struct {
	acks    []ackCall
	nacks   []ackCall
	rejects []ackCall
}

func (r *recordingIO) closeChannel(uint16) error { return nil }
func (r *recordingIO) publish(uint16, string, string, bool, []byte, Properties) error {
	return nil
}
func (r *recordingIO) consume(uint16, string, string, ConsumeOptions) (string, <-chan Delivery, error) {
	return "", nil, nil
}
func (r *recordingIO) cancelConsumer(uint16, string) error { return nil }
func (r *recordingIO) get(uint16, string, bool) (*Delivery, bool, error) {
	return nil, false, nil
}

func (r *recordingIO) ack(channelID uint16, tag uint64, multiple bool) error {
	r.acks = append(r.acks, ackCall{channelID: channelID, tag: tag, multiple: multiple})
	return nil
}

func (r *recordingIO) nack(channelID uint16, tag uint64, multiple, requeue bool) error {
	r.nacks = append(r.nacks, ackCall{channelID: channelID, tag: tag, multiple: multiple, requeue: requeue})
	return nil
}

func (r *recordingIO) reject(channelID uint16, tag uint64, requeue bool) error {
	r.rejects = append(r.rejects, ackCall{channelID: channelID, tag: tag, requeue: requeue})
	return nil
}

func TestDeliveryAckForwardsFlags(t *testing.T) {
	t.Parallel()

	rec := &recordingIO{}
	ch := &Channel{id: 3, io: rec}
	d := Delivery{channelID: 3, DeliveryTag: 42}

	require.NoError(t, d.Ack(ch, true))
	require.Len(t, rec.acks, 1)
	assert.Equal(t, ackCall{channelID: 3, tag: 42, multiple: true}, rec.acks[0])
}

func TestDeliveryNackForwardsFlags(t *testing.T) {
	t.Parallel()

	rec := &recordingIO{}
	ch := &Channel{id: 2, io: rec}
	d := Delivery{channelID: 2, DeliveryTag: 7}

	require.NoError(t, d.Nack(ch, true, true))
	require.Len(t, rec.nacks, 1)
	assert.Equal(t, ackCall{channelID: 2, tag: 7, multiple: true, requeue: true}, rec.nacks[0])
}

func TestDeliveryRejectForwardsFlags(t *testing.T) {
	t.Parallel()

	rec := &recordingIO{}
	ch := &Channel{id: 9, io: rec}
	d := Delivery{channelID: 9, DeliveryTag: 13}

	require.NoError(t, d.Reject(ch, false))
	require.Len(t, rec.rejects, 1)
	assert.Equal(t, ackCall{channelID: 9, tag: 13}, rec.rejects[0])
}

func TestDeliveryPanicsOnForeignChannel(t *testing.T) {
	t.Parallel()

	rec := &recordingIO{}
	ch := &Channel{id: 2, io: rec}
	d := Delivery{channelID: 1, DeliveryTag: 1}

	assert.PanicsWithValue(t,
		"cannot ack delivery on different channel (delivery channel = 1, ack channel = 2)",
		func() { _ = d.Ack(ch, false) })
	assert.Panics(t, func() { _ = d.Nack(ch, false, false) })
	assert.Panics(t, func() { _ = d.Reject(ch, false) })

	// nothing may have reached the io layer
	assert.Empty(t, rec.acks)
	assert.Empty(t, rec.nacks)
	assert.Empty(t, rec.rejects)
}
