package amqpio

import (
	"sync/atomic"
)

// The io loop is the only goroutine that touches connection state; callers
// talk to it exclusively through commands sent over a bounded channel. Each
// command carries a buffered reply channel of capacity one, so the io loop
// can answer (or fail) it without ever blocking.

type command interface {
	// fail answers the command with the io loop's terminal error. Called
	// during shutdown for every command still queued or in flight.
	fail(err *Error)
}

type cmdOpenChannel struct {
	id    *uint16 // nil requests automatic allocation
	reply chan openChannelReply
}

type openChannelReply struct {
	id  uint16
	err error
}

func (c *cmdOpenChannel) fail(err *Error) { c.reply <- openChannelReply{err: err} }

type cmdCloseConnection struct {
	reply chan error
}

func (c *cmdCloseConnection) fail(err *Error) { c.reply <- err }

type cmdSetBlockedTx struct {
	tx    chan BlockedNotification
	reply chan error
}

func (c *cmdSetBlockedTx) fail(err *Error) { c.reply <- err }

type cmdCloseChannel struct {
	channelID uint16
	reply     chan error
}

func (c *cmdCloseChannel) fail(err *Error) { c.reply <- err }

type cmdPublish struct {
	channelID  uint16
	exchange   string
	routingKey string
	mandatory  bool
	body       []byte
	props      Properties
	reply      chan error
}

func (c *cmdPublish) fail(err *Error) { c.reply <- err }

type cmdConsume struct {
	channelID uint16
	queue     string
	tag       string
	opts      ConsumeOptions
	reply     chan consumeReply
}

type consumeReply struct {
	tag        string
	deliveries <-chan Delivery
	err        error
}

func (c *cmdConsume) fail(err *Error) { c.reply <- consumeReply{err: err} }

type cmdCancelConsumer struct {
	channelID uint16
	tag       string
	reply     chan error
}

func (c *cmdCancelConsumer) fail(err *Error) { c.reply <- err }

type cmdGet struct {
	channelID uint16
	queue     string
	noAck     bool
	reply     chan getReply
}

type getReply struct {
	delivery *Delivery
	ok       bool
	err      error
}

func (c *cmdGet) fail(err *Error) { c.reply <- getReply{err: err} }

type cmdAck struct {
	channelID uint16
	tag       uint64
	multiple  bool
	reply     chan error
}

func (c *cmdAck) fail(err *Error) { c.reply <- err }

type cmdNack struct {
	channelID uint16
	tag       uint64
	multiple  bool
	requeue   bool
	reply     chan error
}

func (c *cmdNack) fail(err *Error) { c.reply <- err }

type cmdReject struct {
	channelID uint16
	tag       uint64
	requeue   bool
	reply     chan error
}

func (c *cmdReject) fail(err *Error) { c.reply <- err }

// engineHandle is the caller-side endpoint of the command plane. The
// Connection holds one as its channel-0 control handle and every Channel
// shares it for frame-sending operations.
type engineHandle struct {
	cmds  chan command
	done  chan struct{}
	term  *atomic.Pointer[Error]
	bound int
}

// terminal returns the io loop's terminal error. Only valid once done is
// closed; the io loop stores the error before closing done.
func (h *engineHandle) terminal() *Error {
	return h.term.Load()
}

func (h *engineHandle) submit(cmd command) error {
	select {
	case h.cmds <- cmd:
		return nil
	case <-h.done:
		return h.terminal()
	}
}

// call submits a command and blocks until its reply arrives or the io loop
// terminates. A reply sent just before termination is still preferred over
// the terminal error.
func call[T any](h *engineHandle, cmd command, reply <-chan T) (T, error) {
	var zero T
	if err := h.submit(cmd); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, h.terminal()
		}
	}
}

func (h *engineHandle) openChannel(id *uint16) (uint16, error) {
	cmd := &cmdOpenChannel{id: id, reply: make(chan openChannelReply, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return 0, err
	}
	return r.id, r.err
}

func (h *engineHandle) closeConnection() error {
	cmd := &cmdCloseConnection{reply: make(chan error, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return err
	}
	return r
}

func (h *engineHandle) setBlockedTx(tx chan BlockedNotification) error {
	cmd := &cmdSetBlockedTx{tx: tx, reply: make(chan error, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return err
	}
	return r
}

func (h *engineHandle) closeChannel(channelID uint16) error {
	cmd := &cmdCloseChannel{channelID: channelID, reply: make(chan error, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return err
	}
	return r
}

func (h *engineHandle) publish(channelID uint16, exchange, routingKey string, mandatory bool, body []byte, props Properties) error {
	cmd := &cmdPublish{
		channelID:  channelID,
		exchange:   exchange,
		routingKey: routingKey,
		mandatory:  mandatory,
		body:       body,
		props:      props,
		reply:      make(chan error, 1),
	}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return err
	}
	return r
}

func (h *engineHandle) consume(channelID uint16, queue, tag string, opts ConsumeOptions) (string, <-chan Delivery, error) {
	cmd := &cmdConsume{channelID: channelID, queue: queue, tag: tag, opts: opts, reply: make(chan consumeReply, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return "", nil, err
	}
	return r.tag, r.deliveries, r.err
}

func (h *engineHandle) cancelConsumer(channelID uint16, tag string) error {
	cmd := &cmdCancelConsumer{channelID: channelID, tag: tag, reply: make(chan error, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return err
	}
	return r
}

func (h *engineHandle) get(channelID uint16, queue string, noAck bool) (*Delivery, bool, error) {
	cmd := &cmdGet{channelID: channelID, queue: queue, noAck: noAck, reply: make(chan getReply, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return nil, false, err
	}
	return r.delivery, r.ok, r.err
}

func (h *engineHandle) ack(channelID uint16, tag uint64, multiple bool) error {
	cmd := &cmdAck{channelID: channelID, tag: tag, multiple: multiple, reply: make(chan error, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return err
	}
	return r
}

func (h *engineHandle) nack(channelID uint16, tag uint64, multiple, requeue bool) error {
	cmd := &cmdNack{channelID: channelID, tag: tag, multiple: multiple, requeue: requeue, reply: make(chan error, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return err
	}
	return r
}

func (h *engineHandle) reject(channelID uint16, tag uint64, requeue bool) error {
	cmd := &cmdReject{channelID: channelID, tag: tag, requeue: requeue, reply: make(chan error, 1)}
	r, err := call(h, cmd, cmd.reply)
	if err != nil {
		return err
	}
	return r
}
