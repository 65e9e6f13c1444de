package amqpio

import (
	"github.com/amqpio/amqpio/internal/frame"
)

// channelState is the io loop's private bookkeeping for one open channel.
// Synchronous AMQP methods are strictly request/response per channel, so at
// most one command can be in flight; later commands wait in the backlog.
type channelState struct {
	id        uint16
	rpc       command
	backlog   []command
	consumers map[string]chan Delivery
	asm       *assembly
}

// assembly accumulates one message body across header and body frames.
type assembly struct {
	kind        assemblyKind
	consumerTag string
	delivery    Delivery
	remaining   uint64
	awaitHeader bool
}

type assemblyKind int

const (
	asmDeliver assemblyKind = iota
	asmGetOk
	asmDiscard // e.g. basic.return content, which we drop
)

func (cs *channelState) failAll(err *Error) {
	if cs.rpc != nil {
		cs.rpc.fail(err)
		cs.rpc = nil
	}
	for _, cmd := range cs.backlog {
		cmd.fail(err)
	}
	cs.backlog = nil
	for tag, deliveries := range cs.consumers {
		close(deliveries)
		delete(cs.consumers, tag)
	}
}

// handleCommand executes one caller command. A non-nil return terminates
// the connection; per-channel failures are answered on the command's reply
// channel instead.
func (l *ioLoop) handleCommand(cmd command) *Error {
	switch c := cmd.(type) {
	case *cmdOpenChannel:
		return l.openChannelCmd(c)
	case *cmdCloseConnection:
		return l.closeConnectionCmd(c)
	case *cmdSetBlockedTx:
		if l.blockedTx != nil {
			// only the most recently registered listener is served
			close(l.blockedTx)
		}
		l.blockedTx = c.tx
		c.reply <- nil
		return nil
	case *cmdCloseChannel:
		return l.channelCmd(c.channelID, cmd)
	case *cmdPublish:
		return l.channelCmd(c.channelID, cmd)
	case *cmdConsume:
		return l.channelCmd(c.channelID, cmd)
	case *cmdCancelConsumer:
		return l.channelCmd(c.channelID, cmd)
	case *cmdGet:
		return l.channelCmd(c.channelID, cmd)
	case *cmdAck:
		return l.channelCmd(c.channelID, cmd)
	case *cmdNack:
		return l.channelCmd(c.channelID, cmd)
	case *cmdReject:
		return l.channelCmd(c.channelID, cmd)
	default:
		cmd.fail(newError(EventLoopClientDropped))
		return nil
	}
}

func (l *ioLoop) openChannelCmd(c *cmdOpenChannel) *Error {
	id, err := l.allocateChannelID(c.id)
	if err != nil {
		c.reply <- openChannelReply{err: err}
		return nil
	}

	cs := &channelState{
		id:        id,
		rpc:       c,
		consumers: make(map[string]chan Delivery),
	}
	l.channels[id] = cs
	delete(l.tombstones, id)

	b := frame.NewBuilder().ShortString("") // reserved
	if err := l.writeMethod(id, frame.ClassChannel, frame.ChannelOpen, b); err != nil {
		return wrapError(IO, err)
	}
	return nil
}

func (l *ioLoop) allocateChannelID(explicit *uint16) (uint16, *Error) {
	if explicit != nil {
		id := *explicit
		if id == 0 || id > l.channelMax {
			return 0, &Error{kind: UnavailableChannelId, channel: id}
		}
		if _, inUse := l.channels[id]; inUse {
			return 0, &Error{kind: UnavailableChannelId, channel: id}
		}
		return id, nil
	}

	// linear scan from the last allocation, wrapping once
	for offset := uint16(0); offset < l.channelMax; offset++ {
		id := (l.nextChannelID+offset)%l.channelMax + 1
		if _, inUse := l.channels[id]; !inUse {
			l.nextChannelID = id % l.channelMax
			return id, nil
		}
	}
	return 0, newError(ExhaustedChannelIds)
}

func (l *ioLoop) closeConnectionCmd(c *cmdCloseConnection) *Error {
	if l.closing != nil {
		// a second close while one is in flight cannot happen through
		// Connection (the join token is taken once); answer it anyway
		c.reply <- nil
		return nil
	}
	l.closing = c
	b := frame.NewBuilder().
		Short(frame.ReplySuccess).
		ShortString("goodbye").
		Short(0).
		Short(0)
	if err := l.writeMethod(0, frame.ClassConnection, frame.ConnectionClose, b); err != nil {
		return wrapError(IO, err)
	}
	return nil
}

// channelCmd routes a command to its channel, queueing it when another
// synchronous method is already awaiting a response on that channel.
func (l *ioLoop) channelCmd(channelID uint16, cmd command) *Error {
	cs, ok := l.channels[channelID]
	if !ok {
		if tomb, closed := l.tombstones[channelID]; closed {
			cmd.fail(tomb)
		} else {
			cmd.fail(newError(ClientClosedChannel))
		}
		return nil
	}
	if cs.rpc != nil {
		cs.backlog = append(cs.backlog, cmd)
		return nil
	}
	return l.executeChannelCmd(cs, cmd)
}

func (l *ioLoop) executeChannelCmd(cs *channelState, cmd command) *Error {
	switch c := cmd.(type) {
	case *cmdCloseChannel:
		b := frame.NewBuilder().
			Short(frame.ReplySuccess).
			ShortString("goodbye").
			Short(0).
			Short(0)
		return l.sendSyncMethod(cs, c, frame.ClassChannel, frame.ChannelClose, b)

	case *cmdPublish:
		return l.writePublish(cs.id, c)

	case *cmdConsume:
		b := frame.NewBuilder().
			Short(0). // reserved
			ShortString(c.queue).
			ShortString(c.tag).
			Bits(c.opts.NoLocal, c.opts.NoAck, c.opts.Exclusive, false).
			Table(map[string]any(c.opts.Arguments))
		return l.sendSyncMethod(cs, c, frame.ClassBasic, frame.BasicConsume, b)

	case *cmdCancelConsumer:
		b := frame.NewBuilder().ShortString(c.tag).Bits(false)
		return l.sendSyncMethod(cs, c, frame.ClassBasic, frame.BasicCancel, b)

	case *cmdGet:
		b := frame.NewBuilder().Short(0).ShortString(c.queue).Bits(c.noAck)
		return l.sendSyncMethod(cs, c, frame.ClassBasic, frame.BasicGet, b)

	case *cmdAck:
		b := frame.NewBuilder().LongLong(c.tag).Bits(c.multiple)
		return l.sendAsyncMethod(cs, c.reply, frame.BasicAck, b)

	case *cmdNack:
		b := frame.NewBuilder().LongLong(c.tag).Bits(c.multiple, c.requeue)
		return l.sendAsyncMethod(cs, c.reply, frame.BasicNack, b)

	case *cmdReject:
		b := frame.NewBuilder().LongLong(c.tag).Bits(c.requeue)
		return l.sendAsyncMethod(cs, c.reply, frame.BasicReject, b)

	default:
		cmd.fail(newError(EventLoopClientDropped))
	}
	return nil
}

// sendSyncMethod writes a synchronous method and parks the command as the
// channel's in-flight rpc. Argument encoding failures come from caller
// input (oversized names, unsupported table values) and fail only the
// command; write failures are connection-fatal.
func (l *ioLoop) sendSyncMethod(cs *channelState, cmd command, classID, methodID uint16, b *frame.Builder) *Error {
	args, err := b.Bytes()
	if err != nil {
		cmd.fail(wrapError(ClientException, err))
		return nil
	}
	if err := l.writeFrame(frame.NewMethod(cs.id, classID, methodID, args)); err != nil {
		return wrapError(IO, err)
	}
	cs.rpc = cmd
	return nil
}

// sendAsyncMethod writes a method with no broker response and answers the
// command as soon as it is accepted for sending.
func (l *ioLoop) sendAsyncMethod(cs *channelState, reply chan<- error, methodID uint16, b *frame.Builder) *Error {
	args, err := b.Bytes()
	if err != nil {
		reply <- wrapError(ClientException, err)
		return nil
	}
	if err := l.writeFrame(frame.NewMethod(cs.id, frame.ClassBasic, methodID, args)); err != nil {
		return wrapError(IO, err)
	}
	reply <- nil
	return nil
}

func (l *ioLoop) writePublish(channelID uint16, c *cmdPublish) *Error {
	b := frame.NewBuilder().
		Short(0). // reserved
		ShortString(c.exchange).
		ShortString(c.routingKey).
		Bits(c.mandatory, false)
	args, err := b.Bytes()
	if err != nil {
		c.reply <- wrapError(ClientException, err)
		return nil
	}
	header, err := frame.NewContentHeader(channelID, uint64(len(c.body)), c.props.wire())
	if err != nil {
		c.reply <- wrapError(ClientException, err)
		return nil
	}

	if err := l.writeFrame(frame.NewMethod(channelID, frame.ClassBasic, frame.BasicPublish, args)); err != nil {
		return wrapError(IO, err)
	}
	if err := l.writeFrame(header); err != nil {
		return wrapError(IO, err)
	}

	// body split at frame-max minus frame overhead
	chunk := int(l.frameMax) - 8
	for body := c.body; len(body) > 0; {
		n := len(body)
		if n > chunk {
			n = chunk
		}
		if err := l.writeFrame(frame.NewBody(channelID, body[:n])); err != nil {
			return wrapError(IO, err)
		}
		body = body[n:]
	}

	// accepted for sending; the protocol carries no broker confirmation
	// for plain publishes
	c.reply <- nil
	return nil
}

// drainBacklog runs queued commands after a synchronous method completed.
func (l *ioLoop) drainBacklog(cs *channelState) *Error {
	for cs.rpc == nil && len(cs.backlog) > 0 {
		next := cs.backlog[0]
		cs.backlog = cs.backlog[1:]
		if term := l.executeChannelCmd(cs, next); term != nil {
			return term
		}
	}
	return nil
}

// handleFrame dispatches one inbound frame. A non-nil return terminates
// the connection.
func (l *ioLoop) handleFrame(f *frame.Frame) *Error {
	if f.Type == frame.TypeHeartbeat {
		return nil
	}
	if f.Channel == 0 {
		return l.handleChannel0Frame(f)
	}

	cs, ok := l.channels[f.Channel]
	if !ok {
		return &Error{kind: ReceivedFrameWithBogusChannelId, channel: f.Channel}
	}

	switch f.Type {
	case frame.TypeMethod:
		m, err := f.Method()
		if err != nil {
			return wrapError(MalformedFrame, err)
		}
		return l.handleChannelMethod(cs, m)
	case frame.TypeHeader:
		return l.handleContentHeader(cs, f)
	case frame.TypeBody:
		return l.handleContentBody(cs, f)
	default:
		return newError(FrameUnexpected)
	}
}

func (l *ioLoop) handleChannel0Frame(f *frame.Frame) *Error {
	m, err := f.Method()
	if err != nil {
		return wrapError(MalformedFrame, err)
	}
	if m.ClassID != frame.ClassConnection {
		return newError(FrameUnexpected)
	}

	switch m.MethodID {
	case frame.ConnectionClose:
		r := frame.NewReader(m.Args)
		code := r.Short()
		text := r.ShortString()
		if err := r.Err(); err != nil {
			return wrapError(MalformedFrame, err)
		}
		// best effort; the server is tearing us down either way
		_ = l.writeMethod(0, frame.ClassConnection, frame.ConnectionCloseOk, frame.NewBuilder())
		_ = l.flush()
		return newClosedError(ServerClosedConnection, 0, code, text)

	case frame.ConnectionCloseOk:
		if l.closing == nil {
			return newError(FrameUnexpected)
		}
		l.closing.reply <- nil
		l.closing = nil
		l.stopped = true
		return nil

	case frame.ConnectionBlocked:
		r := frame.NewReader(m.Args)
		reason := r.ShortString()
		if err := r.Err(); err != nil {
			return wrapError(MalformedFrame, err)
		}
		l.notifyBlocked(BlockedNotification{Blocked: true, Reason: reason})
		return nil

	case frame.ConnectionUnblocked:
		l.notifyBlocked(BlockedNotification{Blocked: false})
		return nil

	default:
		return newError(FrameUnexpected)
	}
}

func (l *ioLoop) notifyBlocked(n BlockedNotification) {
	if l.blockedTx == nil {
		return
	}
	select {
	case l.blockedTx <- n:
	default:
		l.log.Warn("dropping blocked notification, listener not keeping up")
	}
}

func (l *ioLoop) handleChannelMethod(cs *channelState, m frame.Method) *Error {
	switch m.ClassID {
	case frame.ClassChannel:
		return l.handleChannelClassMethod(cs, m)
	case frame.ClassBasic:
		return l.handleBasicClassMethod(cs, m)
	default:
		return newError(FrameUnexpected)
	}
}

func (l *ioLoop) handleChannelClassMethod(cs *channelState, m frame.Method) *Error {
	switch m.MethodID {
	case frame.ChannelOpenOk:
		open, ok := cs.rpc.(*cmdOpenChannel)
		if !ok {
			return newError(FrameUnexpected)
		}
		cs.rpc = nil
		open.reply <- openChannelReply{id: cs.id}
		return l.drainBacklog(cs)

	case frame.ChannelCloseOk:
		closeCmd, ok := cs.rpc.(*cmdCloseChannel)
		if !ok {
			return newError(FrameUnexpected)
		}
		cs.rpc = nil
		l.removeChannel(cs, newError(ClientClosedChannel))
		closeCmd.reply <- nil
		return nil

	case frame.ChannelClose:
		r := frame.NewReader(m.Args)
		code := r.Short()
		text := r.ShortString()
		if err := r.Err(); err != nil {
			return wrapError(MalformedFrame, err)
		}
		if err := l.writeMethod(cs.id, frame.ClassChannel, frame.ChannelCloseOk, frame.NewBuilder()); err != nil {
			return wrapError(IO, err)
		}
		l.removeChannel(cs, newClosedError(ServerClosedChannel, cs.id, code, text))
		return nil

	case frame.ChannelFlow:
		r := frame.NewReader(m.Args)
		active := r.Bit()
		if err := r.Err(); err != nil {
			return wrapError(MalformedFrame, err)
		}
		b := frame.NewBuilder().Bits(active)
		if err := l.writeMethod(cs.id, frame.ClassChannel, frame.ChannelFlowOk, b); err != nil {
			return wrapError(IO, err)
		}
		return nil

	default:
		return newError(FrameUnexpected)
	}
}

// removeChannel retires a channel, failing its waiters with cause and
// leaving a tombstone so later commands report the same root cause.
func (l *ioLoop) removeChannel(cs *channelState, cause *Error) {
	cs.failAll(cause)
	delete(l.channels, cs.id)
	l.tombstones[cs.id] = cause
}

func (l *ioLoop) handleBasicClassMethod(cs *channelState, m frame.Method) *Error {
	switch m.MethodID {
	case frame.BasicConsumeOk:
		consume, ok := cs.rpc.(*cmdConsume)
		if !ok {
			return newError(FrameUnexpected)
		}
		r := frame.NewReader(m.Args)
		tag := r.ShortString()
		if err := r.Err(); err != nil {
			return wrapError(MalformedFrame, err)
		}
		cs.rpc = nil
		if _, dup := cs.consumers[tag]; dup {
			return &Error{kind: DuplicateConsumerTag, channel: cs.id, detail: tag}
		}
		deliveries := make(chan Delivery, l.tuning.MemChannelBound)
		cs.consumers[tag] = deliveries
		consume.reply <- consumeReply{tag: tag, deliveries: deliveries}
		return l.drainBacklog(cs)

	case frame.BasicCancelOk:
		cancel, ok := cs.rpc.(*cmdCancelConsumer)
		if !ok {
			return newError(FrameUnexpected)
		}
		cs.rpc = nil
		if deliveries, found := cs.consumers[cancel.tag]; found {
			close(deliveries)
			delete(cs.consumers, cancel.tag)
		}
		cancel.reply <- nil
		return l.drainBacklog(cs)

	case frame.BasicDeliver:
		r := frame.NewReader(m.Args)
		consumerTag := r.ShortString()
		deliveryTag := r.LongLong()
		redelivered := r.Bit()
		exchange := r.ShortString()
		routingKey := r.ShortString()
		if err := r.Err(); err != nil {
			return wrapError(MalformedFrame, err)
		}
		cs.asm = &assembly{
			kind:        asmDeliver,
			consumerTag: consumerTag,
			awaitHeader: true,
			delivery: Delivery{
				channelID:   cs.id,
				ConsumerTag: consumerTag,
				DeliveryTag: deliveryTag,
				Redelivered: redelivered,
				Exchange:    exchange,
				RoutingKey:  routingKey,
			},
		}
		return nil

	case frame.BasicGetOk:
		if _, ok := cs.rpc.(*cmdGet); !ok {
			return newError(FrameUnexpected)
		}
		r := frame.NewReader(m.Args)
		deliveryTag := r.LongLong()
		redelivered := r.Bit()
		exchange := r.ShortString()
		routingKey := r.ShortString()
		messageCount := r.Long()
		if err := r.Err(); err != nil {
			return wrapError(MalformedFrame, err)
		}
		// rpc stays set until the content is fully assembled
		cs.asm = &assembly{
			kind:        asmGetOk,
			awaitHeader: true,
			delivery: Delivery{
				channelID:    cs.id,
				DeliveryTag:  deliveryTag,
				Redelivered:  redelivered,
				Exchange:     exchange,
				RoutingKey:   routingKey,
				MessageCount: messageCount,
			},
		}
		return nil

	case frame.BasicGetEmpty:
		get, ok := cs.rpc.(*cmdGet)
		if !ok {
			return newError(FrameUnexpected)
		}
		cs.rpc = nil
		get.reply <- getReply{ok: false}
		return l.drainBacklog(cs)

	case frame.BasicReturn:
		// mandatory publish bounced; no confirm bookkeeping here, so the
		// content is assembled and dropped
		cs.asm = &assembly{kind: asmDiscard, awaitHeader: true}
		return nil

	default:
		return newError(FrameUnexpected)
	}
}

func (l *ioLoop) handleContentHeader(cs *channelState, f *frame.Frame) *Error {
	if cs.asm == nil || !cs.asm.awaitHeader {
		return newError(FrameUnexpected)
	}
	h, err := frame.ParseContentHeader(f)
	if err != nil {
		return wrapError(MalformedFrame, err)
	}
	cs.asm.awaitHeader = false
	cs.asm.remaining = h.BodySize
	cs.asm.delivery.Properties = propertiesFromWire(h.Props)
	if h.BodySize > 0 {
		cs.asm.delivery.Body = make([]byte, 0, h.BodySize)
	}
	if cs.asm.remaining == 0 {
		return l.completeAssembly(cs)
	}
	return nil
}

func (l *ioLoop) handleContentBody(cs *channelState, f *frame.Frame) *Error {
	asm := cs.asm
	if asm == nil || asm.awaitHeader {
		return newError(FrameUnexpected)
	}
	if uint64(len(f.Payload)) > asm.remaining {
		return newError(FrameUnexpected)
	}
	asm.delivery.Body = append(asm.delivery.Body, f.Payload...)
	asm.remaining -= uint64(len(f.Payload))
	if asm.remaining == 0 {
		return l.completeAssembly(cs)
	}
	return nil
}

func (l *ioLoop) completeAssembly(cs *channelState) *Error {
	asm := cs.asm
	cs.asm = nil

	switch asm.kind {
	case asmDeliver:
		deliveries, ok := cs.consumers[asm.consumerTag]
		if !ok {
			return &Error{kind: UnknownConsumerTag, channel: cs.id, detail: asm.consumerTag}
		}
		// a full consumer channel intentionally stalls the io loop;
		// MemChannelBound is the backpressure knob
		deliveries <- asm.delivery
		return nil

	case asmGetOk:
		get, ok := cs.rpc.(*cmdGet)
		if !ok {
			return newError(FrameUnexpected)
		}
		cs.rpc = nil
		d := asm.delivery
		get.reply <- getReply{delivery: &d, ok: true}
		return l.drainBacklog(cs)

	default:
		return nil
	}
}
