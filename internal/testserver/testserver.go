// Package testserver is a minimal in-process AMQP 0-9-1 broker used by the
// client tests. It speaks just enough of the protocol to negotiate a
// connection, manage channels and consumers, record acknowledgements and
// inject server-initiated events (blocked notifications, forced closes).
package testserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/amqpio/amqpio/internal/frame"
)

// Ack, Nack and Reject records capture exactly what the client sent.
type Ack struct {
	Channel     uint16
	DeliveryTag uint64
	Multiple    bool
}

type Nack struct {
	Channel     uint16
	DeliveryTag uint64
	Multiple    bool
	Requeue     bool
}

type Reject struct {
	Channel     uint16
	DeliveryTag uint64
	Requeue     bool
}

// Published is one message the client published.
type Published struct {
	Channel    uint16
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Props      frame.BasicProperties
	Body       []byte
}

type consumer struct {
	channel uint16
	tag     string
}

type Option func(*Server)

// WithMechanisms overrides the advertised SASL mechanisms.
func WithMechanisms(mechanisms string) Option {
	return func(s *Server) { s.mechanisms = mechanisms }
}

// WithLocales overrides the advertised locales.
func WithLocales(locales string) Option {
	return func(s *Server) { s.locales = locales }
}

// WithFrameMax overrides the frame-max sent in connection.tune.
func WithFrameMax(frameMax uint32) Option {
	return func(s *Server) { s.frameMax = frameMax }
}

// WithChannelMax overrides the channel-max sent in connection.tune.
func WithChannelMax(channelMax uint16) Option {
	return func(s *Server) { s.channelMax = channelMax }
}

// WithHeartbeat overrides the heartbeat seconds sent in connection.tune.
func WithHeartbeat(seconds uint16) Option {
	return func(s *Server) { s.heartbeat = seconds }
}

// WithRefusedAuth makes the server reject start-ok with a 403 close.
func WithRefusedAuth() Option {
	return func(s *Server) { s.refuseAuth = true }
}

// WithDropAfterAccept makes the server close every accepted socket
// immediately, before any protocol exchange.
func WithDropAfterAccept() Option {
	return func(s *Server) { s.dropAfterAccept = true }
}

// WithSecureChallenge makes the server answer start-ok with a
// connection.secure challenge instead of tune.
func WithSecureChallenge() Option {
	return func(s *Server) { s.secureChallenge = true }
}

// Server is the fake broker. One Server handles one client connection at a
// time; tests drive server-side behavior through the inject methods.
type Server struct {
	t  *testing.T
	ln net.Listener

	mechanisms string
	locales    string
	frameMax   uint32
	channelMax uint16
	heartbeat  uint16

	refuseAuth      bool
	dropAfterAccept bool
	secureChallenge bool

	mu          sync.Mutex
	conn        net.Conn
	consumers   []consumer
	acks        []Ack
	nacks       []Nack
	rejects     []Reject
	published   []Published
	queues      map[string][][]byte
	deliveryTag uint64
	consumerSeq int

	connReady     chan struct{}
	connReadyOnce sync.Once
	consumerReady chan struct{}
	done          chan struct{}
}

func New(t *testing.T, opts ...Option) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("testserver listen: %v", err)
	}

	s := &Server{
		t:             t,
		ln:            ln,
		mechanisms:    "PLAIN AMQPLAIN",
		locales:       "en_US",
		frameMax:      128 * 1024,
		channelMax:    2047,
		queues:        map[string][][]byte{},
		connReady:     make(chan struct{}),
		consumerReady: make(chan struct{}, 16),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	_ = s.ln.Close()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		if s.dropAfterAccept {
			_ = conn.Close()
			continue
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.serve(conn)
	}
}

// Acks, Nacks, Rejects and Published return copies of the recorded client
// traffic.
func (s *Server) Acks() []Ack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Ack(nil), s.acks...)
}

func (s *Server) Nacks() []Nack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Nack(nil), s.nacks...)
}

func (s *Server) Rejects() []Reject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reject(nil), s.rejects...)
}

func (s *Server) Published() []Published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Published(nil), s.published...)
}

// Enqueue seeds a message for basic.get.
func (s *Server) Enqueue(queue string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queue] = append(s.queues[queue], body)
}

// Deliver pushes one message to the most recently registered consumer,
// waiting for a consumer to appear first. It returns the delivery tag used.
func (s *Server) Deliver(body []byte) uint64 {
	s.t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		s.mu.Lock()
		if len(s.consumers) > 0 {
			c := s.consumers[len(s.consumers)-1]
			s.deliveryTag++
			tag := s.deliveryTag
			s.mu.Unlock()
			s.sendDeliver(c.channel, c.tag, tag, body)
			return tag
		}
		s.mu.Unlock()

		select {
		case <-s.consumerReady:
		case <-deadline:
			s.t.Fatal("no consumer registered within deadline")
			return 0
		}
	}
}

// InjectDelivery pushes content for an arbitrary consumer tag on an
// arbitrary channel, bypassing the consumer registry. For protocol
// violation tests.
func (s *Server) InjectDelivery(channel uint16, tag string, body []byte) uint64 {
	s.mu.Lock()
	s.deliveryTag++
	deliveryTag := s.deliveryTag
	s.mu.Unlock()
	s.sendDeliver(channel, tag, deliveryTag, body)
	return deliveryTag
}

func (s *Server) sendDeliver(channel uint16, tag string, deliveryTag uint64, body []byte) {
	s.sendContent(channel, func() *frame.Frame {
		args, _ := frame.NewBuilder().
			ShortString(tag).
			LongLong(deliveryTag).
			Bits(false). // redelivered
			ShortString("").
			ShortString("").
			Bytes()
		return frame.NewMethod(channel, frame.ClassBasic, frame.BasicDeliver, args)
	}, body)
}

// Block injects connection.blocked with the given reason.
func (s *Server) Block(reason string) {
	args, _ := frame.NewBuilder().ShortString(reason).Bytes()
	s.send(frame.NewMethod(0, frame.ClassConnection, frame.ConnectionBlocked, args))
}

// Unblock injects connection.unblocked.
func (s *Server) Unblock() {
	s.send(frame.NewMethod(0, frame.ClassConnection, frame.ConnectionUnblocked, nil))
}

// InjectMethod writes an arbitrary method frame, for protocol violation
// tests.
func (s *Server) InjectMethod(channel, classID, methodID uint16, args []byte) {
	s.send(frame.NewMethod(channel, classID, methodID, args))
}

// ForceClose injects a server-initiated connection.close.
func (s *Server) ForceClose(code uint16, text string) {
	args, _ := frame.NewBuilder().
		Short(code).
		ShortString(text).
		Short(0).
		Short(0).
		Bytes()
	s.send(frame.NewMethod(0, frame.ClassConnection, frame.ConnectionClose, args))
}

// AwaitConnection blocks until a client completed the handshake.
func (s *Server) AwaitConnection() {
	s.t.Helper()
	select {
	case <-s.connReady:
	case <-time.After(5 * time.Second):
		s.t.Fatal("no client connected within deadline")
	}
}

func (s *Server) send(f *frame.Frame) {
	s.t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.t.Fatal("no active connection")
	}
	if err := frame.Write(conn, f); err != nil {
		select {
		case <-s.done:
		default:
			s.t.Logf("testserver write: %v", err)
		}
	}
}

func (s *Server) sendContent(channel uint16, method func() *frame.Frame, body []byte) {
	s.send(method())
	header, err := frame.NewContentHeader(channel, uint64(len(body)), frame.BasicProperties{})
	if err != nil {
		s.t.Fatalf("testserver content header: %v", err)
	}
	s.send(header)
	if len(body) > 0 {
		s.send(frame.NewBody(channel, body))
	}
}

// serve runs the protocol for one accepted connection until it ends.
func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	if err := s.handshake(conn); err != nil {
		return
	}
	s.connReadyOnce.Do(func() { close(s.connReady) })

	for {
		f, err := frame.Read(conn, 0)
		if err != nil {
			return
		}
		if done := s.handleFrame(conn, f); done {
			return
		}
	}
}

func (s *Server) handshake(conn net.Conn) error {
	header := make([]byte, 8)
	if _, err := readFull(conn, header); err != nil {
		return err
	}
	if string(header) != frame.ProtocolHeader {
		return errors.New("bad protocol header")
	}

	startArgs, _ := frame.NewBuilder().
		Octet(0).
		Octet(9).
		Table(map[string]any{
			"product": "testserver",
			"capabilities": map[string]any{
				"connection.blocked": true,
			},
		}).
		LongString([]byte(s.mechanisms)).
		LongString([]byte(s.locales)).
		Bytes()
	if err := frame.Write(conn, frame.NewMethod(0, frame.ClassConnection, frame.ConnectionStart, startArgs)); err != nil {
		return err
	}

	if _, err := s.expectMethod(conn, frame.ClassConnection, frame.ConnectionStartOk); err != nil {
		return err
	}

	if s.refuseAuth {
		closeArgs, _ := frame.NewBuilder().
			Short(frame.ReplyAccessRefused).
			ShortString("ACCESS_REFUSED - Login was refused").
			Short(0).
			Short(0).
			Bytes()
		if err := frame.Write(conn, frame.NewMethod(0, frame.ClassConnection, frame.ConnectionClose, closeArgs)); err != nil {
			return err
		}
		// the client answers with close-ok and hangs up
		_, _ = frame.Read(conn, 0)
		return errors.New("auth refused")
	}

	if s.secureChallenge {
		secureArgs, _ := frame.NewBuilder().LongString([]byte("challenge")).Bytes()
		if err := frame.Write(conn, frame.NewMethod(0, frame.ClassConnection, frame.ConnectionSecure, secureArgs)); err != nil {
			return err
		}
		return errors.New("secure challenge sent")
	}

	tuneArgs, _ := frame.NewBuilder().
		Short(s.channelMax).
		Long(s.frameMax).
		Short(s.heartbeat).
		Bytes()
	if err := frame.Write(conn, frame.NewMethod(0, frame.ClassConnection, frame.ConnectionTune, tuneArgs)); err != nil {
		return err
	}
	if _, err := s.expectMethod(conn, frame.ClassConnection, frame.ConnectionTuneOk); err != nil {
		return err
	}
	if _, err := s.expectMethod(conn, frame.ClassConnection, frame.ConnectionOpen); err != nil {
		return err
	}
	return frame.Write(conn, frame.NewMethod(0, frame.ClassConnection, frame.ConnectionOpenOk, []byte{0}))
}

func (s *Server) expectMethod(conn net.Conn, classID, methodID uint16) (frame.Method, error) {
	f, err := frame.Read(conn, 0)
	if err != nil {
		return frame.Method{}, err
	}
	m, err := f.Method()
	if err != nil {
		return frame.Method{}, err
	}
	if m.ClassID != classID || m.MethodID != methodID {
		return frame.Method{}, fmt.Errorf("expected method %d.%d, got %d.%d", classID, methodID, m.ClassID, m.MethodID)
	}
	return m, nil
}

// handleFrame processes one post-handshake frame; true ends the session.
func (s *Server) handleFrame(conn net.Conn, f *frame.Frame) bool {
	if f.Type == frame.TypeHeartbeat {
		return false
	}
	if f.Type != frame.TypeMethod {
		// stray content frames outside basic.publish are ignored
		return false
	}
	m, err := f.Method()
	if err != nil {
		return true
	}

	switch {
	case m.ClassID == frame.ClassConnection && m.MethodID == frame.ConnectionClose:
		_ = frame.Write(conn, frame.NewMethod(0, frame.ClassConnection, frame.ConnectionCloseOk, nil))
		return true

	case m.ClassID == frame.ClassConnection && m.MethodID == frame.ConnectionCloseOk:
		return true

	case m.ClassID == frame.ClassChannel && m.MethodID == frame.ChannelOpen:
		s.send(frame.NewMethod(f.Channel, frame.ClassChannel, frame.ChannelOpenOk, []byte{0, 0, 0, 0}))

	case m.ClassID == frame.ClassChannel && m.MethodID == frame.ChannelClose:
		s.dropChannelConsumers(f.Channel)
		s.send(frame.NewMethod(f.Channel, frame.ClassChannel, frame.ChannelCloseOk, nil))

	case m.ClassID == frame.ClassBasic:
		s.handleBasic(conn, f.Channel, m)
	}
	return false
}

// dropChannelConsumers forgets every consumer registered on a channel the
// client is closing, so later Deliver calls only target live channels.
func (s *Server) dropChannelConsumers(channel uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.consumers[:0]
	for _, c := range s.consumers {
		if c.channel != channel {
			kept = append(kept, c)
		}
	}
	s.consumers = kept
}

func (s *Server) handleBasic(conn net.Conn, channel uint16, m frame.Method) {
	r := frame.NewReader(m.Args)
	switch m.MethodID {
	case frame.BasicConsume:
		r.Short() // reserved
		r.ShortString()
		tag := r.ShortString()
		if tag == "" {
			s.mu.Lock()
			s.consumerSeq++
			tag = fmt.Sprintf("ctag-%d", s.consumerSeq)
			s.mu.Unlock()
		}
		s.mu.Lock()
		s.consumers = append(s.consumers, consumer{channel: channel, tag: tag})
		s.mu.Unlock()
		args, _ := frame.NewBuilder().ShortString(tag).Bytes()
		s.send(frame.NewMethod(channel, frame.ClassBasic, frame.BasicConsumeOk, args))
		select {
		case s.consumerReady <- struct{}{}:
		default:
		}

	case frame.BasicCancel:
		tag := r.ShortString()
		s.mu.Lock()
		for i, c := range s.consumers {
			if c.channel == channel && c.tag == tag {
				s.consumers = append(s.consumers[:i], s.consumers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		args, _ := frame.NewBuilder().ShortString(tag).Bytes()
		s.send(frame.NewMethod(channel, frame.ClassBasic, frame.BasicCancelOk, args))

	case frame.BasicPublish:
		r.Short() // reserved
		exchange := r.ShortString()
		routingKey := r.ShortString()
		flags := r.Octet()
		body, props, err := s.readContent(conn)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.published = append(s.published, Published{
			Channel:    channel,
			Exchange:   exchange,
			RoutingKey: routingKey,
			Mandatory:  flags&0x01 != 0,
			Props:      props,
			Body:       body,
		})
		s.mu.Unlock()

	case frame.BasicGet:
		r.Short() // reserved
		queue := r.ShortString()
		s.mu.Lock()
		pending := s.queues[queue]
		if len(pending) == 0 {
			s.mu.Unlock()
			s.send(frame.NewMethod(channel, frame.ClassBasic, frame.BasicGetEmpty, []byte{0}))
			return
		}
		body := pending[0]
		s.queues[queue] = pending[1:]
		remaining := uint32(len(pending) - 1)
		s.deliveryTag++
		tag := s.deliveryTag
		s.mu.Unlock()
		s.sendContent(channel, func() *frame.Frame {
			args, _ := frame.NewBuilder().
				LongLong(tag).
				Bits(false).
				ShortString("").
				ShortString(queue).
				Long(remaining).
				Bytes()
			return frame.NewMethod(channel, frame.ClassBasic, frame.BasicGetOk, args)
		}, body)

	case frame.BasicAck:
		tag := r.LongLong()
		multiple := r.Bit()
		s.mu.Lock()
		s.acks = append(s.acks, Ack{Channel: channel, DeliveryTag: tag, Multiple: multiple})
		s.mu.Unlock()

	case frame.BasicNack:
		tag := r.LongLong()
		flags := r.Octet()
		s.mu.Lock()
		s.nacks = append(s.nacks, Nack{
			Channel:     channel,
			DeliveryTag: tag,
			Multiple:    flags&0x01 != 0,
			Requeue:     flags&0x02 != 0,
		})
		s.mu.Unlock()

	case frame.BasicReject:
		tag := r.LongLong()
		requeue := r.Bit()
		s.mu.Lock()
		s.rejects = append(s.rejects, Reject{Channel: channel, DeliveryTag: tag, Requeue: requeue})
		s.mu.Unlock()
	}
}

// readContent consumes the header and body frames following basic.publish.
func (s *Server) readContent(conn net.Conn) ([]byte, frame.BasicProperties, error) {
	f, err := frame.Read(conn, 0)
	if err != nil {
		return nil, frame.BasicProperties{}, err
	}
	h, err := frame.ParseContentHeader(f)
	if err != nil {
		return nil, frame.BasicProperties{}, err
	}
	body := make([]byte, 0, h.BodySize)
	for uint64(len(body)) < h.BodySize {
		f, err := frame.Read(conn, 0)
		if err != nil {
			return nil, frame.BasicProperties{}, err
		}
		if f.Type != frame.TypeBody {
			return nil, frame.BasicProperties{}, errors.New("expected body frame")
		}
		body = append(body, f.Payload...)
	}
	return body, h.Props, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
