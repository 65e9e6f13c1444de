package amqpio

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/amqpio/amqpio/internal/frame"
	"github.com/amqpio/amqpio/internal/timerutils"
	"github.com/amqpio/amqpio/logging"
)

// ioLoop runs the protocol state machine for one connection. The loop
// goroutine is the sole writer of the socket and the sole owner of all
// per-channel state; a companion reader goroutine is the sole reader of the
// socket and does nothing but forward decoded frames. Everything else is
// message passing, so there is no shared mutable state and no locking.
type ioLoop struct {
	tuning ConnectionTuning
	log    logging.Logger

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	cmds       chan command
	inbound    chan readResult
	readerStop chan struct{}
	readerDone chan struct{}

	// done is closed by shutdown after term has been stored, so a caller
	// that loses the race against termination still observes the shared
	// root-cause error rather than a generic failure.
	done chan struct{}
	term atomic.Pointer[Error]

	// negotiated during handshake
	channelMax uint16
	frameMax   uint32
	heartbeat  time.Duration

	channels      map[uint16]*channelState
	tombstones    map[uint16]*Error
	nextChannelID uint16
	blockedTx     chan BlockedNotification
	closing       *cmdCloseConnection
	stopped       bool
	lastRecv      time.Time
	unflushed     int
}

type readResult struct {
	f   *frame.Frame
	err error
}

func newIOLoop(tuning ConnectionTuning, log logging.Logger) *ioLoop {
	if tuning.MemChannelBound <= 0 {
		tuning.MemChannelBound = DefaultConnectionTuning().MemChannelBound
	}
	return &ioLoop{
		tuning:     tuning,
		log:        log,
		cmds:       make(chan command, tuning.MemChannelBound),
		inbound:    make(chan readResult),
		readerStop: make(chan struct{}),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
		channels:   make(map[uint16]*channelState),
		tombstones: make(map[uint16]*Error),
	}
}

// start performs the handshake on the calling goroutine and only then
// spawns the loop and reader goroutines. On failure nothing is left
// running: the socket is closed and no goroutine exists.
func (l *ioLoop) start(conn net.Conn, opts ConnectionOptions) (chan error, Table, *engineHandle, error) {
	l.conn = conn
	l.r = bufio.NewReader(conn)
	l.w = bufio.NewWriter(conn)

	props, err := l.handshake(opts)
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}

	// buffered so the loop can always deposit its terminal result, even
	// if the Connection is dropped without ever calling Close
	join := make(chan error, 1)
	go l.readLoop()
	go l.run(join)

	h := &engineHandle{cmds: l.cmds, done: l.done, term: &l.term, bound: l.tuning.MemChannelBound}
	return join, props, h, nil
}

func (l *ioLoop) readLoop() {
	defer close(l.readerDone)
	for {
		f, err := frame.Read(l.r, l.frameMax)
		select {
		case l.inbound <- readResult{f: f, err: err}:
		case <-l.readerStop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (l *ioLoop) run(join chan<- error) {
	var term *Error
	defer func() {
		if p := recover(); p != nil {
			term = newErrorf(IoThreadPanic, "%v", p)
		}
		l.shutdown(term, join)
	}()
	term = l.loop()
}

func (l *ioLoop) loop() *Error {
	var hbTick <-chan time.Time
	if l.heartbeat > 0 {
		ticker := time.NewTicker(l.heartbeat / 2)
		defer ticker.Stop()
		hbTick = ticker.C
	}

	var (
		pollTimer   *time.Timer
		pollC       <-chan time.Time
		pollDrained bool
	)
	if l.tuning.PollTimeout > 0 {
		pollTimer = time.NewTimer(l.tuning.PollTimeout)
		defer timerutils.CloseTimer(pollTimer, &pollDrained)
		pollC = pollTimer.C
	}

	l.lastRecv = time.Now()

	for {
		if err := l.flush(); err != nil {
			return wrapError(IO, err)
		}
		if l.stopped {
			return nil
		}

		select {
		case cmd := <-l.cmds:
			if term := l.handleCommand(cmd); term != nil {
				return term
			}
		case rr := <-l.inbound:
			if rr.err != nil {
				return l.mapReadError(rr.err)
			}
			l.lastRecv = time.Now()
			if term := l.handleFrame(rr.f); term != nil {
				return term
			}
		case <-hbTick:
			if time.Since(l.lastRecv) > 2*l.heartbeat {
				return newError(MissedServerHeartbeats)
			}
			if err := l.writeFrame(frame.NewHeartbeat()); err != nil {
				return wrapError(IO, err)
			}
			continue // heartbeats do not count as poll activity
		case <-pollC:
			pollDrained = true
			return newError(PollTimeout)
		}

		if pollTimer != nil {
			timerutils.ResetTimer(pollTimer, l.tuning.PollTimeout, &pollDrained)
		}
	}
}

// shutdown runs exactly once per io loop, after loop has returned. It
// stops the reader, reaps every blocked caller with the shared terminal
// error and deposits the loop's result for the join in Connection.Close.
func (l *ioLoop) shutdown(term *Error, join chan<- error) {
	latecomer := term
	if latecomer == nil {
		latecomer = newError(ClientClosedConnection)
	}
	l.term.Store(latecomer)
	close(l.done)

	close(l.readerStop)
	_ = l.conn.Close()
	<-l.readerDone

	for id, cs := range l.channels {
		cs.failAll(latecomer)
		delete(l.channels, id)
	}
	// commands that were queued but never picked up
	for {
		select {
		case cmd := <-l.cmds:
			cmd.fail(latecomer)
			continue
		default:
		}
		break
	}

	if l.closing != nil {
		if term != nil {
			l.closing.reply <- term
		} else {
			l.closing.reply <- nil
		}
		l.closing = nil
	}

	if l.blockedTx != nil {
		close(l.blockedTx)
		l.blockedTx = nil
	}

	var out error
	if term != nil {
		out = term
		l.log.WithField("error", term.Error()).Debug("io loop terminated")
	} else {
		l.log.Debug("io loop terminated cleanly")
	}
	join <- out
}

func (l *ioLoop) mapReadError(err error) *Error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return newError(UnexpectedSocketClose)
	case errors.Is(err, frame.ErrMalformed), errors.Is(err, frame.ErrFrameTooLarge):
		return wrapError(MalformedFrame, err)
	default:
		return wrapError(IO, err)
	}
}

func (l *ioLoop) writeFrame(f *frame.Frame) error {
	if err := frame.Write(l.w, f); err != nil {
		return err
	}
	l.unflushed += len(f.Payload) + 8
	// With blocking socket writes the high water mark degenerates into a
	// flush threshold; see ConnectionTuning.
	if l.unflushed >= l.tuning.BufferedWritesHighWater {
		return l.flush()
	}
	return nil
}

func (l *ioLoop) flush() error {
	if l.unflushed == 0 {
		return nil
	}
	l.unflushed = 0
	return l.w.Flush()
}

func (l *ioLoop) writeMethod(channel uint16, classID, methodID uint16, b *frame.Builder) error {
	args, err := b.Bytes()
	if err != nil {
		return err
	}
	return l.writeFrame(frame.NewMethod(channel, classID, methodID, args))
}
