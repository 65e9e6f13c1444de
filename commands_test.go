package amqpio

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandle() *engineHandle {
	return &engineHandle{
		// unbuffered, so a submit with no loop behind it can only be
		// answered by the done channel
		cmds: make(chan command),
		done: make(chan struct{}),
		term: &atomic.Pointer[Error]{},
	}
}

func (h *engineHandle) terminate(err *Error) {
	h.term.Store(err)
	close(h.done)
}

func TestSubmitAfterTerminationReturnsSharedError(t *testing.T) {
	t.Parallel()

	h := newTestHandle()
	term := newError(UnexpectedSocketClose)
	h.terminate(term)

	err := h.closeChannel(1)
	require.Error(t, err)
	assert.Same(t, term, err.(*Error))

	err2 := h.ack(1, 1, false)
	assert.Same(t, term, err2.(*Error))
}

func TestCallPrefersDepositedReplyOverTermination(t *testing.T) {
	t.Parallel()

	h := newTestHandle()
	cmd := &cmdCloseChannel{channelID: 1, reply: make(chan error, 1)}

	// a loop goroutine that answers the command and then dies
	go func() {
		c := <-h.cmds
		c.(*cmdCloseChannel).reply <- nil
		h.terminate(newError(UnexpectedSocketClose))
	}()

	r, err := call(h, cmd, cmd.reply)
	require.NoError(t, err)
	assert.NoError(t, r)
}

func TestEngineHandleFailAnswersEveryCommandShape(t *testing.T) {
	t.Parallel()

	term := newError(ClientClosedConnection)
	cmds := []command{
		&cmdOpenChannel{reply: make(chan openChannelReply, 1)},
		&cmdCloseConnection{reply: make(chan error, 1)},
		&cmdSetBlockedTx{reply: make(chan error, 1)},
		&cmdCloseChannel{reply: make(chan error, 1)},
		&cmdPublish{reply: make(chan error, 1)},
		&cmdConsume{reply: make(chan consumeReply, 1)},
		&cmdCancelConsumer{reply: make(chan error, 1)},
		&cmdGet{reply: make(chan getReply, 1)},
		&cmdAck{reply: make(chan error, 1)},
		&cmdNack{reply: make(chan error, 1)},
		&cmdReject{reply: make(chan error, 1)},
	}
	// fail must never block: every reply channel has capacity one
	for _, c := range cmds {
		c.fail(term)
	}

	assert.Same(t, term, (<-cmds[0].(*cmdOpenChannel).reply).err)
	assert.Same(t, term, (<-cmds[5].(*cmdConsume).reply).err)
	assert.Same(t, term, (<-cmds[7].(*cmdGet).reply).err)
	assert.Same(t, term, <-cmds[10].(*cmdReject).reply)
}
