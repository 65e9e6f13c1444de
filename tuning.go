package amqpio

import "time"

// ConnectionTuning controls memory and liveness knobs of the io loop. It is
// an immutable value; the With* setters return a copy with one field
// replaced, so partial overrides compose without mutation:
//
//	tuning := amqpio.DefaultConnectionTuning().
//		WithMemChannelBound(32).
//		WithPollTimeout(30 * time.Second)
type ConnectionTuning struct {
	// MemChannelBound is the capacity of the internal command and
	// delivery channels between callers and the io loop. Once a consumer
	// falls this many deliveries behind, the io loop stops reading from
	// the socket until the consumer catches up.
	MemChannelBound int

	// BufferedWritesHighWater is the number of outgoing bytes the io loop
	// buffers before forcing a socket flush. With blocking socket writes
	// this acts as a flush threshold rather than a hard memory cap.
	BufferedWritesHighWater int

	// BufferedWritesLowWater is the buffered byte count below which
	// writing is always considered unconstrained. Callers are responsible
	// for keeping it at or below BufferedWritesHighWater; behavior is
	// unspecified otherwise.
	BufferedWritesLowWater int

	// PollTimeout bounds the io loop's idle wait. If no socket or
	// command activity occurs for this long the connection fails with a
	// PollTimeout error. Zero disables the bound. Note that this does
	// not bound caller-facing calls, only the io loop's own wait.
	PollTimeout time.Duration
}

// DefaultConnectionTuning returns the default knobs: command channels of
// capacity 16, a 16 MiB write high water mark, a zero low water mark and no
// poll timeout.
func DefaultConnectionTuning() ConnectionTuning {
	return ConnectionTuning{
		MemChannelBound:         16,
		BufferedWritesHighWater: 16 << 20,
		BufferedWritesLowWater:  0,
		PollTimeout:             0,
	}
}

func (t ConnectionTuning) WithMemChannelBound(bound int) ConnectionTuning {
	t.MemChannelBound = bound
	return t
}

func (t ConnectionTuning) WithBufferedWritesHighWater(bytes int) ConnectionTuning {
	t.BufferedWritesHighWater = bytes
	return t
}

func (t ConnectionTuning) WithBufferedWritesLowWater(bytes int) ConnectionTuning {
	t.BufferedWritesLowWater = bytes
	return t
}

func (t ConnectionTuning) WithPollTimeout(timeout time.Duration) ConnectionTuning {
	t.PollTimeout = timeout
	return t
}
