package amqpio

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure cases surfaced by this library.
// Every error returned from a Connection, Channel or Consumer is an *Error
// carrying exactly one of these kinds.
type ErrorKind int

const (
	// UnexpectedSocketClose: the underlying socket was closed without a
	// connection.close exchange.
	UnexpectedSocketClose ErrorKind = iota + 1

	// MalformedFrame: bytes were received that could not be parsed as an
	// AMQP frame.
	MalformedFrame

	// IO: an I/O error occurred; Unwrap yields the underlying cause.
	IO

	// TLSHandshake: the TLS handshake failed.
	TLSHandshake

	// UnsupportedAuthMechanism: the server does not offer the requested
	// auth mechanism.
	UnsupportedAuthMechanism

	// UnsupportedLocale: the server does not offer the requested locale.
	UnsupportedLocale

	// FrameMaxTooSmall: the server requested a frame-max below the
	// protocol minimum.
	FrameMaxTooSmall

	// PollTimeout: the io loop saw no socket or command activity within
	// the window configured via ConnectionTuning.PollTimeout.
	PollTimeout

	// SaslSecureNotSupported: the server requested a secure/secure-ok
	// exchange, which this client does not implement.
	SaslSecureNotSupported

	// InvalidCredentials: the server rejected the supplied credentials.
	InvalidCredentials

	// MissedServerHeartbeats: the server missed too many successive
	// heartbeats.
	MissedServerHeartbeats

	// ServerClosedConnection: the server closed the connection with the
	// reply code and text carried by the error.
	ServerClosedConnection

	// ClientClosedConnection: the client closed the connection; surfaced
	// to callers still blocked on it when the close ran.
	ClientClosedConnection

	// ServerClosedChannel: the server closed a channel with the reply
	// code and text carried by the error.
	ServerClosedChannel

	// ClientClosedChannel: the channel has been closed by the client.
	ClientClosedChannel

	// EventLoopClientDropped: the io loop tried to reply to a caller that
	// no longer exists. Indicates a bug or a connection tearing down.
	EventLoopClientDropped

	// EventLoopDropped: the io loop has gone away, typically because it
	// terminated due to another error.
	EventLoopDropped

	// FrameUnexpected: a valid AMQP frame arrived that is not legal in
	// the current state, e.g. a wrong response to a method call.
	FrameUnexpected

	// ForkFailed: the io loop goroutine could not be started.
	ForkFailed

	// ExhaustedChannelIds: every channel id up to the negotiated
	// channel-max is already in use.
	ExhaustedChannelIds

	// UnavailableChannelId: an explicitly requested channel id is already
	// in use.
	UnavailableChannelId

	// ClientException: a client-side consistency failure, e.g. caller
	// input that cannot be encoded to the wire.
	ClientException

	// ReceivedFrameWithBogusChannelId: the server sent frames for a
	// channel id we know nothing about.
	ReceivedFrameWithBogusChannelId

	// IoThreadPanic: the io loop goroutine terminated via a panic; the
	// error text carries the rendered panic payload.
	IoThreadPanic

	// DuplicateConsumerTag: the server sent a consumer tag equal to one
	// already registered on the same channel.
	DuplicateConsumerTag

	// UnknownConsumerTag: the server sent a delivery for a consumer tag
	// we know nothing about.
	UnknownConsumerTag
)

// String returns the CamelCase name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case UnexpectedSocketClose:
		return "UnexpectedSocketClose"
	case MalformedFrame:
		return "MalformedFrame"
	case IO:
		return "IO"
	case TLSHandshake:
		return "TLSHandshake"
	case UnsupportedAuthMechanism:
		return "UnsupportedAuthMechanism"
	case UnsupportedLocale:
		return "UnsupportedLocale"
	case FrameMaxTooSmall:
		return "FrameMaxTooSmall"
	case PollTimeout:
		return "PollTimeout"
	case SaslSecureNotSupported:
		return "SaslSecureNotSupported"
	case InvalidCredentials:
		return "InvalidCredentials"
	case MissedServerHeartbeats:
		return "MissedServerHeartbeats"
	case ServerClosedConnection:
		return "ServerClosedConnection"
	case ClientClosedConnection:
		return "ClientClosedConnection"
	case ServerClosedChannel:
		return "ServerClosedChannel"
	case ClientClosedChannel:
		return "ClientClosedChannel"
	case EventLoopClientDropped:
		return "EventLoopClientDropped"
	case EventLoopDropped:
		return "EventLoopDropped"
	case FrameUnexpected:
		return "FrameUnexpected"
	case ForkFailed:
		return "ForkFailed"
	case ExhaustedChannelIds:
		return "ExhaustedChannelIds"
	case UnavailableChannelId:
		return "UnavailableChannelId"
	case ClientException:
		return "ClientException"
	case ReceivedFrameWithBogusChannelId:
		return "ReceivedFrameWithBogusChannelId"
	case IoThreadPanic:
		return "IoThreadPanic"
	case DuplicateConsumerTag:
		return "DuplicateConsumerTag"
	case UnknownConsumerTag:
		return "UnknownConsumerTag"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the single error type produced by this library. It is immutable
// after construction and always handled by pointer, so the io loop can hand
// the identical instance to every caller affected by one failure without
// reconstructing or losing the cause chain.
type Error struct {
	kind    ErrorKind
	code    uint16 // reply code for closure kinds
	channel uint16 // channel id where applicable
	detail  string // reply text, mechanism list, panic rendering, ...
	cause   error
}

func newError(kind ErrorKind) *Error {
	return &Error{kind: kind}
}

func newErrorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{kind: kind, detail: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, cause error) *Error {
	return &Error{kind: kind, cause: cause}
}

func newClosedError(kind ErrorKind, channel, code uint16, text string) *Error {
	return &Error{kind: kind, channel: channel, code: code, detail: text}
}

// Kind reports which member of the closed taxonomy this error is.
func (e *Error) Kind() ErrorKind { return e.kind }

// Code returns the AMQP reply code for ServerClosedConnection and
// ServerClosedChannel errors, zero otherwise.
func (e *Error) Code() uint16 { return e.code }

// Detail returns the kind-specific payload: the reply text for closure
// errors, the offered mechanisms/locales for negotiation errors, the
// rendered panic value for IoThreadPanic.
func (e *Error) Detail() string { return e.detail }

// ChannelID returns the channel the error refers to, zero for
// connection-level errors.
func (e *Error) ChannelID() uint16 { return e.channel }

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Error() string {
	var msg string
	switch e.kind {
	case UnexpectedSocketClose:
		msg = "underlying socket closed unexpectedly"
	case MalformedFrame:
		msg = "received malformed data - expected AMQP frame"
	case IO:
		msg = "I/O error"
	case TLSHandshake:
		msg = "TLS handshake failed"
	case UnsupportedAuthMechanism:
		msg = fmt.Sprintf("requested auth mechanism unavailable (available = %s)", e.detail)
	case UnsupportedLocale:
		msg = fmt.Sprintf("requested locale unavailable (available = %s)", e.detail)
	case FrameMaxTooSmall:
		msg = fmt.Sprintf("requested frame max is too small (min = %d)", e.code)
	case PollTimeout:
		msg = "timeout occurred while waiting for poll events"
	case SaslSecureNotSupported:
		msg = "SASL secure/secure-ok exchanges are not supported"
	case InvalidCredentials:
		msg = "invalid credentials"
	case MissedServerHeartbeats:
		msg = "missed heartbeats from server"
	case ServerClosedConnection:
		msg = fmt.Sprintf("server closed connection (code=%d message=%s)", e.code, e.detail)
	case ClientClosedConnection:
		msg = "client closed connection"
	case ServerClosedChannel:
		msg = fmt.Sprintf("server closed channel %d (code=%d, message=%s)", e.channel, e.code, e.detail)
	case ClientClosedChannel:
		msg = "channel has been closed"
	case EventLoopClientDropped:
		msg = "io loop tried to communicate with a nonexistent client"
	case EventLoopDropped:
		msg = "io loop dropped sending side of a channel"
	case FrameUnexpected:
		msg = "AMQP protocol error - received unexpected frame"
	case ForkFailed:
		msg = "starting io loop goroutine failed"
	case ExhaustedChannelIds:
		msg = "no channel ids available"
	case UnavailableChannelId:
		msg = fmt.Sprintf("requested channel id %d unavailable", e.channel)
	case ClientException:
		msg = "internal client exception"
	case ReceivedFrameWithBogusChannelId:
		msg = fmt.Sprintf("received message for nonexistent channel %d", e.channel)
	case IoThreadPanic:
		msg = fmt.Sprintf("io loop goroutine died unexpectedly: %s", e.detail)
	case DuplicateConsumerTag:
		msg = fmt.Sprintf("server sent duplicate consumer tag for channel %d: %s", e.channel, e.detail)
	case UnknownConsumerTag:
		msg = fmt.Sprintf("received delivery with unknown consumer tag for channel %d: %s", e.channel, e.detail)
	default:
		msg = fmt.Sprintf("unknown error kind %d", int(e.kind))
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == kind
}
