package frame

// ProtocolHeader is the 8-byte preamble a client sends before any frame.
const ProtocolHeader = "AMQP\x00\x00\x09\x01"

// Frame types as defined by AMQP 0-9-1.
const (
	TypeMethod    = 1
	TypeHeader    = 2
	TypeBody      = 3
	TypeHeartbeat = 8

	frameEnd = 0xCE
)

// MinFrameMax is the smallest frame-max value a peer may negotiate
// (frame header + frame end + minimal method payload).
const MinFrameMax = 4096

// Class ids.
const (
	ClassConnection = 10
	ClassChannel    = 20
	ClassBasic      = 60
)

// Connection class method ids.
const (
	ConnectionStart     = 10
	ConnectionStartOk   = 11
	ConnectionSecure    = 20
	ConnectionSecureOk  = 21
	ConnectionTune      = 30
	ConnectionTuneOk    = 31
	ConnectionOpen      = 40
	ConnectionOpenOk    = 41
	ConnectionClose     = 50
	ConnectionCloseOk   = 51
	ConnectionBlocked   = 60
	ConnectionUnblocked = 61
)

// Channel class method ids.
const (
	ChannelOpen    = 10
	ChannelOpenOk  = 11
	ChannelFlow    = 20
	ChannelFlowOk  = 21
	ChannelClose   = 40
	ChannelCloseOk = 41
)

// Basic class method ids.
const (
	BasicQos       = 10
	BasicQosOk     = 11
	BasicConsume   = 20
	BasicConsumeOk = 21
	BasicCancel    = 30
	BasicCancelOk  = 31
	BasicPublish   = 40
	BasicReturn    = 50
	BasicDeliver   = 60
	BasicGet       = 70
	BasicGetOk     = 71
	BasicGetEmpty  = 72
	BasicAck       = 80
	BasicReject    = 90
	BasicNack      = 120
)

// Reply codes used on connection.close / channel.close.
const (
	ReplySuccess          = 200
	ReplyContentTooLarge  = 311
	ReplyNoConsumers      = 313
	ReplyConnectionForced = 320
	ReplyInvalidPath      = 402
	ReplyAccessRefused    = 403
	ReplyNotFound         = 404
	ReplyResourceLocked   = 405
	ReplyPreconditionFail = 406
	ReplyFrameError       = 501
	ReplySyntaxError      = 502
	ReplyCommandInvalid   = 503
	ReplyChannelError     = 504
	ReplyUnexpectedFrame  = 505
	ReplyResourceError    = 506
	ReplyNotAllowed       = 530
	ReplyNotImplemented   = 540
	ReplyInternalError    = 541
)
