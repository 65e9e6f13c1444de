package amqpio

import (
	"runtime"
	"strings"
	"time"

	"github.com/amqpio/amqpio/internal/frame"
)

const (
	libraryProduct = "amqpio"
	libraryVersion = "0.9.0"

	// defaultFrameMax is what we negotiate when the server leaves the
	// frame size unbounded.
	defaultFrameMax = 128 * 1024

	maxChannelMax = 65535
)

// handshake drives the connection negotiation: protocol header, start/
// start-ok, tune/tune-ok, open/open-ok. It runs synchronously on the
// caller's goroutine before the loop and reader goroutines exist, so it
// reads the socket directly.
func (l *ioLoop) handshake(opts ConnectionOptions) (Table, error) {
	if err := frame.WriteProtocolHeader(l.w); err != nil {
		return nil, wrapError(IO, err)
	}
	if err := l.w.Flush(); err != nil {
		return nil, wrapError(IO, err)
	}

	m, err := l.readHandshakeMethod()
	if err != nil {
		return nil, err
	}
	if m.MethodID != frame.ConnectionStart {
		return nil, newError(FrameUnexpected)
	}

	r := frame.NewReader(m.Args)
	r.Octet() // version-major
	r.Octet() // version-minor
	serverProps := r.Table()
	mechanisms := string(r.LongString())
	locales := string(r.LongString())
	if err := r.Err(); err != nil {
		return nil, wrapError(MalformedFrame, err)
	}

	if !fieldContains(mechanisms, "PLAIN") {
		return nil, &Error{kind: UnsupportedAuthMechanism, detail: mechanisms}
	}
	if !fieldContains(locales, opts.Locale) {
		return nil, &Error{kind: UnsupportedLocale, detail: locales}
	}

	saslResponse := []byte("\x00" + opts.Username + "\x00" + opts.Password)
	startOk := frame.NewBuilder().
		Table(l.clientProperties(opts)).
		ShortString("PLAIN").
		LongString(saslResponse).
		ShortString(opts.Locale)
	if err := l.sendHandshakeMethod(frame.ConnectionStartOk, startOk); err != nil {
		return nil, err
	}

	m, err = l.readHandshakeMethod()
	if err != nil {
		return nil, err
	}
	switch m.MethodID {
	case frame.ConnectionTune:
		// fall through below
	case frame.ConnectionSecure:
		return nil, newError(SaslSecureNotSupported)
	case frame.ConnectionClose:
		return nil, l.handshakeRefused(m)
	default:
		return nil, newError(FrameUnexpected)
	}

	r = frame.NewReader(m.Args)
	serverChannelMax := r.Short()
	serverFrameMax := r.Long()
	serverHeartbeat := r.Short()
	if err := r.Err(); err != nil {
		return nil, wrapError(MalformedFrame, err)
	}

	if serverFrameMax != 0 && serverFrameMax < frame.MinFrameMax {
		return nil, &Error{kind: FrameMaxTooSmall, code: frame.MinFrameMax}
	}

	l.channelMax = negotiateShort(opts.ChannelMax, serverChannelMax, maxChannelMax)
	l.frameMax = negotiateLong(defaultFrameMax, serverFrameMax)
	l.heartbeat = negotiateHeartbeat(opts.Heartbeat, serverHeartbeat)

	tuneOk := frame.NewBuilder().
		Short(l.channelMax).
		Long(l.frameMax).
		Short(uint16(l.heartbeat.Seconds()))
	if err := l.sendHandshakeMethod(frame.ConnectionTuneOk, tuneOk); err != nil {
		return nil, err
	}

	open := frame.NewBuilder().
		ShortString(opts.VirtualHost).
		ShortString(""). // reserved (capabilities)
		Bits(false)      // reserved (insist)
	if err := l.sendHandshakeMethod(frame.ConnectionOpen, open); err != nil {
		return nil, err
	}

	m, err = l.readHandshakeMethod()
	if err != nil {
		return nil, err
	}
	switch m.MethodID {
	case frame.ConnectionOpenOk:
	case frame.ConnectionClose:
		return nil, l.handshakeRefused(m)
	default:
		return nil, newError(FrameUnexpected)
	}

	l.log.WithFields(map[string]any{
		"channelMax": l.channelMax,
		"frameMax":   l.frameMax,
		"heartbeat":  l.heartbeat,
	}).Debug("connection negotiated")
	return Table(serverProps), nil
}

func (l *ioLoop) clientProperties(opts ConnectionOptions) map[string]any {
	props := map[string]any{
		"product":  libraryProduct,
		"version":  libraryVersion,
		"platform": "golang " + runtime.Version(),
		"capabilities": map[string]any{
			"connection.blocked": true,
			"basic.nack":         true,
		},
	}
	if opts.ConnectionName != "" {
		props["connection_name"] = opts.ConnectionName
	}
	return props
}

func (l *ioLoop) sendHandshakeMethod(methodID uint16, b *frame.Builder) error {
	args, err := b.Bytes()
	if err != nil {
		return wrapError(MalformedFrame, err)
	}
	if err := frame.Write(l.w, frame.NewMethod(0, frame.ClassConnection, methodID, args)); err != nil {
		return wrapError(IO, err)
	}
	if err := l.w.Flush(); err != nil {
		return wrapError(IO, err)
	}
	return nil
}

// readHandshakeMethod reads the next connection-class method frame. Any
// other traffic during negotiation is a protocol violation.
func (l *ioLoop) readHandshakeMethod() (frame.Method, error) {
	f, err := frame.Read(l.r, 0)
	if err != nil {
		return frame.Method{}, l.mapReadError(err)
	}
	if f.Channel != 0 || f.Type != frame.TypeMethod {
		return frame.Method{}, newError(FrameUnexpected)
	}
	m, err := f.Method()
	if err != nil {
		return frame.Method{}, wrapError(MalformedFrame, err)
	}
	if m.ClassID != frame.ClassConnection {
		return frame.Method{}, newError(FrameUnexpected)
	}
	return m, nil
}

// handshakeRefused maps a connection.close received mid-handshake. A 403
// before open almost always means the broker rejected the credentials.
func (l *ioLoop) handshakeRefused(m frame.Method) error {
	r := frame.NewReader(m.Args)
	code := r.Short()
	text := r.ShortString()
	if err := r.Err(); err != nil {
		return wrapError(MalformedFrame, err)
	}

	closeOk := frame.NewMethod(0, frame.ClassConnection, frame.ConnectionCloseOk, nil)
	_ = frame.Write(l.w, closeOk)
	_ = l.w.Flush()

	if code == frame.ReplyAccessRefused {
		return newError(InvalidCredentials)
	}
	return newClosedError(ServerClosedConnection, 0, code, text)
}

// fieldContains reports whether a space-separated server field (mechanisms,
// locales) offers the given value.
func fieldContains(field, want string) bool {
	for _, v := range strings.Fields(field) {
		if v == want {
			return true
		}
	}
	return false
}

func negotiateShort(client, server, fallback uint16) uint16 {
	switch {
	case client == 0 && server == 0:
		return fallback
	case client == 0:
		return server
	case server == 0:
		return client
	case client < server:
		return client
	default:
		return server
	}
}

func negotiateLong(client, server uint32) uint32 {
	switch {
	case server == 0 || client < server:
		return client
	default:
		return server
	}
}

// negotiateHeartbeat follows the tune rules: either side sending zero
// disables heartbeats, otherwise the smaller interval wins.
func negotiateHeartbeat(client time.Duration, serverSeconds uint16) time.Duration {
	if client == 0 || serverSeconds == 0 {
		return 0
	}
	server := time.Duration(serverSeconds) * time.Second
	if client < server {
		return client
	}
	return server
}
