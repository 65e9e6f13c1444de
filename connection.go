package amqpio

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/amqpio/amqpio/logging"
)

// Connection is a handle to one AMQP connection. All protocol work happens
// on the connection's io loop goroutine; the handle itself only submits
// commands, so it is safe for concurrent use.
type Connection struct {
	mu sync.Mutex

	// join carries the io loop's terminal result. Taken exactly once by
	// Close; nil afterwards, which is how double closes become no-ops.
	join chan error

	h           *engineHandle
	serverProps Table
	log         logging.Logger
}

// Dial connects to addr over plain TCP and negotiates an AMQP connection.
func Dial(addr string, opts ConnectionOptions, tuning ConnectionTuning) (*Connection, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, wrapError(IO, err)
	}
	return Open(conn, opts, tuning)
}

// DialTLS connects to addr over TLS and negotiates an AMQP connection.
func DialTLS(addr string, cfg *tls.Config, opts ConnectionOptions, tuning ConnectionTuning) (*Connection, error) {
	conn, err := tls.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, wrapError(TLSHandshake, err)
	}
	return Open(conn, opts, tuning)
}

// DialURL connects using an amqp:// or amqps:// URL. Credentials and the
// virtual host in the URL override the corresponding options fields.
func DialURL(rawURL string, opts ConnectionOptions, tuning ConnectionTuning) (*Connection, error) {
	addr, useTLS, opts, err := parseURL(rawURL, opts)
	if err != nil {
		return nil, err
	}
	if useTLS {
		return DialTLS(addr, nil, opts, tuning)
	}
	return Dial(addr, opts, tuning)
}

func parseURL(rawURL string, opts ConnectionOptions) (addr string, useTLS bool, _ ConnectionOptions, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, opts, fmt.Errorf("parse connection url: %w", err)
	}

	var port string
	switch u.Scheme {
	case "amqp":
		port = "5672"
	case "amqps":
		port = "5671"
		useTLS = true
	default:
		return "", false, opts, fmt.Errorf("unsupported connection url scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	if p := u.Port(); p != "" {
		port = p
	}

	if u.User != nil {
		opts.Username = u.User.Username()
		if password, set := u.User.Password(); set {
			opts.Password = password
		}
	}
	if vhost := strings.TrimPrefix(u.Path, "/"); vhost != "" {
		opts.VirtualHost = vhost
	}

	return net.JoinHostPort(host, port), useTLS, opts, nil
}

// OpenTLS upgrades an established stream to TLS and negotiates an AMQP
// connection over it.
func OpenTLS(conn net.Conn, cfg *tls.Config, opts ConnectionOptions, tuning ConnectionTuning) (*Connection, error) {
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		_ = conn.Close()
		return nil, wrapError(TLSHandshake, err)
	}
	return Open(tlsConn, opts, tuning)
}

// Open negotiates an AMQP connection over an established stream. On
// failure the stream is closed and no goroutines are left behind; on
// success the connection owns the stream until Close.
func Open(conn net.Conn, opts ConnectionOptions, tuning ConnectionTuning) (*Connection, error) {
	log := opts.logger()
	l := newIOLoop(tuning, log)
	join, serverProps, h, err := l.start(conn, opts)
	if err != nil {
		return nil, err
	}
	return &Connection{
		join:        join,
		h:           h,
		serverProps: serverProps,
		log:         log,
	}, nil
}

// ServerProperties returns the property table the server sent during
// negotiation (product, version, capabilities, ...).
func (c *Connection) ServerProperties() Table {
	return c.serverProps
}

// OpenChannel opens a channel. A zero id requests automatic allocation;
// an explicit id fails with UnavailableChannelId if it is taken or out of
// range.
func (c *Connection) OpenChannel(id uint16) (*Channel, error) {
	var explicit *uint16
	if id != 0 {
		explicit = &id
	}
	allocated, err := c.h.openChannel(explicit)
	if err != nil {
		return nil, err
	}
	return &Channel{id: allocated, io: c.h}, nil
}

// ListenForConnectionBlocked registers a listener for connection.blocked
// and connection.unblocked notifications. Only one listener is active at a
// time; registering again closes the previous listener's channel. The
// returned channel is closed when the connection terminates.
func (c *Connection) ListenForConnectionBlocked() (<-chan BlockedNotification, error) {
	tx := make(chan BlockedNotification, c.h.bound)
	if err := c.h.setBlockedTx(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Close performs an orderly shutdown: it asks the server to close the
// connection, waits for the io loop to wind down and returns the loop's
// terminal result. If the loop already died (server-initiated close,
// socket failure, panic) that root cause is returned instead. Closing an
// already closed connection is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	join := c.join
	c.join = nil
	c.mu.Unlock()
	if join == nil {
		return nil
	}

	closeErr := c.h.closeConnection()
	joinErr := <-join
	if closeErr != nil {
		return closeErr
	}
	return joinErr
}
