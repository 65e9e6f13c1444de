package amqpio

import (
	"time"

	"github.com/amqpio/amqpio/logging"
)

// ConnectionOptions are the handshake parameters of a connection. Like
// ConnectionTuning it is an immutable value with copy-with-replace setters.
type ConnectionOptions struct {
	// Username and Password are the PLAIN credentials.
	Username string
	Password string

	// VirtualHost to open, "/" by default.
	VirtualHost string

	// Locale requested during negotiation.
	Locale string

	// ChannelMax caps the number of concurrently open channels. The
	// effective value is the smaller of this and the server's limit;
	// zero means no client-side preference.
	ChannelMax uint16

	// Heartbeat requested during tune negotiation. The effective value
	// is the smaller of this and the server's suggestion; zero disables
	// heartbeats.
	Heartbeat time.Duration

	// ConnectionName is reported to the server in the client properties
	// and shows up in broker management UIs.
	ConnectionName string

	// Logger receives structured debug output from the connection and
	// its io loop. Defaults to a no-op logger.
	Logger logging.Logger
}

// DefaultConnectionOptions returns guest/guest on "/" with a 60 second
// heartbeat, the en_US locale and no channel-max preference.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		Username:    "guest",
		Password:    "guest",
		VirtualHost: "/",
		Locale:      "en_US",
		Heartbeat:   60 * time.Second,
		Logger:      logging.NewNoOpLogger(),
	}
}

func (o ConnectionOptions) WithAuth(username, password string) ConnectionOptions {
	o.Username = username
	o.Password = password
	return o
}

func (o ConnectionOptions) WithVirtualHost(vhost string) ConnectionOptions {
	o.VirtualHost = vhost
	return o
}

func (o ConnectionOptions) WithLocale(locale string) ConnectionOptions {
	o.Locale = locale
	return o
}

func (o ConnectionOptions) WithChannelMax(max uint16) ConnectionOptions {
	o.ChannelMax = max
	return o
}

func (o ConnectionOptions) WithHeartbeat(interval time.Duration) ConnectionOptions {
	o.Heartbeat = interval
	return o
}

func (o ConnectionOptions) WithConnectionName(name string) ConnectionOptions {
	o.ConnectionName = name
	return o
}

func (o ConnectionOptions) WithLogger(log logging.Logger) ConnectionOptions {
	if log != nil {
		o.Logger = log
	}
	return o
}

func (o ConnectionOptions) logger() logging.Logger {
	if o.Logger == nil {
		return logging.NewNoOpLogger()
	}
	return o.Logger
}
