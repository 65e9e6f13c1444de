package amqpio

import (
	"testing"
	"time"

	"github.com/amqpio/amqpio/logging"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConnectionTuning(t *testing.T) {
	t.Parallel()

	tuning := DefaultConnectionTuning()
	assert.Equal(t, 16, tuning.MemChannelBound)
	assert.Equal(t, 16<<20, tuning.BufferedWritesHighWater)
	assert.Equal(t, 0, tuning.BufferedWritesLowWater)
	assert.Equal(t, time.Duration(0), tuning.PollTimeout)
}

func TestConnectionTuningSettersCopy(t *testing.T) {
	t.Parallel()

	base := DefaultConnectionTuning()
	modified := base.
		WithMemChannelBound(32).
		WithBufferedWritesHighWater(1 << 20).
		WithBufferedWritesLowWater(1 << 10).
		WithPollTimeout(30 * time.Second)

	assert.Equal(t, 32, modified.MemChannelBound)
	assert.Equal(t, 1<<20, modified.BufferedWritesHighWater)
	assert.Equal(t, 1<<10, modified.BufferedWritesLowWater)
	assert.Equal(t, 30*time.Second, modified.PollTimeout)

	// the base value must be untouched
	assert.Equal(t, DefaultConnectionTuning(), base)
}

func TestDefaultConnectionOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultConnectionOptions()
	assert.Equal(t, "guest", opts.Username)
	assert.Equal(t, "guest", opts.Password)
	assert.Equal(t, "/", opts.VirtualHost)
	assert.Equal(t, "en_US", opts.Locale)
	assert.Equal(t, 60*time.Second, opts.Heartbeat)
	assert.NotNil(t, opts.Logger)
}

func TestConnectionOptionsSettersCopy(t *testing.T) {
	t.Parallel()

	base := DefaultConnectionOptions()
	modified := base.
		WithAuth("user", "secret").
		WithVirtualHost("/prod").
		WithLocale("en_GB").
		WithChannelMax(64).
		WithHeartbeat(10 * time.Second).
		WithConnectionName("worker-1")

	assert.Equal(t, "user", modified.Username)
	assert.Equal(t, "secret", modified.Password)
	assert.Equal(t, "/prod", modified.VirtualHost)
	assert.Equal(t, "en_GB", modified.Locale)
	assert.Equal(t, uint16(64), modified.ChannelMax)
	assert.Equal(t, 10*time.Second, modified.Heartbeat)
	assert.Equal(t, "worker-1", modified.ConnectionName)

	assert.Equal(t, "guest", base.Username)
	assert.Equal(t, "/", base.VirtualHost)
}

func TestConnectionOptionsLoggerFallback(t *testing.T) {
	t.Parallel()

	var opts ConnectionOptions
	assert.NotNil(t, opts.logger())

	log := logging.NewTestLogger(t)
	assert.Equal(t, log, DefaultConnectionOptions().WithLogger(log).logger())
}

func TestTableWithAndClone(t *testing.T) {
	t.Parallel()

	base := NewTable().With("a", int32(1))
	extended := base.With("b", "two")

	assert.Equal(t, Table{"a": int32(1)}, base)
	assert.Equal(t, Table{"a": int32(1), "b": "two"}, extended)

	clone := extended.Clone(0)
	clone["a"] = int32(9)
	assert.Equal(t, int32(1), extended["a"])
}
