package zerologadapter_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/amqpio/amqpio/logging"
	"github.com/amqpio/amqpio/logging/zerologadapter"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestAdapterWritesStructuredFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := zerologadapter.New(zerolog.New(&buf))

	log.WithField("channel", 5).Info("channel opened")
	assert.Contains(t, buf.String(), `"channel":5`)
	assert.Contains(t, buf.String(), "channel opened")

	buf.Reset()
	log.WithFields(logging.Fields{"a": "x", "b": 2}).Warnf("count %d", 3)
	assert.Contains(t, buf.String(), `"a":"x"`)
	assert.Contains(t, buf.String(), `"b":2`)
	assert.Contains(t, buf.String(), "count 3")

	buf.Reset()
	log.WithError(errors.New("boom")).Error("failed")
	assert.Contains(t, buf.String(), `"error":"boom"`)
}
