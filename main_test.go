package amqpio

import (
	"testing"

	"github.com/amqpio/amqpio/internal/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyLeak(m)
}
