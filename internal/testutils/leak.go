package testutils

import (
	"testing"

	"go.uber.org/goleak"
)

func VerifyLeak(m *testing.M) {
	goleak.VerifyTestMain(
		m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}
