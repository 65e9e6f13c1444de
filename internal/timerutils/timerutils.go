// Package timerutils reuses a single timer across the io loop's wait
// cycles without a stale expiry leaking into the next wait. The drained
// flag records whether the timer's channel was already received from, so
// stop and reset know when draining is still required.
package timerutils

import (
	"time"
)

// CloseTimer stops a timer for good, draining a pending expiry first.
// Meant to be deferred next to the timer's creation.
func CloseTimer(timer *time.Timer, drained *bool) {
	if drained == nil {
		panic("drained bool pointer is nil")
	}
	if !timer.Stop() {
		if *drained {
			return
		}
		<-timer.C
		*drained = true
	}
}

// ResetTimer rearms the timer for the next wait and marks it undrained.
func ResetTimer(timer *time.Timer, duration time.Duration, drained *bool) {
	if drained == nil {
		panic("drained bool pointer is nil")
	}
	if !timer.Stop() {
		if !*drained {
			<-timer.C
		}
	}
	timer.Reset(duration)
	*drained = false
}
