package engine

import (
	"time"

	"github.com/driftkit/driftsync/internal/config"
	"github.com/driftkit/driftsync/internal/event"
)

// backoffDelay is the wait before an event with the given retry count
// becomes eligible for its next attempt: base * 2^(retryCount-1) when
// exponential backoff is on, flat base otherwise. The shift is capped
// well past any sane retry budget to avoid overflow.
func backoffDelay(base time.Duration, retryCount int, exponential bool) time.Duration {
	if !exponential || retryCount <= 1 {
		return base
	}
	shift := retryCount - 1
	if shift > 20 {
		shift = 20
	}
	return base << uint(shift)
}

// retryEligible reports whether a failed event's backoff window has
// elapsed. The delay governs which cycle reconsiders the event; it is
// never a block inside a running cycle.
func retryEligible(ev *event.Event, cfg config.SyncConf, now time.Time) bool {
	if ev.FailedAt == nil {
		return true
	}
	delay := backoffDelay(cfg.RetryDelay(), ev.RetryCount, cfg.Backoff())
	return !now.Before(ev.FailedAt.Add(delay))
}
