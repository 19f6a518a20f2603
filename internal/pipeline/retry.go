package pipeline

import (
	"time"

	"gallery/internal/providers/image"
)

// RetryPolicy decides, per failed attempt, whether a render is re-attempted
// and after what delay. It is a pure value: no timers, no state.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Decision is the policy's verdict for one failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// DefaultRetryPolicy bounds a render to three provider calls with doubling
// delays capped at 30 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// Decide maps (attempt, error kind) to a retry decision. attempt is the
// number of provider calls already made. Permanent errors and exhausted
// budgets are terminal; transient errors back off exponentially.
func (p RetryPolicy) Decide(attempt int, kind image.ErrorKind) Decision {
	if kind == image.ErrorKindPermanent {
		return Decision{}
	}
	if attempt >= p.MaxAttempts {
		return Decision{}
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return Decision{Retry: true, Delay: delay}
}
