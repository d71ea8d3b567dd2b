package usecase

import "time"

// RetryPolicy computes the backoff before a failed or timed-out job is
// resubmitted: min(BaseDelay << retryCount, MaxDelay). The decision is
// recorded on the row as next_attempt_at; the actual resubmission happens on
// the next scheduler tick, never inline.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay << uint(retryCount)
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
