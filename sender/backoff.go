package sender

import (
	"math"
	"time"
)

// DefaultRetryableCodes are the HTTP statuses worth retrying: request
// timeout, too many requests, and the transient 5xx family.
var DefaultRetryableCodes = map[int]struct{}{
	408: {}, 429: {}, 500: {}, 502: {}, 503: {}, 504: {},
}

// backoffMultiplier is applied per retry. It is 1, so the delay does not
// grow between attempts.
// TODO: switch to 2 once collector-side rate limits are confirmed.
const backoffMultiplier = 1

// BackoffPolicy tracks retries of a single send. Create one per send.
type BackoffPolicy struct {
	baseDelay time.Duration
	maxRetry  int
	count     int
	retryable map[int]struct{}
}

// NewBackoffPolicy returns a policy allowing maxRetry retries. An empty
// retryable set makes every status retryable.
func NewBackoffPolicy(baseDelay time.Duration, maxRetry int, retryable map[int]struct{}) *BackoffPolicy {
	return &BackoffPolicy{
		baseDelay: baseDelay,
		maxRetry:  maxRetry,
		retryable: retryable,
	}
}

// IsRetryable reports whether a response with this status may be retried.
func (p *BackoffPolicy) IsRetryable(code int) bool {
	if len(p.retryable) == 0 {
		return true
	}
	_, ok := p.retryable[code]
	return ok
}

// NextDelay is baseDelay * multiplier^count.
func (p *BackoffPolicy) NextDelay() time.Duration {
	return time.Duration(float64(p.baseDelay) * math.Pow(backoffMultiplier, float64(p.count)))
}

// Increment records one retry.
func (p *BackoffPolicy) Increment() {
	p.count++
}

// LimitReached reports whether the retry count exceeds maxRetry.
func (p *BackoffPolicy) LimitReached() bool {
	return p.count > p.maxRetry
}

// Count returns the retries recorded so far.
func (p *BackoffPolicy) Count() int {
	return p.count
}
