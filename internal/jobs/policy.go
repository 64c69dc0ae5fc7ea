package jobs

import (
	"time"
)

// RetryPolicy caps attempts and spaces retries with exponential backoff.
type RetryPolicy struct {
	AttemptsAllowed int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
}

// Default per-kind policies. Thumbnail and metadata jobs retry quickly;
// analysis calls an external rate-limited service, so it gets fewer
// attempts and a longer base delay.
func DefaultPolicy(kind Kind) RetryPolicy {
	switch kind {
	case KindAnalyzeImage:
		return RetryPolicy{AttemptsAllowed: 2, BackoffBase: 2 * time.Second, BackoffMax: 5 * time.Minute}
	default:
		return RetryPolicy{AttemptsAllowed: 3, BackoffBase: time.Second, BackoffMax: 5 * time.Minute}
	}
}

// Delay returns the wait before the given attempt (1-based), doubling
// per retry. Delays are deterministic so the operator surface can show
// exact due times.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	d := p.BackoffBase << (attempt - 1)
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
