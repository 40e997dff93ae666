package job

import (
	"math/rand"
	"time"
)

const (
	backoffBase   = 2 * time.Second
	backoffFactor = 2
	backoffCap    = 60 * time.Second

	// maxConsecutiveTransient is the number of transient failures without
	// byte progress that escalates a job to fatal (spec §4.2).
	maxConsecutiveTransient = 5

	// debridProcessingCap is the 5-minute ceiling on debrid_pending polling
	// (spec §4.2, §4.3).
	debridProcessingCap = 5 * time.Minute

	// pollFast/pollSlow/pollFastWindow implement the §4.3 polling policy:
	// 2s for the first 30s, 5s thereafter.
	pollFast       = 2 * time.Second
	pollSlow       = 5 * time.Second
	pollFastWindow = 30 * time.Second
)

// backoffDelay returns the full-jitter exponential backoff delay for the
// given attempt number (0-indexed): base * factor^attempt, capped, with a
// uniform random delay in [0, computed) (full jitter, AWS's "Exponential
// Backoff And Jitter" algorithm).
func backoffDelay(attempt int) time.Duration {
	d := float64(backoffBase)
	for i := 0; i < attempt; i++ {
		d *= backoffFactor
	}
	if d > float64(backoffCap) {
		d = float64(backoffCap)
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// pollInterval returns the Gateway status-poll interval given how long
// submission has been pending.
func pollInterval(elapsed time.Duration) time.Duration {
	if elapsed < pollFastWindow {
		return pollFast
	}
	return pollSlow
}
