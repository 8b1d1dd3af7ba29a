package port

import (
	"context"
	"time"
)

// AttemptWindow is the state of one sliding window after an attempt was offered to it.
type AttemptWindow struct {
	// Allowed reports whether the attempt was admitted and recorded.
	Allowed bool
	// Count is the number of admitted attempts inside the window, including this one when allowed.
	Count int
	// Oldest is the earliest admitted attempt still inside the window.
	Oldest time.Time
}

// AttemptLimiter admits attempts against a sliding window. Trimming, counting and recording happen atomically.
type AttemptLimiter interface {
	Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (AttemptWindow, error)
}
