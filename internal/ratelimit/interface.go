package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check
type Decision struct {
	Allowed bool

	Limit     int64
	Remaining int64

	// End of the current window and the seconds left until then
	ResetAt           time.Time
	RetryAfterSeconds int64

	// Set when the store could not be consulted and the request was let through
	FailOpen bool
}

type Limiter interface {
	// Admit never fails: store faults resolve to an allowed decision
	Admit(ctx context.Context, clientID string) Decision

	Limit() int64

	Window() time.Duration
}
