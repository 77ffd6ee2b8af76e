package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// MessageSource is the gateway-facing fetch capability. Implementations have
// no memory of prior calls: Fetch returns the device's full current inbox
// view. Errors are classified via ErrCodeFetchTransient / ErrCodeFetchPermanent.
type MessageSource interface {
	Fetch(ctx context.Context) ([]Message, error)
}
