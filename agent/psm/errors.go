package psm

import (
	"errors"
	"fmt"
)

// Failure classes of the exchange coordination. They are used as sentinels
// with errors.Is; the concrete errors wrap them.
var (
	ErrTransientNetwork       = errors.New("transient network error")
	ErrProtocolRejected       = errors.New("protocol rejected")
	ErrExchangeTimedOut       = errors.New("exchange timed out")
	ErrDuplicateCorrelationID = errors.New("duplicate correlation id")
	ErrSubscriptionFailed     = errors.New("subscription failed")
)

// Errors of the correlation store's bookkeeping.
var (
	ErrInvalidCorrelationID = errors.New("invalid correlation id")
	ErrNotFound             = errors.New("exchange not found")
	ErrNotTerminal          = errors.New("exchange is not in terminal state")
	ErrStoreClosed          = errors.New("correlation store closed")
)

// TimeoutError is returned when the awaited state wasn't reached in time. It
// carries the last known state for diagnostics, and the cause when the wait
// was cut by something else than the clock, like a failed subscription.
type TimeoutError struct {
	CorrelationID string
	Target        State
	LastState     State
	Cause         error
}

func (e *TimeoutError) Error() string {
	s := fmt.Sprintf("%s: %s waiting %s, last state %q",
		ErrExchangeTimedOut, e.CorrelationID, e.Target, e.LastState)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Is makes TimeoutError match ErrExchangeTimedOut.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrExchangeTimedOut
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Reconnectable tells if the wait was cut by a failing event stream and the
// waiter may try again after the subscription is reopened.
func (e *TimeoutError) Reconnectable() bool {
	return errors.Is(e.Cause, ErrSubscriptionFailed)
}
