package prot

import (
	"errors"
	"fmt"

	"github.com/findy-network/findy-exchange/agent/psm"
)

var classes = []error{
	psm.ErrDuplicateCorrelationID,
	psm.ErrProtocolRejected,
	psm.ErrExchangeTimedOut,
	psm.ErrSubscriptionFailed,
	psm.ErrTransientNetwork,
}

// Failure is the typed failure of an exchange run. It tells the kind, the
// correlation id and the last state reached. The correlation id is empty if
// the exchange never started.
type Failure struct {
	Kind          psm.Kind
	CorrelationID string
	LastState     psm.State
	Exchange      psm.Exchange
	Err           error
}

func (f *Failure) Error() string {
	id := f.CorrelationID
	if id == "" {
		id = "(not started)"
	}
	return fmt.Sprintf("%s exchange %s failed in %q: %v", f.Kind, id, f.LastState, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Class returns the failure class sentinel of the error, or nil if the error
// is none of them.
func (f *Failure) Class() error {
	return ClassOf(f.Err)
}

// ClassOf returns the failure class sentinel the error wraps, or nil.
func ClassOf(err error) error {
	for _, c := range classes {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// Stage describes where the exchange failed.
func (f *Failure) Stage() string {
	switch {
	case f.CorrelationID == "":
		return "never started"
	case errors.Is(f.Err, psm.ErrProtocolRejected):
		return "rejected"
	default:
		return "stuck"
	}
}
