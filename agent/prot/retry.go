package prot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/findy-network/findy-exchange/agent/cloudapi"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/golang/glog"
)

// Retry is the policy for the transient failures of the requests.
type Retry struct {
	// Attempts is the count of the tries including the first one.
	Attempts    int
	Delay       time.Duration
	Exponential bool
}

func (r Retry) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if r.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = r.Delay
		eb.MaxElapsedTime = 0
		b = eb
	} else {
		b = backoff.NewConstantBackOff(r.Delay)
	}
	retries := r.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Classify maps the error to the failure classes: retryable status codes and
// transport failures are psm.ErrTransientNetwork, and the other status codes
// are psm.ErrProtocolRejected.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var se *cloudapi.StatusError
	if errors.As(err, &se) {
		if se.Temporary() {
			return fmt.Errorf("%w: %v", psm.ErrTransientNetwork, err)
		}
		return fmt.Errorf("%w: %v", psm.ErrProtocolRejected, err)
	}
	return err
}

// call runs the request with the retry policy. The attempts are counted to
// the exchange when the correlation id is known.
func (d *Driver) call(ctx context.Context, name, corrID string, f func() error) error {
	op := func() error {
		err := Classify(f())
		if err == nil {
			return nil
		}
		if corrID != "" {
			d.store.Attempt(corrID)
		}
		if errors.Is(err, psm.ErrTransientNetwork) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		glog.Warningf("%s %s: %v, retry in %v", name, corrID, err, next)
	}
	return backoff.RetryNotify(op, d.cfg.Retry.backOff(ctx), notify)
}
