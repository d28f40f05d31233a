package prot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/findy-network/findy-exchange/agent/corr"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/subscriber"
	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/golang/glog"
)

// Timeouts of the waits per step class.
type Timeouts struct {
	// Step is the default.
	Step time.Duration

	// Ledger is for the steps which wait ledger writes, like issuing.
	Ledger time.Duration

	// FirstEvent is for the first event of the responder.
	FirstEvent time.Duration
}

// Config of the driver.
type Config struct {
	Retry Retry

	// WaitRetries is the count of the re-waits after the wait was
	// interrupted by a failed subscription.
	WaitRetries int

	LookBack time.Duration
	Timeouts Timeouts
}

// DefaultConfig returns the config from the runtime settings.
func DefaultConfig() Config {
	s := utils.Settings
	return Config{
		Retry: Retry{
			Attempts: utils.DefaultRequestAttempts,
			Delay:    utils.DefaultRequestDelay,
		},
		WaitRetries: utils.DefaultWaitRetries,
		LookBack:    s.LookBack(),
		Timeouts: Timeouts{
			Step:       s.StepTimeout(),
			Ledger:     utils.DefaultLedgerStep,
			FirstEvent: utils.DefaultFirstEvent,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = d.Retry.Attempts
	}
	if c.WaitRetries < 0 {
		c.WaitRetries = 0
	}
	if c.LookBack <= 0 {
		c.LookBack = d.LookBack
	}
	if c.Timeouts.Step <= 0 {
		c.Timeouts.Step = d.Timeouts.Step
	}
	if c.Timeouts.Ledger <= 0 {
		c.Timeouts.Ledger = d.Timeouts.Ledger
	}
	if c.Timeouts.FirstEvent <= 0 {
		c.Timeouts.FirstEvent = d.Timeouts.FirstEvent
	}
	return c
}

// Driver runs the exchanges: it issues the requests which advance the
// protocols and waits the states from the correlation store between them.
type Driver struct {
	api   API
	store *corr.Store
	sub   Subscriber
	cfg   Config
}

func New(api API, store *corr.Store, sub Subscriber, cfg Config) *Driver {
	return &Driver{api: api, store: store, sub: sub, cfg: cfg.withDefaults()}
}

// Config returns the effective config.
func (d *Driver) Config() Config {
	return d.cfg
}

// step is one protocol step: an optional action by a party and the state it
// must lead to.
type step struct {
	name string

	// guard is the state the action produces. If it's already reached the
	// action is skipped, because accepts must not be sent twice.
	guard  psm.State
	action func(ctx context.Context, ex psm.Exchange) error

	wait    psm.State
	timeout time.Duration
}

// plan is the exchange to run.
type plan struct {
	kind    psm.Kind
	parties psm.Parties

	// watch are the parties whose event streams are followed.
	watch []psm.Party

	// start issues the initiating request and returns the correlation id
	// and the side identifiers to save.
	start func(ctx context.Context) (corrID string, refs map[string]string, err error)

	steps []step

	// check validates the final exchange.
	check func(ctx context.Context, ex psm.Exchange) error
}

// run is the state of the plan execution.
type run struct {
	*Driver
	plan
	corrID  string
	handles []*subscriber.Handle
}

func (d *Driver) exec(ctx context.Context, p plan) (ex psm.Exchange, err error) {
	r := &run{Driver: d, plan: p}

	err = d.call(ctx, p.kind.String()+" start", "", func() (err error) {
		var refs map[string]string
		r.corrID, refs, err = p.start(ctx)
		if err != nil {
			return err
		}
		if r.corrID == "" {
			return fmt.Errorf("%w: no correlation id in response", psm.ErrProtocolRejected)
		}
		return r.register(refs)
	})
	if err != nil {
		return r.fail(err)
	}
	glog.V(1).Infoln(p.kind, "exchange started:", r.corrID)

	if err := r.subscribe(); err != nil {
		return r.fail(err)
	}
	defer r.unsubscribe()

	for _, st := range p.steps {
		if st.action != nil {
			if err := r.act(ctx, st); err != nil {
				return r.fail(err)
			}
		}
		if ex, err = r.await(ctx, st.wait, st.timeout); err != nil {
			return r.fail(err)
		}
	}
	if p.check != nil {
		if err := p.check(ctx, ex); err != nil {
			return r.fail(err)
		}
	}
	glog.V(1).Infoln(p.kind, "exchange ready:", r.corrID, ex.State)
	return ex, nil
}

func (r *run) register(refs map[string]string) error {
	if _, err := r.store.Register(r.corrID, r.kind, r.parties); err != nil {
		return err
	}
	for k, v := range refs {
		if v != "" {
			_ = r.store.SetRef(r.corrID, k, v)
		}
	}
	return nil
}

func (r *run) subscribe() error {
	for _, p := range r.watch {
		h, err := r.sub.Subscribe(p, r.kind.Topic(), r.corrID, r.cfg.LookBack)
		if err != nil {
			return err
		}
		r.handles = append(r.handles, h)
	}
	return nil
}

func (r *run) unsubscribe() {
	for _, h := range r.handles {
		r.sub.Unsubscribe(h)
	}
	r.handles = nil
}

// resubscribe replaces the failed subscriptions.
func (r *run) resubscribe() error {
	glog.V(2).Infoln("resubscribe:", r.corrID)
	r.unsubscribe()
	return r.subscribe()
}

func (r *run) failedSubscription() bool {
	for _, h := range r.handles {
		if h.Err() != nil {
			return true
		}
	}
	return false
}

// act runs the step's action unless its guard state is already reached. The
// guard is checked before every attempt.
func (r *run) act(ctx context.Context, st step) error {
	return r.call(ctx, st.name, r.corrID, func() error {
		ex, ok := r.store.Get(r.corrID)
		if !ok {
			return fmt.Errorf("%s: %w", r.corrID, psm.ErrNotFound)
		}
		if st.guard != psm.Nothing && r.kind.Reached(ex.State, st.guard) {
			glog.V(2).Infof("%s: %s skipped, already in %s", r.corrID, st.name, ex.State)
			return nil
		}
		return st.action(ctx, ex)
	})
}

// await waits the state. The waits cut by a failed subscription are
// retried with new subscriptions.
func (r *run) await(ctx context.Context, target psm.State, timeout time.Duration) (psm.Exchange, error) {
	for i := 0; ; i++ {
		if r.failedSubscription() {
			if err := r.resubscribe(); err != nil {
				ex, _ := r.store.Get(r.corrID)
				return ex, err
			}
		}
		ex, err := r.store.AwaitState(ctx, r.corrID, target, timeout)
		if err == nil {
			return ex, nil
		}
		var te *psm.TimeoutError
		if errors.As(err, &te) && te.Reconnectable() && i < r.cfg.WaitRetries {
			glog.Warningf("%s: wait %s interrupted, retry %d", r.corrID, target, i+1)
			continue
		}
		return ex, err
	}
}

// fail returns the typed failure with the last state reached, and abandons
// the exchange which the run owns.
func (r *run) fail(err error) (psm.Exchange, error) {
	f := &Failure{Kind: r.kind, CorrelationID: r.corrID, Err: err}
	if errors.Is(err, psm.ErrDuplicateCorrelationID) {
		// the exchange isn't ours
		return psm.Exchange{}, f
	}
	if ex, ok := r.store.Get(r.corrID); ok {
		f.LastState = ex.State
		var te *psm.TimeoutError
		if errors.As(err, &te) && ex.State == psm.Abandoned {
			f.LastState = te.LastState
		}
		if !ex.IsReady() {
			r.store.Abandon(r.corrID, err.Error())
			ex, _ = r.store.Get(r.corrID)
		}
		f.Exchange = ex
	}
	glog.Errorln(f)
	return f.Exchange, f
}
