// Package corr is the correlation store of the exchanges. It maps the
// correlation id (thread or connection id) of the exchange to its current
// protocol state and lets the protocol runners wait for the states the event
// streams deliver.
package corr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/findy-network/findy-exchange/agent/bus"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/golang/glog"
)

// Archiver receives the retired exchanges. It's the read-only history of the
// store.
type Archiver interface {
	Archive(ex psm.Exchange) error
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the clock which is used for timestamps and wait timeouts.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithArchive sets the archive for the retired exchanges.
func WithArchive(a Archiver) Option {
	return func(s *Store) { s.archive = a }
}

// WithStation sets the station where the applied transitions are broadcast.
func WithStation(st *bus.Station) Option {
	return func(s *Store) { s.station = st }
}

type record struct {
	sync.Mutex
	ex *psm.Exchange

	// changed is closed and replaced on every change of the record, which
	// wakes up all of the waiters.
	changed chan struct{}

	irq      int
	irqCause error
	closed   bool
}

func (r *record) wake() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Store is the correlation store. It's safe for concurrent use: writes are
// serialized per correlation id and unrelated ids proceed independently.
type Store struct {
	lk      sync.RWMutex
	records map[string]*record
	closed  bool

	clock   clock.Clock
	archive Archiver
	station *bus.Station
}

// Handle is the caller's reference to a registered exchange.
type Handle struct {
	CorrelationID string
	Kind          psm.Kind
	store         *Store
}

// Await waits the exchange to reach the target state, see Store.AwaitState.
func (h Handle) Await(ctx context.Context, target psm.State, timeout time.Duration) (psm.Exchange, error) {
	return h.store.AwaitState(ctx, h.CorrelationID, target, timeout)
}

func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*record),
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the clock the store uses.
func (s *Store) Clock() clock.Clock {
	return s.clock
}

// Register creates a new exchange in the initial state of the kind.
func (s *Store) Register(corrID string, kind psm.Kind, parties psm.Parties) (Handle, error) {
	if corrID == "" {
		return Handle{}, psm.ErrInvalidCorrelationID
	}
	if !kind.Valid() {
		return Handle{}, fmt.Errorf("register %s: %w: kind %d",
			corrID, psm.ErrInvalidCorrelationID, kind)
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	if s.closed {
		return Handle{}, psm.ErrStoreClosed
	}
	if _, exists := s.records[corrID]; exists {
		return Handle{}, fmt.Errorf("register %s: %w", corrID, psm.ErrDuplicateCorrelationID)
	}
	s.records[corrID] = &record{
		ex:      psm.New(corrID, kind, parties, s.clock.Now()),
		changed: make(chan struct{}),
	}
	glog.V(3).Infoln("registered", kind, "exchange:", corrID)
	return Handle{CorrelationID: corrID, Kind: kind, store: s}, nil
}

func (s *Store) get(corrID string) *record {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return s.records[corrID]
}

// Observe applies the state transition if the state orders after the current
// state of the exchange. A forward jump over the intermediate states is
// allowed because the events may arrive reordered. Stale, duplicate,
// unknown and post terminal notifications aren't errors: they are expected
// under at-least-once delivery, and Observe returns false for them.
func (s *Store) Observe(corrID string, state psm.State, payload psm.Payload) bool {
	r := s.get(corrID)
	if r == nil {
		glog.V(5).Infoln("observe: no exchange for", corrID, state)
		return false
	}

	r.Lock()
	if !r.ex.Accept(state) {
		if glog.V(3) {
			glog.Infof("observe %s: %s not accepted in %s", corrID, state, r.ex.State)
		}
		r.Unlock()
		return false
	}
	n := s.apply(r, state, payload)
	r.Unlock()

	s.broadcast(n)
	return true
}

// apply changes the state of the locked record.
func (s *Store) apply(r *record, state psm.State, payload psm.Payload) bus.Notify {
	now := s.clock.Now()
	from := r.ex.State
	r.ex.Apply(state, payload, now)
	if skipped := r.ex.Skipped(); len(skipped) > 0 {
		glog.V(2).Infof("%s: %s -> %s reordered, skipped %v",
			r.ex.CorrelationID, from, state, skipped)
	} else {
		glog.V(3).Infof("%s: %s -> %s", r.ex.CorrelationID, from, state)
	}
	r.wake()
	return bus.Notify{
		CorrelationID: r.ex.CorrelationID,
		Kind:          r.ex.Kind,
		From:          from,
		To:            state,
		Timestamp:     now.UnixNano(),
	}
}

func (s *Store) broadcast(n bus.Notify) {
	if s.station != nil {
		s.station.Broadcast(n)
	}
}

// AwaitState blocks until the exchange reaches or has passed the target
// state. It returns immediately when the state is already reached. The wait
// ends with *psm.TimeoutError when the timeout elapses, the context is
// cancelled, the wait is interrupted or the store is closed. Abandonment and
// terminal states from where the target can't be reached end the wait with
// psm.ErrProtocolRejected. The returned exchange is always the latest known
// snapshot.
func (s *Store) AwaitState(
	ctx context.Context,
	corrID string,
	target psm.State,
	timeout time.Duration,
) (psm.Exchange, error) {
	r := s.get(corrID)
	if r == nil {
		return psm.Exchange{}, fmt.Errorf("await %s: %w", corrID, psm.ErrNotFound)
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := s.clock.Timer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	r.Lock()
	irq := r.irq
	r.Unlock()

	for {
		r.Lock()
		ex := r.ex.Clone()
		ch := r.changed
		done, err := r.check(target, irq)
		r.Unlock()
		if done {
			return ex, err
		}
		if timerC == nil {
			return ex, timeoutError(ex, target, nil)
		}

		select {
		case <-ch:
		case <-timerC:
			r.Lock()
			ex = r.ex.Clone()
			done, err = r.check(target, irq)
			r.Unlock()
			if done {
				return ex, err
			}
			glog.V(2).Infoln("await timeout:", corrID, target, ex.State)
			return ex, timeoutError(ex, target, nil)
		case <-ctx.Done():
			return ex, timeoutError(ex, target, ctx.Err())
		}
	}
}

// check tells if the wait of the locked record is over.
func (r *record) check(target psm.State, irq int) (bool, error) {
	ex := r.ex
	switch {
	case ex.Kind.Reached(ex.State, target):
		return true, nil
	case ex.State == psm.Abandoned:
		return true, fmt.Errorf("%s: %w: exchange abandoned in %s",
			ex.CorrelationID, psm.ErrProtocolRejected, lastState(ex))
	case ex.IsReady() && !ex.Accept(target):
		return true, fmt.Errorf("%s: %w: %s unreachable from %s",
			ex.CorrelationID, psm.ErrProtocolRejected, target, ex.State)
	case r.irq != irq:
		return true, timeoutError(ex.Clone(), target, r.irqCause)
	case r.closed:
		return true, timeoutError(ex.Clone(), target, psm.ErrStoreClosed)
	}
	return false, nil
}

// lastState returns the last state before abandonment.
func lastState(ex *psm.Exchange) psm.State {
	if n := len(ex.History); n > 0 {
		return ex.History[n-1].From
	}
	return ex.State
}

func timeoutError(ex psm.Exchange, target psm.State, cause error) error {
	last := ex.State
	if last == psm.Abandoned {
		last = lastState(&ex)
	}
	return &psm.TimeoutError{
		CorrelationID: ex.CorrelationID,
		Target:        target,
		LastState:     last,
		Cause:         cause,
	}
}

// Attempt counts a retry for the current transition of the exchange and
// returns the count. A terminal exchange isn't counted anymore.
func (s *Store) Attempt(corrID string) int {
	r := s.get(corrID)
	if r == nil {
		return 0
	}
	r.Lock()
	defer r.Unlock()
	if r.ex.IsReady() {
		return r.ex.Attempts
	}
	r.ex.Attempts++
	return r.ex.Attempts
}

// Abandon moves a non terminal exchange to the abandoned state.
func (s *Store) Abandon(corrID, reason string) bool {
	return s.Observe(corrID, psm.Abandoned, psm.Payload{"reason": reason})
}

// Revoke moves a done credential exchange to the revoked state.
func (s *Store) Revoke(corrID string) error {
	r := s.get(corrID)
	if r == nil {
		return fmt.Errorf("revoke %s: %w", corrID, psm.ErrNotFound)
	}
	r.Lock()
	if r.ex.State == psm.Revoked {
		r.Unlock()
		return nil
	}
	if !r.ex.Accept(psm.Revoked) {
		state := r.ex.State
		r.Unlock()
		return fmt.Errorf("revoke %s: %w: cannot revoke in %s",
			corrID, psm.ErrProtocolRejected, state)
	}
	n := s.apply(r, psm.Revoked, nil)
	r.Unlock()

	s.broadcast(n)
	return nil
}

// Interrupt wakes up the current waiters of the exchanges. They receive a
// timeout error carrying the cause. The waits started after Interrupt aren't
// affected.
func (s *Store) Interrupt(corrIDs []string, cause error) {
	for _, id := range corrIDs {
		r := s.get(id)
		if r == nil {
			continue
		}
		r.Lock()
		r.irq++
		r.irqCause = cause
		r.wake()
		r.Unlock()
		glog.V(3).Infoln("interrupted:", id, cause)
	}
}

// Get returns the snapshot of the exchange.
func (s *Store) Get(corrID string) (psm.Exchange, bool) {
	r := s.get(corrID)
	if r == nil {
		return psm.Exchange{}, false
	}
	r.Lock()
	defer r.Unlock()
	return r.ex.Clone(), true
}

// Active returns the snapshots of the tracked exchanges ordered by creation
// time.
func (s *Store) Active() []psm.Exchange {
	s.lk.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.lk.RUnlock()

	exs := make([]psm.Exchange, 0, len(recs))
	for _, r := range recs {
		r.Lock()
		exs = append(exs, r.ex.Clone())
		r.Unlock()
	}
	sort.Slice(exs, func(i, j int) bool {
		if exs[i].CreatedAt.Equal(exs[j].CreatedAt) {
			return exs[i].CorrelationID < exs[j].CorrelationID
		}
		return exs[i].CreatedAt.Before(exs[j].CreatedAt)
	})
	return exs
}

// Len returns the count of the tracked exchanges.
func (s *Store) Len() int {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return len(s.records)
}

// Retire removes a terminal exchange from the tracking and hands it to the
// archive if one is set.
func (s *Store) Retire(corrID string) error {
	r := s.get(corrID)
	if r == nil {
		return fmt.Errorf("retire %s: %w", corrID, psm.ErrNotFound)
	}
	r.Lock()
	ex := r.ex.Clone()
	r.Unlock()
	if !ex.IsReady() {
		return fmt.Errorf("retire %s in %s: %w", corrID, ex.State, psm.ErrNotTerminal)
	}

	s.lk.Lock()
	if s.records[corrID] == r {
		delete(s.records, corrID)
	}
	s.lk.Unlock()

	glog.V(3).Infoln("retired:", corrID, ex.State)
	if s.archive != nil {
		if err := s.archive.Archive(ex); err != nil {
			return fmt.Errorf("retire %s: archive: %w", corrID, err)
		}
	}
	return nil
}

// Close ends all of the outstanding waits. Their callers receive a timeout
// error with the cause psm.ErrStoreClosed and the last known state.
func (s *Store) Close() {
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, r := range s.records {
		r.Lock()
		r.closed = true
		r.wake()
		r.Unlock()
	}
	glog.V(1).Infoln("correlation store closed, exchanges:", len(s.records))
}

// SetRef saves the side identifier of the exchange. A terminal exchange only
// gets the refs it's still missing, because the peer's response may come
// after the exchange is over. Changing a saved ref of a terminal exchange is
// psm.ErrProtocolRejected.
func (s *Store) SetRef(corrID, name, value string) error {
	r := s.get(corrID)
	if r == nil {
		return fmt.Errorf("set ref %s: %w", corrID, psm.ErrNotFound)
	}
	r.Lock()
	defer r.Unlock()
	if old, ok := r.ex.Refs[name]; ok && r.ex.IsReady() {
		if old == value {
			return nil
		}
		return fmt.Errorf("set ref %s: %w: %s already set in %s",
			corrID, psm.ErrProtocolRejected, name, r.ex.State)
	}
	r.ex.SetRef(name, value)
	return nil
}
