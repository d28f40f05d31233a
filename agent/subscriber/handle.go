package subscriber

import (
	"context"
	"sync"
	"time"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/utils"
)

// Handle is the caller's reference to its subscription.
type Handle struct {
	corrID string
	sub    *subscription
}

// CorrelationID returns the correlation id the handle was subscribed for.
func (h *Handle) CorrelationID() string {
	return h.corrID
}

// Err returns psm.ErrSubscriptionFailed wrapped if the stream couldn't be
// kept open.
func (h *Handle) Err() error {
	if h.sub == nil {
		return nil
	}
	return h.sub.failure()
}

// Done is closed when the stream of the handle is stopped for good.
func (h *Handle) Done() <-chan struct{} {
	if h.sub == nil {
		return nil
	}
	return h.sub.done
}

type subscription struct {
	id       string
	key      key
	party    psm.Party
	lookBack time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	corrIDs map[string]int
	handles map[*Handle]struct{}
	recent  []recent
	err     error
}

// recent is a received event kept for the ids which join the stream later.
type recent struct {
	corrID  string
	state   psm.State
	payload psm.Payload
	at      time.Time
}

// maxRecent caps the replay buffer of one stream.
const maxRecent = 512

func (s *Subscriber) newSubscription(k key, party psm.Party, lookBack time.Duration) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{
		id:       utils.UUID(),
		key:      k,
		party:    party,
		lookBack: lookBack,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		corrIDs:  make(map[string]int),
		handles:  make(map[*Handle]struct{}),
	}
}

func (sub *subscription) request() StreamRequest {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return StreamRequest{
		WalletID:    sub.key.wallet,
		Topic:       sub.key.topic,
		LookBack:    sub.lookBack,
		Credentials: sub.party,
	}
}

// add adds the handle and returns the buffered events of its correlation id
// which arrived inside the look-back window before it joined.
func (sub *subscription) add(h *Handle, lookBack time.Duration, now time.Time) []recent {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if lookBack > sub.lookBack {
		sub.lookBack = lookBack
	}
	sub.handles[h] = struct{}{}
	sub.corrIDs[h.corrID]++

	sub.prune(now)
	var evs []recent
	for _, r := range sub.recent {
		if r.corrID == h.corrID && !now.Add(-lookBack).After(r.at) {
			evs = append(evs, r)
		}
	}
	return evs
}

// record buffers the event and tells if its id is in the fan-out set. Both
// are done under the same lock, so an event is either delivered or replayed
// to a joining id.
func (sub *subscription) record(r recent) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.prune(r.at)
	if sub.lookBack > 0 && r.corrID != "" {
		sub.recent = append(sub.recent, r)
		if len(sub.recent) > maxRecent {
			sub.recent = sub.recent[len(sub.recent)-maxRecent:]
		}
	}
	_, ok := sub.corrIDs[r.corrID]
	return ok
}

func (sub *subscription) prune(now time.Time) {
	from := now.Add(-sub.lookBack)
	i := 0
	for i < len(sub.recent) && sub.recent[i].at.Before(from) {
		i++
	}
	sub.recent = sub.recent[i:]
}

// remove removes the handle and tells if it was there.
func (sub *subscription) remove(h *Handle) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if _, ok := sub.handles[h]; !ok {
		return false
	}
	delete(sub.handles, h)
	if sub.corrIDs[h.corrID]--; sub.corrIDs[h.corrID] <= 0 {
		delete(sub.corrIDs, h.corrID)
	}
	return true
}

func (sub *subscription) len() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.handles)
}

// setErr sets the failure and returns the current fan-out set.
func (sub *subscription) setErr(err error) []string {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.err = err
	ids := make([]string, 0, len(sub.corrIDs))
	for id := range sub.corrIDs {
		ids = append(ids, id)
	}
	return ids
}

func (sub *subscription) failure() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}
