// Package subscriber keeps the wallets' event streams open and feeds the
// matching events to the correlation store. One stream per wallet and topic
// is shared by all the exchanges which wait for events from it.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/sse"
	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/golang/glog"
	"go.uber.org/atomic"
)

// StreamRequest is the scope of the stream to open.
type StreamRequest = sse.Request

// EventSource opens the event streams.
type EventSource interface {
	Open(ctx context.Context, r StreamRequest) (sse.Stream, error)
}

// Observer receives the events. It's implemented by the correlation store.
type Observer interface {
	Observe(corrID string, state psm.State, payload psm.Payload) bool
	Interrupt(corrIDs []string, cause error)
}

// Config is the reconnect policy of the streams.
type Config struct {
	// MaxEmptyPings is the count of the consecutive keep-alives which is
	// treated as a dead connection.
	MaxEmptyPings int

	// Retries is the reconnect budget. It's refilled after every data
	// event.
	Retries int

	RetryDelay time.Duration
	Clock      clock.Clock
}

// DefaultConfig returns the config from the runtime settings.
func DefaultConfig() Config {
	s := utils.Settings
	return Config{
		MaxEmptyPings: s.MaxEmptyPings(),
		Retries:       s.StreamRetries(),
		RetryDelay:    s.StreamRetryDelay(),
		Clock:         clock.New(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxEmptyPings <= 0 {
		c.MaxEmptyPings = d.MaxEmptyPings
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return c
}

var (
	errDeadConnection = errors.New("too many empty pings")
	errClosed         = errors.New("subscriber closed")
)

type key struct {
	wallet string
	topic  string
}

func (k key) String() string {
	return k.wallet + "/" + k.topic
}

// Stats are the counters of the subscriber.
type Stats struct {
	Opened     int64 `json:"opened"`
	Reconnects int64 `json:"reconnects"`
	Pings      int64 `json:"pings"`
	Delivered  int64 `json:"delivered"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
	Active     int   `json:"active"`
}

type counters struct {
	opened     atomic.Int64
	reconnects atomic.Int64
	pings      atomic.Int64
	delivered  atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

// Subscriber owns the subscriptions. It's safe for concurrent use.
type Subscriber struct {
	obs Observer
	src EventSource
	cfg Config

	lk     sync.Mutex
	subs   map[key]*subscription
	closed bool
	wg     sync.WaitGroup

	counters
}

func New(obs Observer, src EventSource, cfg Config) *Subscriber {
	return &Subscriber{
		obs:  obs,
		src:  src,
		cfg:  cfg.withDefaults(),
		subs: make(map[key]*subscription),
	}
}

// Subscribe adds the correlation id to the fan-out set of the wallet's topic
// stream. The stream is opened if there isn't one already. The events
// arriving before the stream is open are replayed from the look-back window.
//
// When the stream is already open, the id's events it received inside the
// look-back are replayed to the observer at once. A shared stream reconnects
// with the longest look-back of its subscribers, but it keeps the
// credentials of the party which opened it.
func (s *Subscriber) Subscribe(
	party psm.Party,
	topic, corrID string,
	lookBack time.Duration,
) (*Handle, error) {
	if !psm.KindForTopic(topic).Valid() {
		return nil, fmt.Errorf("subscribe %s: unknown topic %q", party, topic)
	}
	if corrID == "" || party.WalletID == "" {
		return nil, fmt.Errorf("subscribe %s: %w", party, psm.ErrInvalidCorrelationID)
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %v", psm.ErrSubscriptionFailed, errClosed)
	}
	k := key{wallet: party.WalletID, topic: topic}
	sub := s.subs[k]
	if sub == nil || sub.failure() != nil {
		sub = s.newSubscription(k, party, lookBack)
		s.subs[k] = sub
		s.wg.Add(1)
		go s.run(sub)
	}
	h := &Handle{corrID: corrID, sub: sub}
	replay := sub.add(h, lookBack, s.cfg.Clock.Now())
	glog.V(3).Infoln(party, "subscribed", topic, corrID, "sub:", sub.id,
		"replayed:", len(replay))
	for _, r := range replay {
		s.delivered.Inc()
		s.obs.Observe(r.corrID, r.state, r.payload)
	}
	return h, nil
}

// Unsubscribe removes the handle's correlation id from the fan-out set. The
// stream is closed with the last handle. It's idempotent.
func (s *Subscriber) Unsubscribe(h *Handle) {
	if h == nil || h.sub == nil {
		return
	}
	sub := h.sub
	s.lk.Lock()
	defer s.lk.Unlock()

	if !sub.remove(h) {
		return
	}
	glog.V(3).Infoln("unsubscribed", sub.key, h.corrID)
	if sub.len() == 0 {
		if s.subs[sub.key] == sub {
			delete(s.subs, sub.key)
		}
		sub.cancel()
	}
}

// Close closes all of the streams and waits the listeners to stop.
func (s *Subscriber) Close() {
	s.lk.Lock()
	s.closed = true
	for k, sub := range s.subs {
		sub.cancel()
		delete(s.subs, k)
	}
	s.lk.Unlock()

	s.wg.Wait()
	glog.V(1).Infoln("subscriber closed")
}

// Stats returns the current counters.
func (s *Subscriber) Stats() Stats {
	s.lk.Lock()
	active := len(s.subs)
	s.lk.Unlock()

	return Stats{
		Opened:     s.opened.Load(),
		Reconnects: s.reconnects.Load(),
		Pings:      s.pings.Load(),
		Delivered:  s.delivered.Load(),
		Skipped:    s.skipped.Load(),
		Failed:     s.failed.Load(),
		Active:     active,
	}
}

// run is the listening loop of the subscription. It reconnects with the same
// look-back until the budget is used.
func (s *Subscriber) run(sub *subscription) {
	defer s.wg.Done()
	defer close(sub.done)

	budget := s.cfg.Retries
	for {
		delivered, err := s.listen(sub)
		if sub.ctx.Err() != nil {
			glog.V(3).Infoln("subscription stopped:", sub.key)
			return
		}
		if delivered {
			budget = s.cfg.Retries
		}
		if budget <= 0 {
			s.fail(sub, err)
			return
		}
		budget--
		s.reconnects.Inc()
		glog.Warningf("stream %s: %v, reconnect in %v (%d left)",
			sub.key, err, s.cfg.RetryDelay, budget)

		select {
		case <-sub.ctx.Done():
			return
		case <-s.cfg.Clock.After(s.cfg.RetryDelay):
		}
	}
}

// listen reads one stream until it fails, and tells if any data events were
// received.
func (s *Subscriber) listen(sub *subscription) (delivered bool, err error) {
	stream, err := s.src.Open(sub.ctx, sub.request())
	if err != nil {
		return false, err
	}
	s.opened.Inc()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sub.ctx.Done():
		case <-stop:
		}
		stream.Close()
	}()

	pings := 0
	for {
		ev, err := stream.Next()
		if err != nil {
			return delivered, err
		}
		if ev.IsPing() {
			pings++
			s.pings.Inc()
			glog.V(5).Infoln("ping", sub.key, pings)
			if pings >= s.cfg.MaxEmptyPings {
				return delivered, errDeadConnection
			}
			continue
		}
		pings = 0
		delivered = true
		s.deliver(sub, ev)
	}
}

// Message is the event data the Cloud API sends.
type Message struct {
	WalletID string                 `json:"wallet_id"`
	Topic    string                 `json:"topic"`
	Origin   string                 `json:"origin,omitempty"`
	Payload  map[string]interface{} `json:"payload"`
}

// CorrelationID returns the correlation id of the message in the kind.
func (m Message) CorrelationID(kind psm.Kind) string {
	s, _ := m.Payload[kind.CorrelationField()].(string)
	return s
}

// State returns the protocol state of the message.
func (m Message) State() psm.State {
	s, _ := m.Payload["state"].(string)
	return psm.State(s)
}

func (s *Subscriber) deliver(sub *subscription, ev sse.Event) {
	var msg Message
	if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
		glog.Warningln("stream", sub.key, "skip undecodable event:", err)
		s.skipped.Inc()
		return
	}
	if msg.Topic != sub.key.topic ||
		(msg.WalletID != "" && msg.WalletID != sub.key.wallet) {
		s.skipped.Inc()
		return
	}
	corrID := msg.CorrelationID(psm.KindForTopic(msg.Topic))
	ours := sub.record(recent{
		corrID:  corrID,
		state:   msg.State(),
		payload: msg.Payload,
		at:      s.cfg.Clock.Now(),
	})
	if !ours {
		glog.V(5).Infoln("stream", sub.key, "not ours:", corrID, msg.State())
		return
	}
	s.delivered.Inc()
	s.obs.Observe(corrID, msg.State(), msg.Payload)
}

// fail ends the subscription: the handles see the error and the waiters of
// the fan-out set are interrupted.
func (s *Subscriber) fail(sub *subscription, cause error) {
	err := fmt.Errorf("%w: %s: %v", psm.ErrSubscriptionFailed, sub.key, cause)
	ids := sub.setErr(err)
	s.failed.Inc()
	glog.Errorln(err)

	s.lk.Lock()
	if s.subs[sub.key] == sub {
		delete(s.subs, sub.key)
	}
	s.lk.Unlock()

	s.obs.Interrupt(ids, err)
}
