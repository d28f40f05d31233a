package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/findy-network/findy-exchange/agent/cloudapi"
	"github.com/findy-network/findy-exchange/agent/cloudapi/cloudapitest"
	"github.com/findy-network/findy-exchange/agent/corr"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/sse"
	"github.com/lainio/err2/try"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	try.To(flag.Set("logtostderr", "true"))
	try.To(flag.Set("stderrthreshold", "WARNING"))
	try.To(flag.Set("v", "3"))
	flag.Parse()
	os.Exit(m.Run())
}

var party = psm.Party{Name: "holder", WalletID: "w-1", APIKey: "key"}

// script is the event sequence of one opened stream. An empty script means
// open failure.
type script []sse.Event

type fakeStream struct {
	ctx    context.Context
	events []sse.Event
	once   sync.Once
	closed chan struct{}
}

func (f *fakeStream) Next() (sse.Event, error) {
	if len(f.events) > 0 {
		ev := f.events[0]
		f.events = f.events[1:]
		return ev, nil
	}
	select {
	case <-f.ctx.Done():
		return sse.Event{}, f.ctx.Err()
	case <-f.closed:
		return sse.Event{}, io.EOF
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeSource struct {
	gate     chan struct{}
	mu       sync.Mutex
	scripts  []script
	opens    int
	requests []StreamRequest
}

// Open returns the next script. The last script is repeated.
func (f *fakeSource) Open(ctx context.Context, r StreamRequest) (sse.Stream, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.requests = append(f.requests, r)
	sc := f.scripts[0]
	if len(f.scripts) > 1 {
		f.scripts = f.scripts[1:]
	}
	if sc == nil {
		return nil, errors.New("connection refused")
	}
	return &fakeStream{ctx: ctx, events: append([]sse.Event(nil), sc...),
		closed: make(chan struct{})}, nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func data(topic, corrID string, state psm.State) sse.Event {
	field := psm.KindForTopic(topic).CorrelationField()
	b, _ := json.Marshal(Message{WalletID: party.WalletID, Topic: topic,
		Payload: map[string]interface{}{field: corrID, "state": string(state)}})
	return sse.Event{Data: string(b)}
}

var ping = sse.Event{Comment: "ping"}

type recorder struct {
	sync.Mutex
	ids         []string
	observed    []psm.State
	interrupted []string
	cause       error
}

func (r *recorder) Observe(id string, s psm.State, _ psm.Payload) bool {
	r.Lock()
	defer r.Unlock()
	r.ids = append(r.ids, id)
	r.observed = append(r.observed, s)
	return true
}

func (r *recorder) Interrupt(ids []string, cause error) {
	r.Lock()
	defer r.Unlock()
	r.interrupted = append(r.interrupted, ids...)
	r.cause = cause
}

func (r *recorder) states() []psm.State {
	r.Lock()
	defer r.Unlock()
	return append([]psm.State(nil), r.observed...)
}

func (r *recorder) observedIDs() []string {
	r.Lock()
	defer r.Unlock()
	return append([]string(nil), r.ids...)
}

func buffered(sub *subscription) int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.recent)
}

func cfg(retries int) Config {
	return Config{MaxEmptyPings: 3, Retries: retries, RetryDelay: time.Millisecond}
}

func TestSubscriber_PingBreach(t *testing.T) {
	tests := []struct {
		name       string
		pings      int
		reconnects int64
	}{
		{"below threshold", 2, 0},
		{"one breach", 3, 1},
		{"still one breach", 5, 1},
		{"two breaches", 6, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// the pings are split per stream: a breach ends the stream and
			// the rest are not sent
			src := &fakeSource{}
			rest := tt.pings
			for rest >= 3 {
				src.scripts = append(src.scripts, script{ping, ping, ping})
				rest -= 3
			}
			last := script{data("proofs", "p-1", psm.RequestReceived)}
			for i := 0; i < rest; i++ {
				last = append(script{ping}, last...)
			}
			src.scripts = append(src.scripts, last)

			rec := &recorder{}
			s := New(rec, src, cfg(5))
			h, err := s.Subscribe(party, "proofs", "p-1", time.Minute)
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				return len(rec.states()) == 1
			}, 2*time.Second, 5*time.Millisecond)

			st := s.Stats()
			assert.Equal(t, tt.reconnects, st.Reconnects)
			assert.Equal(t, int(tt.reconnects)+1, src.openCount())
			assert.Equal(t, int64(tt.pings), st.Pings)
			assert.NoError(t, h.Err())

			s.Unsubscribe(h)
			s.Close()
		})
	}
}

func TestSubscriber_SameLookBack(t *testing.T) {
	src := &fakeSource{scripts: []script{{ping, ping, ping}, {data("credentials", "c-1", psm.Done)}}}
	rec := &recorder{}
	s := New(rec, src, cfg(5))
	defer s.Close()

	_, err := s.Subscribe(party, "credentials", "c-1", 45*time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.states()) == 1 },
		2*time.Second, 5*time.Millisecond)

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.requests, 2)
	for _, r := range src.requests {
		assert.Equal(t, 45*time.Second, r.LookBack)
		assert.Equal(t, "credentials", r.Topic)
		assert.Equal(t, "key", r.Credentials.APIKey)
	}
}

func TestSubscriber_Exhausted(t *testing.T) {
	src := &fakeSource{scripts: []script{nil}}
	rec := &recorder{}
	c := cfg(2)
	c.RetryDelay = 50 * time.Millisecond
	s := New(rec, src, c)
	defer s.Close()

	h1, err := s.Subscribe(party, "connections", "conn-1", time.Minute)
	require.NoError(t, err)
	h2, err := s.Subscribe(party, "connections", "conn-2", time.Minute)
	require.NoError(t, err)

	select {
	case <-h1.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription didn't fail")
	}
	<-h2.Done()
	assert.ErrorIs(t, h1.Err(), psm.ErrSubscriptionFailed)
	assert.ErrorIs(t, h2.Err(), psm.ErrSubscriptionFailed)
	assert.Equal(t, 3, src.openCount())

	rec.Lock()
	assert.ElementsMatch(t, []string{"conn-1", "conn-2"}, rec.interrupted)
	assert.ErrorIs(t, rec.cause, psm.ErrSubscriptionFailed)
	rec.Unlock()

	st := s.Stats()
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(2), st.Reconnects)
	assert.Equal(t, 0, st.Active)

	// a new subscribe opens a new stream
	src.mu.Lock()
	src.scripts = []script{{data("connections", "conn-1", psm.Completed)}}
	src.mu.Unlock()
	h3, err := s.Subscribe(party, "connections", "conn-1", time.Minute)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.states()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.NoError(t, h3.Err())
}

func TestSubscriber_BudgetRefill(t *testing.T) {
	// every stream delivers data and then dies, so the budget of one retry
	// is never used up
	sc := script{data("proofs", "p-1", psm.RequestReceived), ping, ping, ping}
	src := &fakeSource{scripts: []script{sc, sc, sc, sc, {data("proofs", "p-1", psm.Done)}}}
	rec := &recorder{}
	s := New(rec, src, cfg(1))
	defer s.Close()

	h, err := s.Subscribe(party, "proofs", "p-1", time.Minute)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st := rec.states()
		return len(st) == 5 && st[4] == psm.Done
	}, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, h.Err())
}

func TestSubscriber_FanOut(t *testing.T) {
	src := &fakeSource{scripts: []script{{
		{Data: "not json"},
		data("credentials", "other", psm.OfferReceived),
		data("proofs", "c-1", psm.Done),
		data("credentials", "c-1", psm.OfferReceived),
		data("credentials", "c-2", psm.OfferReceived),
	}}, gate: make(chan struct{})}
	rec := &recorder{}
	s := New(rec, src, cfg(0))
	defer s.Close()

	h1, err := s.Subscribe(party, "credentials", "c-1", time.Minute)
	require.NoError(t, err)
	h2, err := s.Subscribe(party, "credentials", "c-2", time.Minute)
	require.NoError(t, err)
	close(src.gate)

	require.Eventually(t, func() bool { return len(rec.states()) == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, src.openCount())
	assert.Equal(t, 1, s.Stats().Active)
	assert.Equal(t, int64(2), s.Stats().Skipped)

	s.Unsubscribe(h1)
	s.Unsubscribe(h1)
	assert.Equal(t, 1, s.Stats().Active)
	s.Unsubscribe(h2)
	assert.Equal(t, 0, s.Stats().Active)
	select {
	case <-h2.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream not stopped")
	}
	assert.NoError(t, h2.Err())
}

func TestSubscriber_Errors(t *testing.T) {
	s := New(&recorder{}, &fakeSource{scripts: []script{{}}}, cfg(0))
	_, err := s.Subscribe(party, "basicmessages", "x", 0)
	assert.Error(t, err)
	_, err = s.Subscribe(party, "proofs", "", 0)
	assert.ErrorIs(t, err, psm.ErrInvalidCorrelationID)

	s.Close()
	_, err = s.Subscribe(party, "proofs", "p", 0)
	assert.ErrorIs(t, err, psm.ErrSubscriptionFailed)
	s.Unsubscribe(nil)
}

// The store waits are fed by the real event streams of the fake Cloud API,
// and a dead stream is replaced with the look-back replay.
func TestSubscriber_CloudAPI(t *testing.T) {
	fake := cloudapitest.New()
	defer fake.Close()
	fake.PingInterval = 10 * time.Millisecond
	issuer := fake.AddTenant("issuer")
	api := cloudapi.New(fake.URL, time.Second)

	store := corr.New()
	s := New(store, api, cfg(5))
	defer s.Close()

	_, err := store.Register("t-1", psm.Credential, psm.Parties{Initiator: issuer})
	require.NoError(t, err)
	fake.Mute(issuer.WalletID, true)
	h, err := s.Subscribe(issuer, "credentials", "t-1", time.Minute)
	require.NoError(t, err)
	defer s.Unsubscribe(h)
	require.Eventually(t, func() bool { return s.Stats().Opened >= 1 },
		2*time.Second, 5*time.Millisecond)

	// the live event is lost but the reconnect after the pings replays it
	fake.Publish(issuer.WalletID, "credentials",
		map[string]interface{}{"thread_id": "t-1", "state": "request-received"})

	ex, err := store.AwaitState(context.Background(), "t-1", psm.RequestReceived, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, psm.RequestReceived, ex.State)
	assert.GreaterOrEqual(t, s.Stats().Reconnects, int64(1))
}

func TestSubscriber_JoinOpenStream(t *testing.T) {
	src := &fakeSource{scripts: []script{{
		data("credentials", "t-1", psm.OfferReceived),
		data("credentials", "t-2", psm.OfferReceived),
	}}}
	rec := &recorder{}
	c := cfg(0)
	mock := clock.NewMock()
	c.Clock = mock
	s := New(rec, src, c)
	defer s.Close()

	h, err := s.Subscribe(party, "credentials", "other", 45*time.Second)
	require.NoError(t, err)
	defer s.Unsubscribe(h)
	require.Eventually(t, func() bool { return buffered(h.sub) == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.states())

	mock.Add(30 * time.Second)

	tests := []struct {
		name     string
		corrID   string
		lookBack time.Duration
		want     []string
	}{
		{"inside window", "t-2", 45 * time.Second, []string{"t-2"}},
		{"outside window", "t-1", 10 * time.Second, []string{"t-2"}},
		{"longer window", "t-1", 2 * time.Minute, []string{"t-2", "t-1"}},
		{"nothing buffered", "t-3", time.Minute, []string{"t-2", "t-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := s.Subscribe(party, "credentials", tt.corrID, tt.lookBack)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.observedIDs())
			s.Unsubscribe(h)
		})
	}
	assert.Equal(t, 1, src.openCount())
	assert.Equal(t, 2*time.Minute, h.sub.request().LookBack)
	assert.Equal(t, int64(2), s.Stats().Delivered)
}

// An exchange which joins an already open stream sees the event the stream
// received before the exchange was registered.
func TestSubscriber_JoinLate(t *testing.T) {
	fake := cloudapitest.New()
	defer fake.Close()
	holder := fake.AddTenant("holder")
	api := cloudapi.New(fake.URL, time.Second)

	store := corr.New()
	s := New(store, api, cfg(5))
	defer s.Close()

	h, err := s.Subscribe(holder, "credentials", "other", 45*time.Second)
	require.NoError(t, err)
	defer s.Unsubscribe(h)
	require.Eventually(t, func() bool { return s.Stats().Opened >= 1 },
		2*time.Second, 5*time.Millisecond)

	fake.Publish(holder.WalletID, "credentials",
		map[string]interface{}{"thread_id": "t-2", "state": "offer-received"})
	require.Eventually(t, func() bool { return buffered(h.sub) == 1 },
		2*time.Second, 5*time.Millisecond)

	_, err = store.Register("t-2", psm.Credential, psm.Parties{Responder: holder})
	require.NoError(t, err)
	h2, err := s.Subscribe(holder, "credentials", "t-2", 45*time.Second)
	require.NoError(t, err)
	defer s.Unsubscribe(h2)

	ex, err := store.AwaitState(context.Background(), "t-2", psm.OfferReceived, time.Second)
	require.NoError(t, err)
	assert.Equal(t, psm.OfferReceived, ex.State)
	assert.Equal(t, 1, s.Stats().Active)
}
