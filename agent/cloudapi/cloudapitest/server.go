// Package cloudapitest is an in-memory Cloud API for the tests. It runs the
// connection, credential and proof protocols between its tenants and
// publishes their state events to the SSE streams like the real service.
package cloudapitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/findy-network/findy-exchange/agent/cloudapi"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
)

type event struct {
	at     time.Time
	wallet string
	topic  string
	data   []byte
}

type client struct {
	wallet string
	topic  string
	ch     chan []byte
	drop   chan struct{}
}

type connection struct {
	id     string
	wallet string
	peer   string // connection id of the other end
}

type record struct {
	id       string
	wallet   string
	thread   string
	peer     string // record id of the other end
	state    psm.State
	verified *bool
}

// Server is the fake Cloud API.
type Server struct {
	*httptest.Server

	// PingInterval is the keep-alive interval of the streams.
	PingInterval time.Duration

	// EventDelay is the delay of the asynchronous protocol events.
	EventDelay time.Duration

	// SyncEvents publishes the first asynchronous event of a request before
	// the response is written, like a fast peer agent does.
	SyncEvents bool

	// RejectProofs makes the verifiers report the proofs not verified.
	RejectProofs bool

	// ProverDoneFirst publishes the prover's done event before the
	// verifier's.
	ProverDoneFirst bool

	mu          sync.Mutex
	tenants     map[string]string // api key -> wallet id
	invitations map[string]string // invitation id -> connection id
	conns       map[string]*connection
	creds       map[string]*record
	proofs      map[string]*record
	history     []event
	clients     map[*client]struct{}
	failOpens   int
	failPosts   int
	mute        map[string]bool
	calls       map[string]int
}

// New starts the fake server.
func New() *Server {
	s := &Server{
		PingInterval: time.Second,
		EventDelay:   5 * time.Millisecond,
		tenants:      make(map[string]string),
		invitations:  make(map[string]string),
		conns:        make(map[string]*connection),
		creds:        make(map[string]*record),
		proofs:       make(map[string]*record),
		clients:      make(map[*client]struct{}),
		mute:         make(map[string]bool),
		calls:        make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route(cloudapi.TenantPrefix, func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/connections/create-invitation", s.createInvitation)
		r.Post("/connections/accept-invitation", s.acceptInvitation)
		r.Post("/issuer/credentials", s.sendCredential)
		r.Get("/issuer/credentials", s.listCredentials)
		r.Post("/issuer/credentials/revoke", s.revokeCredential)
		r.Post("/issuer/credentials/{id}/request", s.requestCredential)
		r.Post("/verifier/send-request", s.sendProofRequest)
		r.Get("/verifier/proofs", s.listProofs)
		r.Get("/verifier/proofs/{id}", s.getProof)
		r.Get("/verifier/proofs/{id}/credentials", s.proofCredentials)
		r.Post("/verifier/accept-request", s.acceptProofRequest)
		r.Get("/sse/{wallet}/{topic}", s.stream)
	})
	r.Delete(cloudapi.AdminPrefix+"/tenants/{id}", s.deleteTenant)
	return r
}

// AddTenant adds the tenant wallet and returns it as a party.
func (s *Server) AddTenant(name string) psm.Party {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := psm.Party{
		Name:     name,
		WalletID: "wallet-" + name,
		APIKey:   "tenant." + name + "." + utils.NewNonceStr(),
	}
	s.tenants[p.APIKey] = p.WalletID
	return p
}

// FailOpens makes the next n stream opens fail with 503.
func (s *Server) FailOpens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpens = n
}

// FailPosts makes the next n POST requests fail with 503.
func (s *Server) FailPosts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPosts = n
}

// Mute stops delivering the live events to the wallet's streams. They get
// only pings, but the events are still recorded to the history.
func (s *Server) Mute(wallet string, mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute[wallet] = mute
}

// DropStreams closes all of the open streams.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.drop)
		delete(s.clients, c)
	}
}

// Calls returns the count of the calls to the route pattern.
func (s *Server) Calls(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[pattern]
}

// Publish sends the event to the wallet's topic stream.
func (s *Server) Publish(wallet, topic string, payload map[string]interface{}) {
	data, err := json.Marshal(map[string]interface{}{
		"wallet_id": wallet,
		"topic":     topic,
		"origin":    "fake",
		"payload":   payload,
	})
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, event{at: time.Now(), wallet: wallet, topic: topic, data: data})
	if s.mute[wallet] {
		return
	}
	for c := range s.clients {
		if c.wallet != wallet || c.topic != topic {
			continue
		}
		select {
		case c.ch <- data:
		default:
			glog.Warningln("fake cloud api: stream full", wallet, topic)
		}
	}
}

// publishLater publishes the events in order after the event delay. With
// SyncEvents the first one is published at once.
func (s *Server) publishLater(evs ...func()) {
	if s.SyncEvents && len(evs) > 0 {
		evs[0]()
		evs = evs[1:]
	}
	go func() {
		for _, f := range evs {
			time.Sleep(s.EventDelay)
			f()
		}
	}()
}

type ctxKey struct{}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		wallet, ok := s.tenants[r.Header.Get(cloudapi.APIKeyHeader)]
		fail := false
		if r.Method == http.MethodPost && s.failPosts > 0 {
			s.failPosts--
			fail = true
		}
		s.mu.Unlock()

		if !ok {
			http.Error(w, `{"detail":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if fail {
			http.Error(w, `{"detail":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		r.Header.Set("X-Wallet-Id", wallet)
		next.ServeHTTP(w, r)

		rc := chi.RouteContext(r.Context())
		if rc != nil && !strings.Contains(rc.RoutePattern(), "/sse/") {
			s.mu.Lock()
			s.calls[r.Method+" "+rc.RoutePattern()]++
			s.mu.Unlock()
		}
	})
}

func wallet(r *http.Request) string {
	return r.Header.Get("X-Wallet-Id")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, what string) {
	http.Error(w, fmt.Sprintf(`{"detail":"%s not found"}`, what), http.StatusNotFound)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	walletID, topic := chi.URLParam(r, "wallet"), chi.URLParam(r, "topic")
	if walletID != wallet(r) {
		http.Error(w, `{"detail":"forbidden"}`, http.StatusForbidden)
		return
	}
	lookBack, _ := strconv.Atoi(r.URL.Query().Get("look_back"))
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "no flush", http.StatusInternalServerError)
		return
	}

	c := &client{wallet: walletID, topic: topic,
		ch: make(chan []byte, 256), drop: make(chan struct{})}

	s.mu.Lock()
	if s.failOpens > 0 {
		s.failOpens--
		s.mu.Unlock()
		http.Error(w, `{"detail":"unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	since := time.Now().Add(-time.Duration(lookBack) * time.Second)
	var replay [][]byte
	for _, ev := range s.history {
		if ev.wallet == walletID && ev.topic == topic && !ev.at.Before(since) {
			replay = append(replay, ev.data)
		}
	}
	s.clients[c] = struct{}{}
	s.calls["GET "+cloudapi.TenantPrefix+"/sse/{wallet}/{topic}"]++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, data := range replay {
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	flusher.Flush()

	ping := time.NewTicker(s.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.drop:
			return
		case data := <-c.ch:
			fmt.Fprintf(w, "data: %s\n\n", data)
		case t := <-ping.C:
			fmt.Fprintf(w, ": ping - %s\n\n", t.Format(time.RFC3339))
		}
		flusher.Flush()
	}
}

func (s *Server) deleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.tenants {
		if v == id {
			delete(s.tenants, k)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	notFound(w, "tenant")
}
