package bus

import (
	"sync"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/golang/glog"
	"github.com/lainio/err2/assert"
)

// AllKinds is the listener filter which receives every exchange kind.
const AllKinds = psm.Unknown

// Notify is a transition notification of an exchange.
type Notify struct {
	CorrelationID string
	Kind          psm.Kind
	From          psm.State
	To            psm.State
	Timestamp     int64
}

// NotifyChan is a listener's receiving channel. Station never blocks on it:
// if the buffer is full the notification is dropped.
type NotifyChan chan Notify

const bufSize = 16

type listener struct {
	ch   NotifyChan
	kind psm.Kind
}

// Station delivers exchange transitions to the listeners. Listeners are
// keyed by a client ID, and each can filter by exchange kind.
type Station struct {
	listeners map[string]listener
	lk        sync.Mutex

	ready   map[string]map[Ready]struct{}
	readyLk sync.Mutex
}

// Ready is the one-shot channel for the terminal state of an exchange.
type Ready chan psm.State

func newReady() Ready {
	return make(Ready, 1) // We need a buffered channel
}

func New() *Station {
	return &Station{
		listeners: make(map[string]listener),
		ready:     make(map[string]map[Ready]struct{}),
	}
}

// AddListener registers a listener with the client ID. The ID must be unique
// at the station.
func (s *Station) AddListener(clientID string, kind psm.Kind) NotifyChan {
	c := make(NotifyChan, bufSize)

	s.lk.Lock()
	_, alreadyExists := s.listeners[clientID]
	assert.That(!alreadyExists, "client: %s, already exists", clientID)
	s.listeners[clientID] = listener{ch: c, kind: kind}
	s.lk.Unlock()

	glog.V(4).Infoln("notify ADD for:", clientID)
	return c
}

// RmListener removes the listener and closes its channel.
func (s *Station) RmListener(clientID string) {
	s.lk.Lock()
	defer s.lk.Unlock()

	glog.V(4).Infoln("notify RM for:", clientID)
	l, ok := s.listeners[clientID]
	if ok {
		close(l.ch)
		delete(s.listeners, clientID)
	}
}

// Broadcast sends the notification to all the matching listeners and fires
// the ready channels when the new state is terminal.
func (s *Station) Broadcast(n Notify) {
	s.lk.Lock()
	for clientID, l := range s.listeners {
		if l.kind != AllKinds && l.kind != n.Kind {
			continue
		}
		select {
		case l.ch <- n:
		default:
			glog.Warningln(clientID, "listener full, drop notify:",
				n.CorrelationID, n.To)
		}
	}
	s.lk.Unlock()

	if n.To.IsTerminal() {
		s.BroadcastReady(n.CorrelationID, n.To)
	}
}

// StartListen returns a channel which receives the next terminal state of
// the exchange once. An exchange can have many ready listeners.
func (s *Station) StartListen(corrID string) Ready {
	s.readyLk.Lock()
	defer s.readyLk.Unlock()

	c := newReady()
	if s.ready[corrID] == nil {
		s.ready[corrID] = make(map[Ready]struct{})
	}
	s.ready[corrID][c] = struct{}{}
	return c
}

// StopListen removes the ready listener if it's not fired yet.
func (s *Station) StopListen(corrID string, c Ready) {
	s.readyLk.Lock()
	defer s.readyLk.Unlock()

	delete(s.ready[corrID], c)
	if len(s.ready[corrID]) == 0 {
		delete(s.ready, corrID)
	}
}

// BroadcastReady sends the terminal state to the ready listeners of the
// exchange.
func (s *Station) BroadcastReady(corrID string, state psm.State) {
	s.readyLk.Lock()
	cs, found := s.ready[corrID]
	// we broadcast the ready-info only once
	delete(s.ready, corrID)
	s.readyLk.Unlock()

	if !found {
		return
	}
	glog.V(4).Infoln("ready:", corrID, state, "listeners:", len(cs))
	for c := range cs {
		c <- state
	}
}
