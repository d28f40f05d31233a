package psm

import (
	"time"
)

/*
@startuml
title Exchange

[*] -> initial: register
initial -> next: observe successor
initial -> later: observe reordered
next -> terminal
later -> terminal
initial --> abandoned: abandon
next --> abandoned: abandon
terminal -> revoked: revoke\n(credential only)
abandoned -> [*]
terminal -> [*]
revoked -> [*]
@enduml
*/

// Party is one end of the exchange. The credentials are opaque for us: they
// are only attached to the outbound calls.
type Party struct {
	Name        string `yaml:"name" json:"name,omitempty"`
	WalletID    string `yaml:"wallet_id" json:"wallet_id"`
	APIKey      string `yaml:"api_key" json:"-"`
	BearerToken string `yaml:"bearer_token" json:"-"`
}

// String returns a printable name which never includes the credentials.
func (p Party) String() string {
	if p.Name != "" {
		return p.Name
	}
	return p.WalletID
}

// Parties is the ordered pair of the protocol ends.
type Parties struct {
	Initiator Party `json:"initiator"`
	Responder Party `json:"responder"`
}

// Payload is the decoded payload object of the event that produced a state.
type Payload map[string]interface{}

// Str returns the string field of the payload or empty string.
func (p Payload) Str(name string) string {
	if p == nil {
		return ""
	}
	s, _ := p[name].(string)
	return s
}

// Transition is one state change in the exchange's history.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Exchange is one multi-step protocol instance. It works in event sourcing
// principle: every applied state change is saved to History, and State is
// always the latest of them.
type Exchange struct {
	// CorrelationID is the thread or connection id given by the Cloud API.
	CorrelationID string `json:"correlation_id"`

	Kind  Kind  `json:"kind"`
	State State `json:"state"`

	Parties Parties `json:"parties"`

	CreatedAt        time.Time `json:"created_at"`
	LastTransitionAt time.Time `json:"last_transition_at"`

	// Attempts counts retries consumed for the current transition. It's
	// reset at every applied transition.
	Attempts int `json:"attempts"`

	History  []Transition      `json:"history,omitempty"`
	Payloads map[State]Payload `json:"payloads,omitempty"`

	// Refs are the side identifiers of the parties' own records, like the
	// issuer's credential_id which is needed for the revocation.
	Refs map[string]string `json:"refs,omitempty"`
}

// New returns an exchange in the initial state of the kind.
func New(id string, kind Kind, parties Parties, now time.Time) *Exchange {
	return &Exchange{
		CorrelationID:    id,
		Kind:             kind,
		State:            kind.Initial(),
		Parties:          parties,
		CreatedAt:        now,
		LastTransitionAt: now,
		Payloads:         make(map[State]Payload),
	}
}

// IsReady tells if the exchange has reached a terminal state.
func (e *Exchange) IsReady() bool {
	return e.State.IsTerminal()
}

// Accept tells if the exchange can move to the given state. Stale and
// duplicate states are not accepted, and neither is anything after a
// terminal state except the credential revocation.
func (e *Exchange) Accept(s State) bool {
	if e.State == Done && s == Revoked {
		return e.Kind == Credential
	}
	if e.IsReady() {
		return false
	}
	if s == Abandoned {
		return true
	}
	if s == Revoked {
		return false
	}
	cur, ok := e.Kind.Order(e.State)
	if !ok {
		return false
	}
	next, ok := e.Kind.Order(s)
	if !ok {
		return false
	}
	return next > cur
}

// Apply moves the exchange to the state. It doesn't check the transition,
// call Accept first.
func (e *Exchange) Apply(s State, pl Payload, now time.Time) {
	e.History = append(e.History, Transition{From: e.State, To: s, At: now})
	e.State = s
	e.LastTransitionAt = now
	e.Attempts = 0
	if pl != nil {
		if e.Payloads == nil {
			e.Payloads = make(map[State]Payload)
		}
		e.Payloads[s] = pl
	}
}

// Skipped returns the chain states the last transition jumped over because
// of reordered delivery.
func (e *Exchange) Skipped() []State {
	if len(e.History) == 0 {
		return nil
	}
	last := e.History[len(e.History)-1]
	from, ok1 := e.Kind.Order(last.From)
	to, ok2 := e.Kind.Order(last.To)
	chain := e.Kind.Chain()
	if !ok1 || !ok2 || to > len(chain) {
		return nil
	}
	if to == len(chain) { // revoked
		return nil
	}
	if to-from <= 1 {
		return nil
	}
	return append([]State(nil), chain[from+1:to]...)
}

// Payload returns the first payload found from the given states. It's used
// to read side identifiers like credential_id of the party's own record.
func (e *Exchange) Payload(states ...State) Payload {
	for _, s := range states {
		if pl, ok := e.Payloads[s]; ok {
			return pl
		}
	}
	return nil
}

// SetRef sets the side identifier.
func (e *Exchange) SetRef(name, value string) {
	if e.Refs == nil {
		e.Refs = make(map[string]string)
	}
	e.Refs[name] = value
}

// Timestamp returns the time of the latest transition.
func (e *Exchange) Timestamp() time.Time {
	return e.LastTransitionAt
}

// Clone returns a deep enough copy for handing it out of the store.
func (e *Exchange) Clone() Exchange {
	c := *e
	c.History = append([]Transition(nil), e.History...)
	c.Payloads = make(map[State]Payload, len(e.Payloads))
	for k, v := range e.Payloads {
		pl := make(Payload, len(v))
		for pk, pv := range v {
			pl[pk] = pv
		}
		c.Payloads[k] = pl
	}
	if e.Refs != nil {
		c.Refs = make(map[string]string, len(e.Refs))
		for k, v := range e.Refs {
			c.Refs[k] = v
		}
	}
	return c
}
