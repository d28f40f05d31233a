package psm

import "fmt"

// Kind is the protocol family of an exchange.
type Kind uint8

const (
	Unknown Kind = 0 + iota // reserved for not used -cases
	Connection
	Credential
	Proof
)

// State is a named protocol state as the Cloud API reports it in the event
// payloads, e.g. "offer-received".
type State string

const (
	Nothing State = ""

	InvitationSent  State = "invitation-sent"
	RequestReceived State = "request-received"
	ResponseSent    State = "response-sent"
	Completed       State = "completed"

	OfferSent        State = "offer-sent"
	OfferReceived    State = "offer-received"
	CredentialIssued State = "credential-issued"
	Done             State = "done"

	RequestSent      State = "request-sent"
	PresentationSent State = "presentation-sent"

	// Abandoned is reachable from every non terminal state by explicit
	// abandonment only. Revoked is reachable only from Done of the
	// credential exchange.
	Abandoned State = "abandoned"
	Revoked   State = "revoked"
)

var chains = [...][]State{
	Unknown:    nil,
	Connection: {InvitationSent, RequestReceived, ResponseSent, Completed},
	Credential: {OfferSent, OfferReceived, RequestReceived, CredentialIssued, Done},
	Proof:      {RequestSent, RequestReceived, PresentationSent, Done},
}

var topics = [...]string{
	Unknown:    "",
	Connection: "connections",
	Credential: "credentials",
	Proof:      "proofs",
}

func (k Kind) String() string {
	if k > Proof {
		return fmt.Sprintf("kind(%d)", k)
	}
	return [...]string{"unknown", "connection", "credential", "proof"}[k]
}

// ParseKind returns the Kind for its string presentation.
func ParseKind(s string) (Kind, error) {
	for k := Connection; k <= Proof; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return Unknown, fmt.Errorf("unknown exchange kind: %q", s)
}

// Valid tells if the kind is one of the known protocol families.
func (k Kind) Valid() bool {
	return k >= Connection && k <= Proof
}

// Chain returns the ordered, linear state list of the protocol. The caller
// must not modify the returned slice.
func (k Kind) Chain() []State {
	if !k.Valid() {
		return nil
	}
	return chains[k]
}

// Initial returns the state where a registered exchange starts.
func (k Kind) Initial() State {
	if c := k.Chain(); len(c) > 0 {
		return c[0]
	}
	return Nothing
}

// Final returns the last state of the linear chain.
func (k Kind) Final() State {
	if c := k.Chain(); len(c) > 0 {
		return c[len(c)-1]
	}
	return Nothing
}

// Order returns the position of the state in the chain of the kind. The out
// of chain states are ordered after the chain so that a forward comparison
// works for them as well.
func (k Kind) Order(s State) (int, bool) {
	chain := k.Chain()
	for i, cs := range chain {
		if cs == s {
			return i, true
		}
	}
	switch {
	case s == Revoked && k == Credential:
		return len(chain), true
	case s == Abandoned && k.Valid():
		return len(chain) + 1, true
	}
	return -1, false
}

// Topic is the event category used to filter the subscription streams.
func (k Kind) Topic() string {
	if !k.Valid() {
		return ""
	}
	return topics[k]
}

// CorrelationField is the payload field which carries the correlation id in
// the events of the kind.
func (k Kind) CorrelationField() string {
	if k == Connection {
		return "connection_id"
	}
	return "thread_id"
}

// IsTerminal tells if the state ends every protocol it belongs to.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Done, Revoked, Abandoned:
		return true
	}
	return false
}

// Reached tells if the current state has reached or passed the target in
// the chain of the kind. Abandoned reaches nothing but itself.
func (k Kind) Reached(current, target State) bool {
	if current == target {
		return true
	}
	if current == Abandoned || target == Abandoned {
		return false
	}
	co, ok := k.Order(current)
	if !ok {
		return false
	}
	to, ok := k.Order(target)
	if !ok {
		return false
	}
	return co >= to
}

// KindForTopic returns the kind whose events are published in the topic.
func KindForTopic(topic string) Kind {
	for k := Connection; k <= Proof; k++ {
		if topics[k] == topic {
			return k
		}
	}
	return Unknown
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) (err error) {
	*k, err = ParseKind(string(b))
	return err
}
