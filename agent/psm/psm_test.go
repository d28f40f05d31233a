package psm

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now     = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	parties = Parties{
		Initiator: Party{Name: "issuer", WalletID: "w-issuer", APIKey: "k1"},
		Responder: Party{WalletID: "w-holder", APIKey: "k2"},
	}
)

func TestKind_Chain(t *testing.T) {
	tests := []struct {
		kind    Kind
		initial State
		final   State
		topic   string
		field   string
	}{
		{Connection, InvitationSent, Completed, "connections", "connection_id"},
		{Credential, OfferSent, Done, "credentials", "thread_id"},
		{Proof, RequestSent, Done, "proofs", "thread_id"},
		{Unknown, Nothing, Nothing, "", "thread_id"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.initial, tt.kind.Initial())
			assert.Equal(t, tt.final, tt.kind.Final())
			assert.Equal(t, tt.topic, tt.kind.Topic())
			assert.Equal(t, tt.field, tt.kind.CorrelationField())
			if tt.kind.Valid() {
				assert.Equal(t, tt.kind, KindForTopic(tt.topic))
				k, err := ParseKind(tt.kind.String())
				require.NoError(t, err)
				assert.Equal(t, tt.kind, k)
			}
		})
	}
	_, err := ParseKind("basic_message")
	assert.Error(t, err)
}

func TestKind_Order(t *testing.T) {
	i, ok := Credential.Order(Revoked)
	assert.True(t, ok)
	assert.Equal(t, 5, i)

	_, ok = Connection.Order(Revoked)
	assert.False(t, ok)

	i, ok = Proof.Order(Abandoned)
	assert.True(t, ok)
	assert.Equal(t, 5, i)

	_, ok = Proof.Order("credential-received")
	assert.False(t, ok)
}

func TestKind_Reached(t *testing.T) {
	tests := []struct {
		kind            Kind
		current, target State
		want            bool
	}{
		{Credential, OfferSent, OfferSent, true},
		{Credential, Done, OfferReceived, true},
		{Credential, OfferReceived, Done, false},
		{Credential, Revoked, Done, true},
		{Credential, Done, Revoked, false},
		{Proof, Abandoned, Done, false},
		{Proof, Abandoned, Abandoned, true},
		{Connection, Completed, RequestReceived, true},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%s %s>=%s", tt.kind, tt.current, tt.target)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Reached(tt.current, tt.target))
		})
	}
}

func TestExchange_ChainWalk(t *testing.T) {
	for _, kind := range []Kind{Connection, Credential, Proof} {
		t.Run(kind.String(), func(t *testing.T) {
			e := New("id-"+kind.String(), kind, parties, now)
			assert.Equal(t, kind.Initial(), e.State)
			for i, s := range kind.Chain()[1:] {
				require.True(t, e.Accept(s), "state %s", s)
				e.Apply(s, Payload{"state": string(s)}, now.Add(time.Duration(i+1)*time.Second))
				assert.Empty(t, e.Skipped())
				assert.False(t, e.Accept(s), "duplicate %s", s)
			}
			assert.True(t, e.IsReady())
			assert.Len(t, e.History, len(kind.Chain())-1)
			assert.False(t, e.Accept(Abandoned))
		})
	}
}

func TestExchange_Reorder(t *testing.T) {
	e := New("cred-1", Credential, parties, now)
	require.True(t, e.Accept(Done))
	e.Apply(Done, nil, now)
	assert.Equal(t, []State{OfferReceived, RequestReceived, CredentialIssued}, e.Skipped())

	assert.False(t, e.Accept(OfferReceived))
	assert.True(t, e.Accept(Revoked))
	e.Apply(Revoked, nil, now)
	assert.Empty(t, e.Skipped())
	assert.False(t, e.Accept(Abandoned))
}

func TestExchange_Accept(t *testing.T) {
	e := New("proof-1", Proof, parties, now)
	assert.False(t, e.Accept(Revoked))
	assert.False(t, e.Accept("unknown-state"))
	assert.False(t, e.Accept(RequestSent))
	assert.True(t, e.Accept(Abandoned))

	c := New("conn-1", Connection, parties, now)
	c.Apply(Completed, nil, now)
	assert.False(t, c.Accept(Revoked))
}

func TestExchange_Clone(t *testing.T) {
	e := New("cred-2", Credential, parties, now)
	e.Apply(OfferReceived, Payload{"credential_id": "c-1"}, now)
	e.Attempts = 2

	c := e.Clone()
	c.Payloads[OfferReceived]["credential_id"] = "changed"
	c.History[0].To = Done

	assert.Equal(t, "c-1", e.Payload(OfferReceived).Str("credential_id"))
	assert.Equal(t, OfferReceived, e.History[0].To)
	assert.Equal(t, 2, c.Attempts)
	assert.Equal(t, "c-1", e.Payload(Done, OfferReceived).Str("credential_id"))
	assert.Nil(t, e.Payload(Done))
	assert.Equal(t, "", Payload(nil).Str("x"))
}

func TestParty_String(t *testing.T) {
	assert.Equal(t, "issuer", parties.Initiator.String())
	assert.Equal(t, "w-holder", parties.Responder.String())
}

func TestTimeoutError(t *testing.T) {
	err := error(&TimeoutError{CorrelationID: "proof-1", Target: Done, LastState: RequestSent})
	assert.True(t, errors.Is(err, ErrExchangeTimedOut))
	assert.False(t, errors.Is(err, ErrSubscriptionFailed))
	assert.Contains(t, err.Error(), "request-sent")

	err = fmt.Errorf("wait: %w", &TimeoutError{
		CorrelationID: "proof-1",
		Cause:         ErrSubscriptionFailed,
	})
	assert.True(t, errors.Is(err, ErrExchangeTimedOut))
	assert.True(t, errors.Is(err, ErrSubscriptionFailed))

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Reconnectable())
}

func TestExchange_Refs(t *testing.T) {
	e := New("cred-3", Credential, parties, now)
	c := e.Clone()
	assert.Nil(t, c.Refs)

	e.SetRef("issuer_credential_id", "v1-9")
	c = e.Clone()
	c.Refs["issuer_credential_id"] = "x"
	assert.Equal(t, "v1-9", e.Refs["issuer_credential_id"])
}

func TestKind_JSON(t *testing.T) {
	e := New("cred-4", Credential, parties, now)
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"credential"`)
	assert.NotContains(t, string(data), "k1")

	var got Exchange
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, Credential, got.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"basic"}`), &got))
	assert.Equal(t, "kind(9)", Kind(9).String())
}
