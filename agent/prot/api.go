package prot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/findy-network/findy-exchange/agent/cloudapi"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/subscriber"
)

//go:generate mockgen -destination=mock_api_test.go -package=prot . API

// API is the request/response interface of the Cloud API the driver needs.
// It's implemented by *cloudapi.Client.
type API interface {
	CreateInvitation(ctx context.Context, p psm.Party) (cloudapi.Invitation, error)
	AcceptInvitation(ctx context.Context, p psm.Party, alias string, invitation json.RawMessage) (cloudapi.Connection, error)

	CreateCredentialOffer(ctx context.Context, p psm.Party, offer cloudapi.CredentialOffer) (cloudapi.CredentialExchange, error)
	FindCredentialID(ctx context.Context, p psm.Party, threadID string) (string, error)
	AcceptCredential(ctx context.Context, p psm.Party, credentialID string) (cloudapi.CredentialExchange, error)
	RevokeCredential(ctx context.Context, p psm.Party, credExchangeID string) error

	SendProofRequest(ctx context.Context, p psm.Party, req cloudapi.ProofRequest) (cloudapi.ProofExchange, error)
	FindProofID(ctx context.Context, p psm.Party, threadID string) (string, error)
	GetProof(ctx context.Context, p psm.Party, proofID string) (cloudapi.ProofExchange, error)
	ProofReferent(ctx context.Context, p psm.Party, proofID string) (string, error)
	AcceptProofRequest(ctx context.Context, p psm.Party, proofID, referent string, attributes []string) (cloudapi.ProofExchange, error)
}

// Subscriber keeps the event streams of the parties open. It's implemented
// by *subscriber.Subscriber.
type Subscriber interface {
	Subscribe(party psm.Party, topic, corrID string, lookBack time.Duration) (*subscriber.Handle, error)
	Unsubscribe(h *subscriber.Handle)
}

// Side identifiers saved to the exchange refs.
const (
	RefIssuerCredentialID    = "issuer_credential_id"
	RefHolderCredentialID    = "holder_credential_id"
	RefVerifierProofID       = "verifier_proof_id"
	RefProverProofID         = "prover_proof_id"
	RefResponderConnectionID = "responder_connection_id"
)
