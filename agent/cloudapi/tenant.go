package cloudapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/findy-network/findy-exchange/agent/psm"
)

// Invitation is the result of the create invitation.
type Invitation struct {
	ConnectionID string          `json:"connection_id"`
	Invitation   json.RawMessage `json:"invitation"`
}

// Connection is the connection record of a party.
type Connection struct {
	ConnectionID string `json:"connection_id"`
	State        string `json:"state"`
}

// CredentialOffer is the indy credential the issuer offers to the holder.
type CredentialOffer struct {
	ConnectionID string            `yaml:"connection_id" json:"connection_id"`
	CredDefID    string            `yaml:"cred_def_id" json:"credential_definition_id"`
	Attributes   map[string]string `yaml:"attributes" json:"attributes"`
}

// CredentialExchange is the credential exchange record of a party.
type CredentialExchange struct {
	CredentialID string `json:"credential_id"`
	ThreadID     string `json:"thread_id"`
	State        string `json:"state"`
}

// ProofRequest is the indy proof request the verifier sends to the prover.
// Every attribute is requested as a revealed attribute without predicates.
type ProofRequest struct {
	ConnectionID string   `yaml:"connection_id" json:"connection_id"`
	Attributes   []string `yaml:"attributes" json:"attributes"`
	Comment      string   `yaml:"comment" json:"comment"`

	// NonRevokedTo is the unix time for the non revoked interval. Zero means
	// now.
	NonRevokedTo int64 `yaml:"non_revoked_to" json:"non_revoked_to"`
}

// ProofExchange is the presentation exchange record of a party.
type ProofExchange struct {
	ProofID  string `json:"proof_id"`
	ThreadID string `json:"thread_id"`
	State    string `json:"state"`
	Verified *bool  `json:"verified,omitempty"`
}

type (
	indyCredentialDetail struct {
		CredDefID  string            `json:"credential_definition_id"`
		Attributes map[string]string `json:"attributes"`
	}
	sendCredential struct {
		Type               string               `json:"type"`
		Detail             indyCredentialDetail `json:"indy_credential_detail"`
		SaveExchangeRecord bool                 `json:"save_exchange_record"`
		ConnectionID       string               `json:"connection_id"`
	}
	acceptInvitation struct {
		Alias      string          `json:"alias"`
		Invitation json.RawMessage `json:"invitation"`
	}
	revokeCredential struct {
		CredentialExchangeID string `json:"credential_exchange_id"`
		AutoPublishOnLedger  bool   `json:"auto_publish_on_ledger"`
	}
	nonRevoked struct {
		To int64 `json:"to"`
	}
	attrName struct {
		Name string `json:"name"`
	}
	indyProofRequest struct {
		NonRevoked          nonRevoked          `json:"non_revoked"`
		RequestedAttributes map[string]attrName `json:"requested_attributes"`
		RequestedPredicates map[string]struct{} `json:"requested_predicates"`
	}
	sendProofRequest struct {
		Type               string           `json:"type"`
		ProofRequest       indyProofRequest `json:"indy_proof_request"`
		SaveExchangeRecord bool             `json:"save_exchange_record"`
		Comment            string           `json:"comment"`
		ConnectionID       string           `json:"connection_id"`
	}
	credRef struct {
		CredID   string `json:"cred_id"`
		Revealed bool   `json:"revealed"`
	}
	indyPresentationSpec struct {
		RequestedAttributes    map[string]credRef  `json:"requested_attributes"`
		RequestedPredicates    map[string]struct{} `json:"requested_predicates"`
		SelfAttestedAttributes map[string]string   `json:"self_attested_attributes"`
	}
	acceptProofRequest struct {
		Type         string               `json:"type"`
		ProofID      string               `json:"proof_id"`
		Presentation indyPresentationSpec `json:"indy_presentation_spec"`
		DiffSpec     struct{}             `json:"diff_presentation_spec"`
	}
	credInfo struct {
		Referent string `json:"referent"`
	}
	proofCredential struct {
		CredInfo credInfo `json:"cred_info"`
	}
)

const indyType = "indy"

// AttrReferent is the referent name of the requested attribute.
func AttrReferent(name string) string {
	return "get_" + name
}

// CreateInvitation creates a connection invitation as the party.
func (c *Client) CreateInvitation(ctx context.Context, p psm.Party) (inv Invitation, err error) {
	err = c.Do(ctx, http.MethodPost, TenantPrefix+"/connections/create-invitation", p, nil, &inv)
	return inv, err
}

// AcceptInvitation accepts the invitation as the party.
func (c *Client) AcceptInvitation(
	ctx context.Context,
	p psm.Party,
	alias string,
	invitation json.RawMessage,
) (conn Connection, err error) {
	in := acceptInvitation{Alias: alias, Invitation: invitation}
	err = c.Do(ctx, http.MethodPost, TenantPrefix+"/connections/accept-invitation", p, in, &conn)
	return conn, err
}

// CreateCredentialOffer sends the credential offer to the connection.
func (c *Client) CreateCredentialOffer(
	ctx context.Context,
	p psm.Party,
	offer CredentialOffer,
) (ce CredentialExchange, err error) {
	in := sendCredential{
		Type: indyType,
		Detail: indyCredentialDetail{
			CredDefID:  offer.CredDefID,
			Attributes: offer.Attributes,
		},
		SaveExchangeRecord: true,
		ConnectionID:       offer.ConnectionID,
	}
	err = c.Do(ctx, http.MethodPost, TenantPrefix+"/issuer/credentials", p, in, &ce)
	return ce, err
}

// FindCredentialID returns the party's credential_id of the thread.
func (c *Client) FindCredentialID(ctx context.Context, p psm.Party, threadID string) (string, error) {
	var ces []CredentialExchange
	path := TenantPrefix + "/issuer/credentials?thread_id=" + url.QueryEscape(threadID)
	if err := c.Do(ctx, http.MethodGet, path, p, nil, &ces); err != nil {
		return "", err
	}
	for _, ce := range ces {
		if ce.ThreadID == threadID {
			return ce.CredentialID, nil
		}
	}
	return "", fmt.Errorf("credential of thread %s: %w", threadID, psm.ErrNotFound)
}

// AcceptCredential sends the credential request, i.e. the holder accepts the
// offer.
func (c *Client) AcceptCredential(
	ctx context.Context,
	p psm.Party,
	credentialID string,
) (ce CredentialExchange, err error) {
	path := TenantPrefix + "/issuer/credentials/" + url.PathEscape(credentialID) + "/request"
	err = c.Do(ctx, http.MethodPost, path, p, nil, &ce)
	return ce, err
}

// RevokeCredential revokes the issued credential and publishes the
// revocation to the ledger.
func (c *Client) RevokeCredential(ctx context.Context, p psm.Party, credExchangeID string) error {
	in := revokeCredential{CredentialExchangeID: credExchangeID, AutoPublishOnLedger: true}
	return c.Do(ctx, http.MethodPost, TenantPrefix+"/issuer/credentials/revoke", p, in, nil)
}

// SendProofRequest sends the proof request to the connection.
func (c *Client) SendProofRequest(
	ctx context.Context,
	p psm.Party,
	req ProofRequest,
) (pe ProofExchange, err error) {
	attrs := make(map[string]attrName, len(req.Attributes))
	for _, a := range req.Attributes {
		attrs[AttrReferent(a)] = attrName{Name: a}
	}
	in := sendProofRequest{
		Type: indyType,
		ProofRequest: indyProofRequest{
			NonRevoked:          nonRevoked{To: req.NonRevokedTo},
			RequestedAttributes: attrs,
			RequestedPredicates: map[string]struct{}{},
		},
		SaveExchangeRecord: true,
		Comment:            req.Comment,
		ConnectionID:       req.ConnectionID,
	}
	err = c.Do(ctx, http.MethodPost, TenantPrefix+"/verifier/send-request", p, in, &pe)
	return pe, err
}

// FindProofID returns the party's proof_id of the thread.
func (c *Client) FindProofID(ctx context.Context, p psm.Party, threadID string) (string, error) {
	var pes []ProofExchange
	path := TenantPrefix + "/verifier/proofs?thread_id=" + url.QueryEscape(threadID)
	if err := c.Do(ctx, http.MethodGet, path, p, nil, &pes); err != nil {
		return "", err
	}
	for _, pe := range pes {
		if pe.ThreadID == threadID {
			return pe.ProofID, nil
		}
	}
	return "", fmt.Errorf("proof of thread %s: %w", threadID, psm.ErrNotFound)
}

// GetProof returns the party's proof exchange record.
func (c *Client) GetProof(ctx context.Context, p psm.Party, proofID string) (pe ProofExchange, err error) {
	path := TenantPrefix + "/verifier/proofs/" + url.PathEscape(proofID)
	err = c.Do(ctx, http.MethodGet, path, p, nil, &pe)
	return pe, err
}

// ProofReferent returns the referent of the first wallet credential which
// matches the proof request.
func (c *Client) ProofReferent(ctx context.Context, p psm.Party, proofID string) (string, error) {
	var creds []proofCredential
	path := TenantPrefix + "/verifier/proofs/" + url.PathEscape(proofID) + "/credentials"
	if err := c.Do(ctx, http.MethodGet, path, p, nil, &creds); err != nil {
		return "", err
	}
	for _, pc := range creds {
		if pc.CredInfo.Referent != "" {
			return pc.CredInfo.Referent, nil
		}
	}
	return "", fmt.Errorf("credentials for proof %s: %w", proofID, psm.ErrNotFound)
}

// AcceptProofRequest sends the presentation, i.e. the prover accepts the
// request. Every attribute is presented as revealed from the referred
// credential.
func (c *Client) AcceptProofRequest(
	ctx context.Context,
	p psm.Party,
	proofID, referent string,
	attributes []string,
) (pe ProofExchange, err error) {
	attrs := make(map[string]credRef, len(attributes))
	for _, a := range attributes {
		attrs[AttrReferent(a)] = credRef{CredID: referent, Revealed: true}
	}
	in := acceptProofRequest{
		Type:    indyType,
		ProofID: proofID,
		Presentation: indyPresentationSpec{
			RequestedAttributes:    attrs,
			RequestedPredicates:    map[string]struct{}{},
			SelfAttestedAttributes: map[string]string{},
		},
	}
	err = c.Do(ctx, http.MethodPost, TenantPrefix+"/verifier/accept-request", p, in, &pe)
	return pe, err
}

// DeleteTenant deletes the tenant wallet. The party must hold the admin
// credentials.
func (c *Client) DeleteTenant(ctx context.Context, admin psm.Party, walletID string) error {
	path := AdminPrefix + "/tenants/" + url.PathEscape(walletID)
	return c.Do(ctx, http.MethodDelete, path, admin, nil, nil)
}
