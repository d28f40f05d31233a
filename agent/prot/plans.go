package prot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/findy-network/findy-exchange/agent/cloudapi"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/golang/glog"
)

// RunConnectionExchange connects the parties: the initiator creates the
// invitation and the responder accepts it. The exchange is correlated with
// the initiator's connection_id, which the returned exchange carries.
func (d *Driver) RunConnectionExchange(
	ctx context.Context,
	initiator, responder psm.Party,
) (psm.Exchange, error) {
	var inv cloudapi.Invitation
	return d.exec(ctx, plan{
		kind:    psm.Connection,
		parties: psm.Parties{Initiator: initiator, Responder: responder},
		watch:   []psm.Party{initiator},
		start: func(ctx context.Context) (string, map[string]string, error) {
			var err error
			inv, err = d.api.CreateInvitation(ctx, initiator)
			return inv.ConnectionID, nil, err
		},
		steps: []step{{
			name:  "accept invitation",
			guard: psm.RequestReceived,
			action: func(ctx context.Context, ex psm.Exchange) error {
				conn, err := d.api.AcceptInvitation(ctx, responder, initiator.String(), inv.Invitation)
				if err != nil {
					return err
				}
				return d.store.SetRef(ex.CorrelationID, RefResponderConnectionID, conn.ConnectionID)
			},
			wait:    psm.Completed,
			timeout: d.cfg.Timeouts.Step,
		}},
	})
}

// RunCredentialExchange issues the credential from the issuer to the holder
// over their connection. The exchange is correlated with the thread_id.
func (d *Driver) RunCredentialExchange(
	ctx context.Context,
	issuer, holder psm.Party,
	offer cloudapi.CredentialOffer,
) (psm.Exchange, error) {
	return d.exec(ctx, plan{
		kind:    psm.Credential,
		parties: psm.Parties{Initiator: issuer, Responder: holder},
		watch:   []psm.Party{issuer, holder},
		start: func(ctx context.Context) (string, map[string]string, error) {
			ce, err := d.api.CreateCredentialOffer(ctx, issuer, offer)
			return ce.ThreadID, map[string]string{RefIssuerCredentialID: ce.CredentialID}, err
		},
		steps: []step{{
			name:    "offer delivery",
			wait:    psm.OfferReceived,
			timeout: d.cfg.Timeouts.FirstEvent,
		}, {
			name:  "accept offer",
			guard: psm.RequestReceived,
			action: func(ctx context.Context, ex psm.Exchange) error {
				credID, err := d.sideID(ctx, ex, RefHolderCredentialID, "credential_id",
					func() (string, error) {
						return d.api.FindCredentialID(ctx, holder, ex.CorrelationID)
					}, psm.OfferReceived)
				if err != nil {
					return err
				}
				_, err = d.api.AcceptCredential(ctx, holder, credID)
				return err
			},
			wait:    psm.Done,
			timeout: d.cfg.Timeouts.Ledger,
		}},
	})
}

// RunProofExchange requests the proof from the prover and presents it with
// the prover's first matching credential. The exchange fails with
// psm.ErrProtocolRejected if the verifier reports the proof not verified,
// whichever party's done event arrives first.
func (d *Driver) RunProofExchange(
	ctx context.Context,
	verifier, prover psm.Party,
	req cloudapi.ProofRequest,
) (psm.Exchange, error) {
	return d.exec(ctx, plan{
		kind:    psm.Proof,
		parties: psm.Parties{Initiator: verifier, Responder: prover},
		watch:   []psm.Party{verifier, prover},
		start: func(ctx context.Context) (string, map[string]string, error) {
			pe, err := d.api.SendProofRequest(ctx, verifier, req)
			return pe.ThreadID, map[string]string{RefVerifierProofID: pe.ProofID}, err
		},
		steps: []step{{
			name:    "request delivery",
			wait:    psm.RequestReceived,
			timeout: d.cfg.Timeouts.FirstEvent,
		}, {
			name:  "present proof",
			guard: psm.PresentationSent,
			action: func(ctx context.Context, ex psm.Exchange) error {
				proofID, err := d.sideID(ctx, ex, RefProverProofID, "proof_id",
					func() (string, error) {
						return d.api.FindProofID(ctx, prover, ex.CorrelationID)
					}, psm.RequestReceived)
				if err != nil {
					return err
				}
				referent, err := d.api.ProofReferent(ctx, prover, proofID)
				if err != nil {
					return err
				}
				_, err = d.api.AcceptProofRequest(ctx, prover, proofID, referent, req.Attributes)
				return err
			},
			wait:    psm.Done,
			timeout: d.cfg.Timeouts.Ledger,
		}},
		check: func(ctx context.Context, ex psm.Exchange) error {
			return d.checkVerified(ctx, verifier, ex)
		},
	})
}

var errVerifyPending = errors.New("verification pending")

// checkVerified reads the verification result from the verifier's side. The
// done payload is the verifier's when it carries the verified field or the
// verifier's proof_id. Otherwise the prover's done came first, and the
// verifier's record is polled until it's done.
func (d *Driver) checkVerified(ctx context.Context, verifier psm.Party, ex psm.Exchange) error {
	pl := ex.Payload(psm.Done)
	proofID := ex.Refs[RefVerifierProofID]

	verified, ok := pl["verified"].(bool)
	switch {
	case ok:
	case proofID != "" && pl.Str("proof_id") == proofID:
		verified = true
	default:
		pe, err := d.verifierProof(ctx, verifier, ex, proofID)
		if err != nil {
			return err
		}
		verified = pe.Verified == nil || *pe.Verified
	}
	if !verified {
		return fmt.Errorf("%s: %w: proof not verified", ex.CorrelationID,
			psm.ErrProtocolRejected)
	}
	return nil
}

// verifierProof polls the verifier's proof record until it's done or the
// step timeout elapses.
func (d *Driver) verifierProof(
	ctx context.Context,
	verifier psm.Party,
	ex psm.Exchange,
	proofID string,
) (pe cloudapi.ProofExchange, err error) {
	if proofID == "" {
		err = d.call(ctx, "find verifier proof", "", func() (err error) {
			proofID, err = d.api.FindProofID(ctx, verifier, ex.CorrelationID)
			return err
		})
		if err != nil {
			return pe, err
		}
	}

	wctx, cancel := context.WithTimeout(ctx, d.cfg.Timeouts.Step)
	defer cancel()
	op := func() error {
		rec, err := d.api.GetProof(wctx, verifier, proofID)
		if err = Classify(err); err != nil {
			if errors.Is(err, psm.ErrTransientNetwork) {
				return err
			}
			return backoff.Permanent(err)
		}
		pe = rec
		if psm.State(rec.State) != psm.Done {
			return errVerifyPending
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		glog.V(2).Infof("%s: verifier proof %s: %v, retry in %v",
			ex.CorrelationID, proofID, err, next)
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(d.cfg.Retry.Delay), wctx)
	err = backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil:
		return pe, nil
	case errors.Is(err, psm.ErrProtocolRejected):
		return pe, err
	case wctx.Err() != nil || errors.Is(err, errVerifyPending):
		return pe, &psm.TimeoutError{
			CorrelationID: ex.CorrelationID,
			Target:        psm.Done,
			LastState:     ex.State,
			Cause:         fmt.Errorf("verifier proof %s in %q: %w", proofID, pe.State, err),
		}
	}
	return pe, err
}

// sideID returns the party's own record id of the exchange. It's read from
// the refs, the payloads of the given states or, as the last resort, looked
// up from the Cloud API. The found id is saved to the refs.
func (d *Driver) sideID(
	ctx context.Context,
	ex psm.Exchange,
	ref, field string,
	lookup func() (string, error),
	states ...psm.State,
) (id string, err error) {
	if id = ex.Refs[ref]; id != "" {
		return id, nil
	}
	if id = ex.Payload(states...).Str(field); id == "" {
		glog.V(3).Infoln(ex.CorrelationID, ref, "not in payload, lookup")
		if id, err = lookup(); err != nil {
			return "", err
		}
	}
	return id, d.store.SetRef(ex.CorrelationID, ref, id)
}

// RevokeCredential revokes the credential of the done credential exchange
// and moves it to the revoked state. Revoking an already revoked exchange is
// a no-op.
func (d *Driver) RevokeCredential(ctx context.Context, corrID string) (psm.Exchange, error) {
	ex, ok := d.store.Get(corrID)
	if !ok {
		return ex, fmt.Errorf("revoke %s: %w", corrID, psm.ErrNotFound)
	}
	if ex.Kind != psm.Credential {
		return ex, fmt.Errorf("revoke %s: %w: %s exchange", corrID, psm.ErrProtocolRejected, ex.Kind)
	}
	switch ex.State {
	case psm.Revoked:
		return ex, nil
	case psm.Done:
	default:
		return ex, fmt.Errorf("revoke %s: %w: cannot revoke in %s",
			corrID, psm.ErrProtocolRejected, ex.State)
	}

	credID := ex.Refs[RefIssuerCredentialID]
	if credID == "" {
		credID = ex.Payload(psm.CredentialIssued, psm.RequestReceived).Str("credential_id")
	}
	if credID == "" {
		return ex, fmt.Errorf("revoke %s: %w: no issuer credential id", corrID, psm.ErrProtocolRejected)
	}

	err := d.call(ctx, "revoke", corrID, func() error {
		return d.api.RevokeCredential(ctx, ex.Parties.Initiator, credID)
	})
	if err != nil {
		return ex, &Failure{Kind: psm.Credential, CorrelationID: corrID, LastState: ex.State,
			Exchange: ex, Err: err}
	}
	if err := d.store.Revoke(corrID); err != nil {
		return ex, err
	}
	ex, _ = d.store.Get(corrID)
	glog.V(1).Infoln("credential revoked:", corrID)
	return ex, nil
}
