// Package exchange is the command package for running a single exchange
// between two Cloud API tenants.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"

	"github.com/findy-network/findy-exchange/agent/cloudapi"
	"github.com/findy-network/findy-exchange/agent/coordinator"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/cmds"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Cmd is the base of the exchange commands. The initiator is the party who
// starts the protocol: inviter, issuer or verifier.
type Cmd struct {
	cmds.Cmd
	Initiator psm.Party
	Responder psm.Party
}

func (c Cmd) Validate() (err error) {
	defer err2.Handle(&err)

	try.To(c.Cmd.Validate())
	try.To(cmds.ValidateParty(c.Initiator, "initiator"))
	try.To(cmds.ValidateParty(c.Responder, "responder"))
	if c.Initiator.WalletID == c.Responder.WalletID {
		return errors.New("initiator and responder must be different wallets")
	}
	return nil
}

// Result is the outcome of the exchange command. Connection is set when the
// command had to connect the parties first.
type Result struct {
	Connection *psm.Exchange `json:"connection,omitempty"`
	Exchange   psm.Exchange  `json:"exchange"`
}

func (r Result) JSON() ([]byte, error) {
	return json.Marshal(r)
}

func (c Cmd) coordinator() (*coordinator.Coordinator, error) {
	return coordinator.NewForClient(coordinator.DefaultConfig(), c.Client())
}

func (c Cmd) exec(w io.Writer, f func(ctx context.Context, co *coordinator.Coordinator) (Result, error)) (r Result, err error) {
	defer err2.Handle(&err)

	co := try.To1(c.coordinator())
	defer co.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	done := cmds.Progress(w)
	r, err = f(ctx, co)
	close(done)
	cmds.Fprintln(w)
	if err != nil {
		return r, err
	}
	cmds.Fprintln(w, r.Exchange.Kind, r.Exchange.CorrelationID, r.Exchange.State)
	return r, nil
}

// connect returns the connection id of the initiator. The parties are
// connected first if the id is empty.
func connect(ctx context.Context, co *coordinator.Coordinator,
	c Cmd, connID string, r *Result) (string, error) {
	if connID != "" {
		return connID, nil
	}
	ex, err := co.RunConnectionExchange(ctx, c.Initiator, c.Responder)
	if err != nil {
		return "", err
	}
	r.Connection = &ex
	return ex.CorrelationID, nil
}

// ConnectionCmd connects the initiator and the responder.
type ConnectionCmd struct {
	Cmd
}

func (c ConnectionCmd) Exec(w io.Writer) (r cmds.Result, err error) {
	return c.exec(w, func(ctx context.Context, co *coordinator.Coordinator) (r Result, err error) {
		r.Exchange, err = co.RunConnectionExchange(ctx, c.Initiator, c.Responder)
		return r, err
	})
}

// CredentialCmd issues a credential from the initiator to the responder and
// optionally revokes it right after.
type CredentialCmd struct {
	Cmd
	ConnectionID string
	CredDefID    string
	Attributes   map[string]string
	Revoke       bool
}

func (c CredentialCmd) Validate() (err error) {
	defer err2.Handle(&err)

	try.To(c.Cmd.Validate())
	if c.CredDefID == "" {
		return errors.New("credential definition id cannot be empty")
	}
	if len(c.Attributes) == 0 {
		return errors.New("credential attributes cannot be empty")
	}
	return nil
}

func (c CredentialCmd) Exec(w io.Writer) (r cmds.Result, err error) {
	return c.exec(w, func(ctx context.Context, co *coordinator.Coordinator) (r Result, err error) {
		defer err2.Handle(&err)

		connID := try.To1(connect(ctx, co, c.Cmd, c.ConnectionID, &r))
		r.Exchange = try.To1(co.RunCredentialExchange(ctx, c.Initiator, c.Responder,
			cloudapi.CredentialOffer{
				ConnectionID: connID,
				CredDefID:    c.CredDefID,
				Attributes:   c.Attributes,
			}))
		if c.Revoke {
			r.Exchange = try.To1(co.RevokeCredential(ctx, r.Exchange.CorrelationID))
		}
		return r, nil
	})
}

// ProofCmd requests a proof of the attributes from the responder.
type ProofCmd struct {
	Cmd
	ConnectionID string
	Attributes   []string
	Comment      string
}

func (c ProofCmd) Validate() (err error) {
	defer err2.Handle(&err)

	try.To(c.Cmd.Validate())
	if len(c.Attributes) == 0 {
		return errors.New("proof attributes cannot be empty")
	}
	return nil
}

func (c ProofCmd) Exec(w io.Writer) (r cmds.Result, err error) {
	return c.exec(w, func(ctx context.Context, co *coordinator.Coordinator) (r Result, err error) {
		defer err2.Handle(&err)

		connID := try.To1(connect(ctx, co, c.Cmd, c.ConnectionID, &r))
		r.Exchange = try.To1(co.RunProofExchange(ctx, c.Initiator, c.Responder,
			cloudapi.ProofRequest{
				ConnectionID: connID,
				Attributes:   c.Attributes,
				Comment:      c.Comment,
			}))
		return r, nil
	})
}
