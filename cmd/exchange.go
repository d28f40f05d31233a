package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/cmds"
	"github.com/findy-network/findy-exchange/cmds/exchange"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/spf13/cobra"
)

var exchangeEnvs = map[string]string{
	"initiator-wallet": "INITIATOR_WALLET",
	"initiator-key":    "INITIATOR_KEY",
	"initiator-token":  "INITIATOR_TOKEN",
	"responder-wallet": "RESPONDER_WALLET",
	"responder-key":    "RESPONDER_KEY",
	"responder-token":  "RESPONDER_TOKEN",
}

// exchangeCmd represents the exchange command
var exchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Parent command for running a single exchange",
	Long: `
Parent command for running a single exchange between two Cloud API tenants.

This command requires a subcommand so command itself does nothing. The
initiator is the inviter, the issuer or the verifier, and the responder is
the other end. Every party needs the wallet id and either the API key or the
bearer token.

Example
	findy-exchange exchange connection \
		--initiator-wallet issuer-wallet-id \
		--initiator-key tenant.issuer.key \
		--responder-wallet holder-wallet-id \
		--responder-key tenant.holder.key
`,
	PreRunE: func(cmd *cobra.Command, args []string) (err error) {
		return BindEnvs(exchangeEnvs, cmd.Name())
	},
	Run: func(cmd *cobra.Command, args []string) {
		SubCmdNeeded(cmd)
	},
}

var connectionCmd = &cobra.Command{
	Use:   "connection",
	Short: "Connects the initiator and the responder",
	Long: `
Connects the parties: the initiator creates the invitation and the responder
accepts it. The initiator's connection id is printed when the connection is
completed.
`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer err2.Handle(&err)

		c := exchange.ConnectionCmd{Cmd: partiesCmd()}
		return execCmd(cmd, c)
	},
}

var credentialEnvs = map[string]string{
	"connection-id": "CONNECTION_ID",
	"cred-def-id":   "CRED_DEF_ID",
	"attrs":         "ATTRS",
	"revoke":        "REVOKE",
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Issues a credential from the initiator to the responder",
	Long: `
Issues the credential over the connection. The parties are connected first if
the connection id isn't given. The attributes are given as name=value pairs
or as a JSON object.

Example
	findy-exchange exchange credential \
		--initiator-wallet issuer-wallet-id \
		--initiator-key tenant.issuer.key \
		--responder-wallet holder-wallet-id \
		--responder-key tenant.holder.key \
		--cred-def-id 5zT...:3:CL:12:default \
		--attrs "email=alice@example.com,name=Alice"
`,
	PreRunE: func(cmd *cobra.Command, args []string) (err error) {
		return BindEnvs(credentialEnvs, "EXCHANGE_CREDENTIAL")
	},
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer err2.Handle(&err)

		c := credFlags
		c.Cmd = partiesCmd()
		c.Attributes = try.To1(cmds.ParseAttrs(credAttrs))
		return execCmd(cmd, c)
	},
}

var proofEnvs = map[string]string{
	"connection-id": "CONNECTION_ID",
	"attrs":         "ATTRS",
	"comment":       "COMMENT",
}

var proofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Requests a proof from the responder",
	Long: `
Requests the proof of the attributes from the responder, who presents them
from its credentials. The parties are connected first if the connection id
isn't given. The command fails if the verifier doesn't verify the proof.

Example
	findy-exchange exchange proof \
		--initiator-wallet verifier-wallet-id \
		--initiator-key tenant.verifier.key \
		--responder-wallet holder-wallet-id \
		--responder-key tenant.holder.key \
		--connection-id 3c8e...-e1d4 \
		--attrs email,name
`,
	PreRunE: func(cmd *cobra.Command, args []string) (err error) {
		return BindEnvs(proofEnvs, "EXCHANGE_PROOF")
	},
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer err2.Handle(&err)

		c := proofFlags
		c.Cmd = partiesCmd()
		for _, name := range strings.Split(proofAttrs, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Attributes = append(c.Attributes, name)
			}
		}
		return execCmd(cmd, c)
	},
}

var (
	initiator, responder psm.Party

	credFlags  = exchange.CredentialCmd{}
	credAttrs  string
	proofFlags = exchange.ProofCmd{}
	proofAttrs string
)

func partiesCmd() exchange.Cmd {
	initiator.Name, responder.Name = "initiator", "responder"
	return exchange.Cmd{Cmd: baseCmd(), Initiator: initiator, Responder: responder}
}

// execCmd validates and runs the command unless it's a dry run.
func execCmd(cmd *cobra.Command, c cmds.Command) (err error) {
	defer err2.Handle(&err)

	try.To(c.Validate())
	if rootFlags.dryRun {
		return nil
	}
	cmd.SilenceUsage = true
	r := try.To1(c.Exec(os.Stdout))
	if jsonOut {
		data := try.To1(r.JSON())
		try.To1(fmt.Println(string(data)))
	}
	return nil
}

var jsonOut bool

func init() {
	defer err2.Catch(err2.Err(func(err error) {
		fmt.Println(err)
	}))

	flags := exchangeCmd.PersistentFlags()
	flags.StringVar(&initiator.WalletID, "initiator-wallet", "", flagInfo("initiator's wallet id", exchangeCmd.Name(), exchangeEnvs["initiator-wallet"]))
	flags.StringVar(&initiator.APIKey, "initiator-key", "", flagInfo("initiator's tenant api key", exchangeCmd.Name(), exchangeEnvs["initiator-key"]))
	flags.StringVar(&initiator.BearerToken, "initiator-token", "", flagInfo("initiator's bearer token", exchangeCmd.Name(), exchangeEnvs["initiator-token"]))
	flags.StringVar(&responder.WalletID, "responder-wallet", "", flagInfo("responder's wallet id", exchangeCmd.Name(), exchangeEnvs["responder-wallet"]))
	flags.StringVar(&responder.APIKey, "responder-key", "", flagInfo("responder's tenant api key", exchangeCmd.Name(), exchangeEnvs["responder-key"]))
	flags.StringVar(&responder.BearerToken, "responder-token", "", flagInfo("responder's bearer token", exchangeCmd.Name(), exchangeEnvs["responder-token"]))
	flags.BoolVar(&jsonOut, "json", false, "print the result as JSON")

	c := credentialCmd.Flags()
	c.StringVar(&credFlags.ConnectionID, "connection-id", "", flagInfo("issuer's connection id", "EXCHANGE_CREDENTIAL", credentialEnvs["connection-id"]))
	c.StringVar(&credFlags.CredDefID, "cred-def-id", "", flagInfo("credential definition id", "EXCHANGE_CREDENTIAL", credentialEnvs["cred-def-id"]))
	c.StringVar(&credAttrs, "attrs", "", flagInfo("credential attributes", "EXCHANGE_CREDENTIAL", credentialEnvs["attrs"]))
	c.BoolVar(&credFlags.Revoke, "revoke", false, flagInfo("revoke the credential after the issuing", "EXCHANGE_CREDENTIAL", credentialEnvs["revoke"]))

	p := proofCmd.Flags()
	p.StringVar(&proofFlags.ConnectionID, "connection-id", "", flagInfo("verifier's connection id", "EXCHANGE_PROOF", proofEnvs["connection-id"]))
	p.StringVar(&proofAttrs, "attrs", "", flagInfo("requested attribute names", "EXCHANGE_PROOF", proofEnvs["attrs"]))
	p.StringVar(&proofFlags.Comment, "comment", "", flagInfo("comment of the proof request", "EXCHANGE_PROOF", proofEnvs["comment"]))

	rootCmd.AddCommand(exchangeCmd)
	exchangeCmd.AddCommand(connectionCmd)
	exchangeCmd.AddCommand(credentialCmd)
	exchangeCmd.AddCommand(proofCmd)
}
