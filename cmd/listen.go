package cmd

import (
	"fmt"

	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/findy-network/findy-exchange/cmds/listen"
	"github.com/lainio/err2"
	"github.com/spf13/cobra"
)

var listenEnvs = map[string]string{
	"wallet": "WALLET",
	"key":    "KEY",
	"token":  "TOKEN",
	"topic":  "TOPIC",
	"replay": "REPLAY",
	"count":  "COUNT",
	"wait":   "WAIT",
}

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Prints the events of a wallet's topic stream",
	Long: `
Opens the wallet's event stream of the topic and prints the topic, the
correlation id and the state of every event. The topic is connections,
credentials or proofs.

Example
	findy-exchange listen \
		--wallet holder-wallet-id \
		--key tenant.holder.key \
		--topic credentials \
		--count 5
`,
	PreRunE: func(cmd *cobra.Command, args []string) (err error) {
		return BindEnvs(listenEnvs, cmd.Name())
	},
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer err2.Handle(&err)

		c := lCmd
		c.Cmd = baseCmd()
		return execCmd(cmd, c)
	},
}

var lCmd = listen.Cmd{}

func init() {
	defer err2.Catch(err2.Err(func(err error) {
		fmt.Println(err)
	}))

	flags := listenCmd.Flags()
	flags.StringVar(&lCmd.Party.WalletID, "wallet", "", flagInfo("wallet id", listenCmd.Name(), listenEnvs["wallet"]))
	flags.StringVar(&lCmd.Party.APIKey, "key", "", flagInfo("tenant api key", listenCmd.Name(), listenEnvs["key"]))
	flags.StringVar(&lCmd.Party.BearerToken, "token", "", flagInfo("bearer token", listenCmd.Name(), listenEnvs["token"]))
	flags.StringVar(&lCmd.Topic, "topic", "connections", flagInfo("event topic", listenCmd.Name(), listenEnvs["topic"]))
	flags.DurationVar(&lCmd.LookBack, "replay", utils.DefaultLookBack, flagInfo("replay window of the earlier events", listenCmd.Name(), listenEnvs["replay"]))
	flags.IntVar(&lCmd.Count, "count", 0, flagInfo("stop after the count of events, zero means no limit", listenCmd.Name(), listenEnvs["count"]))
	flags.DurationVar(&lCmd.Wait, "wait", 0, flagInfo("stop after the duration, zero means no limit", listenCmd.Name(), listenEnvs["wait"]))

	rootCmd.AddCommand(listenCmd)
}
