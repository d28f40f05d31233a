package cmd

import (
	"fmt"

	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/findy-network/findy-exchange/cmds/coordinator"
	"github.com/lainio/err2"
	"github.com/spf13/cobra"
)

var runEnvs = map[string]string{
	"scenario":          "SCENARIO",
	"workers":           "WORKERS",
	"psm-database-file": "PSM_DATABASE_FILE",
	"server-port":       "SERVER_PORT",
	"grpc-port":         "GRPC_PORT",
	"sweep-minutes":     "SWEEP_MINUTES",
	"verbose":           "VERBOSE",
	"serve":             "SERVE",
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the exchange scenario",
	Long: `
Runs the exchange flows of the scenario file. The flows run concurrently and
each of them stops at its first failed exchange. The report of every exchange
is printed at the end, and the command fails if any of them failed.

The finished exchanges are archived to the database file, and the status
server serves the running and archived exchanges.

Example
	findy-exchange run \
		--url http://localhost:8100 \
		--scenario scenario.yaml \
		--workers 4 \
		--server-port 8090
`,
	PreRunE: func(cmd *cobra.Command, args []string) (err error) {
		return BindEnvs(runEnvs, cmd.Name())
	},
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer err2.Handle(&err)

		c := rCmd
		c.Cmd = baseCmd()
		return execCmd(cmd, c)
	},
}

var rCmd = coordinator.RunCmd{}

func init() {
	defer err2.Catch(err2.Err(func(err error) {
		fmt.Println(err)
	}))

	flags := runCmd.Flags()
	flags.StringVar(&rCmd.Scenario, "scenario", "scenario.yaml", flagInfo("scenario file", runCmd.Name(), runEnvs["scenario"]))
	flags.IntVar(&rCmd.Workers, "workers", 1, flagInfo("count of the concurrent flows", runCmd.Name(), runEnvs["workers"]))
	flags.StringVar(&rCmd.PsmDB, "psm-database-file", "", flagInfo("archive database's filename, empty means no archive", runCmd.Name(), runEnvs["psm-database-file"]))
	flags.UintVar(&rCmd.ServerPort, "server-port", 0, flagInfo("status server port, zero means no server", runCmd.Name(), runEnvs["server-port"]))
	flags.IntVar(&rCmd.GRPCPort, "grpc-port", 0, flagInfo("grpc health server port, zero means no server", runCmd.Name(), runEnvs["grpc-port"]))
	flags.IntVar(&rCmd.SweepMinutes, "sweep-minutes", utils.DefaultSweepMinutes, flagInfo("interval of the store sweep, zero means no sweep", runCmd.Name(), runEnvs["sweep-minutes"]))
	flags.BoolVar(&rCmd.Verbose, "verbose", false, flagInfo("print every state transition", runCmd.Name(), runEnvs["verbose"]))
	flags.BoolVar(&rCmd.Serve, "serve", false, flagInfo("keep serving the status after the run until interrupted", runCmd.Name(), runEnvs["serve"]))

	rootCmd.AddCommand(runCmd)
}
