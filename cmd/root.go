package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/findy-network/findy-exchange/cmds"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FEX"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: utils.Version,
	Use:     "findy-exchange",
	Short:   "Findy exchange coordinator cli tool",
	Long: `
Findy exchange coordinator cli tool

Runs connection, credential and proof exchanges between Cloud API tenants
and follows their progress from the tenants' event streams.
	`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cmds.ParseLoggingArgs(rootFlags.logging)
		handleViperFlags(cmd)
		applySettings()
	},
}

// Execute root
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// To fix errors printed twice removing the cobra generators next
		// see: https://github.com/spf13/cobra/issues/304
		// fmt.Println(err)

		os.Exit(1)
	}
}

// RootCmd returns a current root command which can be used for adding own
// commands in an own repo.
//
//	implCmd.AddCommand(listCmd)
//
// That's a helper function to extend this CLI with own commands and offering
// same base commands as this CLI.
func RootCmd() *cobra.Command {
	return rootCmd
}

// DryRun returns a value of a dry run flag. That's a helper function to extend
// this CLI with own commands and offering same base commands as this CLI.
func DryRun() bool {
	return rootFlags.dryRun
}

// RootFlags are the common flags
type RootFlags struct {
	cfgFile string
	dryRun  bool
	logging string
}

// RuntimeFlags are the waiting policy flags which go to utils.Settings.
type RuntimeFlags struct {
	URL           string
	Timeout       time.Duration
	StepTimeout   time.Duration
	LookBack      time.Duration
	StaleAfter    time.Duration
	RetireAfter   time.Duration
	StreamRetries int
}

var (
	rootFlags    = RootFlags{}
	runtimeFlags = RuntimeFlags{}
)

var rootEnvs = map[string]string{
	"config":         "CONFIG",
	"logging":        "LOGGING",
	"dry-run":        "DRY_RUN",
	"url":            "URL",
	"timeout":        "TIMEOUT",
	"step-timeout":   "STEP_TIMEOUT",
	"look-back":      "LOOK_BACK",
	"stale-after":    "STALE_AFTER",
	"retire-after":   "RETIRE_AFTER",
	"stream-retries": "STREAM_RETRIES",
}

func init() {
	defer err2.Catch(err2.Err(func(err error) {
		log.Println(err)
	}))

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootFlags.cfgFile, "config", "", flagInfo("configuration file", "", rootEnvs["config"]))
	flags.StringVar(&rootFlags.logging, "logging", "-logtostderr=true -v=2", flagInfo("logging startup arguments", "", rootEnvs["logging"]))
	flags.BoolVarP(&rootFlags.dryRun, "dry-run", "n", false, flagInfo("perform a trial run with no changes made", "", rootEnvs["dry-run"]))

	flags.StringVar(&runtimeFlags.URL, "url", "http://localhost:8100", flagInfo("cloud api base url", "", rootEnvs["url"]))
	flags.DurationVar(&runtimeFlags.Timeout, "timeout", utils.HTTPReqTimeout, flagInfo("timeout of the single request", "", rootEnvs["timeout"]))
	flags.DurationVar(&runtimeFlags.StepTimeout, "step-timeout", utils.DefaultStepTimeout, flagInfo("timeout of the single protocol step", "", rootEnvs["step-timeout"]))
	flags.DurationVar(&runtimeFlags.LookBack, "look-back", utils.DefaultLookBack, flagInfo("event replay window of the stream opens", "", rootEnvs["look-back"]))
	flags.DurationVar(&runtimeFlags.StaleAfter, "stale-after", utils.DefaultStaleAfter, flagInfo("idle time after which a running exchange is abandoned", "", rootEnvs["stale-after"]))
	flags.DurationVar(&runtimeFlags.RetireAfter, "retire-after", utils.DefaultRetireAfter, flagInfo("time after which a finished exchange is archived", "", rootEnvs["retire-after"]))
	flags.IntVar(&runtimeFlags.StreamRetries, "stream-retries", utils.DefaultStreamRetries, flagInfo("reconnect attempts of a failed event stream", "", rootEnvs["stream-retries"]))

	for flagKey := range rootEnvs {
		try.To(viper.BindPFlag(flagKey, flags.Lookup(flagKey)))
	}
	try.To(BindEnvs(rootEnvs, ""))
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)
	readConfigFile()
	readBoundRootFlags()
}

func readBoundRootFlags() {
	rootFlags.logging = viper.GetString("logging")
	rootFlags.dryRun = viper.GetBool("dry-run")

	runtimeFlags.URL = viper.GetString("url")
	runtimeFlags.Timeout = viper.GetDuration("timeout")
	runtimeFlags.StepTimeout = viper.GetDuration("step-timeout")
	runtimeFlags.LookBack = viper.GetDuration("look-back")
	runtimeFlags.StaleAfter = viper.GetDuration("stale-after")
	runtimeFlags.RetireAfter = viper.GetDuration("retire-after")
	runtimeFlags.StreamRetries = viper.GetInt("stream-retries")
}

// applySettings moves the runtime flags to utils.Settings.
func applySettings() {
	utils.Settings.SetTimeout(runtimeFlags.Timeout)
	utils.Settings.SetStepTimeout(runtimeFlags.StepTimeout)
	utils.Settings.SetLookBack(runtimeFlags.LookBack)
	utils.Settings.SetStaleAfter(runtimeFlags.StaleAfter)
	utils.Settings.SetRetireAfter(runtimeFlags.RetireAfter)
	utils.Settings.SetStreamRetries(runtimeFlags.StreamRetries)
}

func readConfigFile() {
	cfgEnv := os.Getenv(getEnvName("", "config"))
	if rootFlags.cfgFile != "" || cfgEnv != "" {
		printInfo := true
		if rootFlags.cfgFile == "" {
			rootFlags.cfgFile = cfgEnv
			printInfo = false
		}
		viper.SetConfigFile(rootFlags.cfgFile)
		// If a config file is found, read it in.
		if err := viper.ReadInConfig(); err == nil && printInfo {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// BindEnvs calls viper.BindEnv with envMap and cmdName which can be empty if
// flag is general.
func BindEnvs(envMap map[string]string, cmdName string) (err error) {
	defer err2.Handle(&err)
	for flagKey, envName := range envMap {
		finalEnvName := getEnvName(cmdName, envName)
		try.To(viper.BindEnv(flagKey, finalEnvName))
	}
	return nil
}

func flagInfo(info, cmdPrefix, envName string) string {
	return info + ", " + getEnvName(cmdPrefix, envName)
}

func getEnvName(cmdName, envName string) string {
	if cmdName == "" {
		return envPrefix + "_" + strings.ToUpper(envName)
	}
	return envPrefix + "_" + strings.ToUpper(cmdName) + "_" + envName
}

func handleViperFlags(cmd *cobra.Command) {
	setRequiredStringFlags(cmd)
	if cmd.HasParent() {
		handleViperFlags(cmd.Parent())
	}
}

func setRequiredStringFlags(cmd *cobra.Command) {
	defer err2.Catch(err2.Err(func(err error) {
		log.Println(err)
	}))

	try.To(viper.BindPFlags(cmd.LocalFlags()))
	if cmd.PreRunE != nil {
		try.To(cmd.PreRunE(cmd, nil))
	}
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if viper.GetString(f.Name) != "" {
			try.To(cmd.LocalFlags().Set(f.Name, viper.GetString(f.Name)))
		}
	})
}

// SubCmdNeeded prints the help and error messages because the cmd is abstract.
func SubCmdNeeded(cmd *cobra.Command) {
	fmt.Println("Subcommand needed!")
	_ = cmd.Help()
	os.Exit(1)
}

// baseCmd returns the Cloud API part of the commands.
func baseCmd() cmds.Cmd {
	return cmds.Cmd{URL: runtimeFlags.URL, Timeout: runtimeFlags.Timeout}
}
