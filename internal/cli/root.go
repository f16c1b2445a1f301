package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/stratus-io/stratus/internal/logging"
)

var (
	logLevel   string
	paramsFile string
	statePath  string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "stratus",
	Short: "Provision the weather service stack",
	Long: `Stratus provisions and tears down the cloud infrastructure behind the
weather lookup service: object storage, the lookup-event table, a
container registry, IAM roles, the API key secret and the App Runner
compute service, in dependency order.

The stack itself is built in; stratus.yaml adjusts names, the build
mode and which parts are deployed.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
	SilenceUsage: true,
}

// Execute runs the root command. Cancelling ctx interrupts an in-flight
// deploy or delete; resources already being applied finish first so the
// recorded state stays truthful.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&paramsFile, "params", "p", "", "Parameters file (default stratus.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "Local state file, overriding the configured backend")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}
