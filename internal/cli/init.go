package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/stratus-io/stratus/internal/stack"
	"github.com/stratus-io/stratus/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a stratus project directory",
	Long:  `Creates a stratus.yaml parameters file with the defaults spelled out.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(filepath.Dir(state.DefaultStatePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if _, err := os.Stat(stack.DefaultParamsFile); err == nil {
		fmt.Printf("%s already exists, leaving it alone.\n", stack.DefaultParamsFile)
	} else {
		content := `# Stratus parameters. Every knob has a default; delete what you don't change.

name: weather
# region: eu-west-1

service:
  port: 8080
  cpu: "1024"
  memory: "2048"

build:
  mode: docker        # docker (daemon build+push) or task (external command)
  context: .
  tag: latest
  platform: linux/amd64
  run_once: false     # true skips the rebuild when the image is already pushed
  timeout: 15m
  # command: [./scripts/build-and-push.sh]   # required for mode: task

secret:
  value_from: OPENWEATHER_API_KEY

# Nodes to leave out of the deployment. Disabling a node that others
# depend on requires disabling the dependents too.
# disabled: [secret]

# Remote state with locking; local .stratus/state.json is the default.
# backend:
#   type: s3
#   config:
#     bucket: my-state-bucket
#     key: weather/state.json
#     dynamodb_table: my-lock-table
`
		if err := os.WriteFile(stack.DefaultParamsFile, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", stack.DefaultParamsFile, err)
		}
		fmt.Printf("Created %s\n", stack.DefaultParamsFile)
	}

	fmt.Println("\nStratus initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Adjust stratus.yaml and export OPENWEATHER_API_KEY")
	fmt.Println("  2. Run 'stratus plan' to see what will be created")
	fmt.Println("  3. Run 'stratus deploy' to provision the stack")
	return nil
}
