package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stratus-io/stratus/internal/engine"
	"github.com/stratus-io/stratus/internal/stack"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the parameters and the stack they produce",
	Long: `Checks that the parameters file parses, that every knob is in range,
that the secret's environment variable is set when the secret is enabled,
and that the resulting resource graph has no cycles. Nothing is deployed.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Println("Validating configuration...")

	p, err := loadParams()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Print("Building stack... ")
	cfg, err := stack.Weather(p)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Print("Checking dependency graph... ")
	if _, err := engine.BuildDAG(cfg.Enabled()); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Printf("\nConfiguration is valid! %d resources in stack %q.\n", len(cfg.Enabled()), cfg.Name)
	return nil
}
