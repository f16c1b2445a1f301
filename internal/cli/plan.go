package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stratus-io/stratus/internal/engine"
	"github.com/stratus-io/stratus/internal/provider"
	"github.com/stratus-io/stratus/internal/stack"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what deploy would change",
	Long: `Compares the stack built from the parameters against recorded state
and prints the resources that would be created, updated or deleted.
Nothing is changed and the state is not locked.`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, err := loadParams()
	if err != nil {
		return err
	}

	backend, err := openBackend(p)
	if err != nil {
		return err
	}

	registry := provider.NewRegistry()
	eng := engine.NewEngine(registry)

	fmt.Print("Loading configuration... ")
	cfg, err := stack.Weather(p)
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Println("OK")

	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}

	currentState, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlan(ctx, cfg, currentState)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if !plan.HasChanges() {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nStratus will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)
	return nil
}
