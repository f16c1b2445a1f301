package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stratus-io/stratus/internal/engine"
	"github.com/stratus-io/stratus/internal/provider"
)

var deleteAutoApprove bool

var deleteCmd = &cobra.Command{
	Use:     "delete",
	Aliases: []string{"destroy"},
	Short:   "Destroy everything the stack deployed",
	Long: `Destroys every resource recorded in state, in reverse dependency
order. The stack parameters are not consulted; whatever state says was
deployed is what gets torn down.`,
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDelete(cmd *cobra.Command, args []string) error {
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
	eng.Parallelism = p.Parallelism

	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	currentState, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(currentState.Resources) == 0 {
		fmt.Println("Nothing to destroy.")
		return nil
	}
	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	plan, err := eng.PlanDestroy(currentState)
	if err != nil {
		return fmt.Errorf("destroy planning failed: %w", err)
	}

	fmt.Println("Stratus will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !deleteAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Delete cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n\n", len(plan.Changes))

	newState, destroyErr := eng.Destroy(ctx, currentState, progressPrinter())

	// Resources that were destroyed before the failure are already gone
	// from the returned state; persist it either way.
	if writeErr := backend.Write(ctx, newState); writeErr != nil {
		if destroyErr != nil {
			return fmt.Errorf("destroy failed (%v); also failed to write state: %w", destroyErr, writeErr)
		}
		return fmt.Errorf("failed to write state: %w", writeErr)
	}
	if destroyErr != nil {
		return fmt.Errorf("destroy failed: %w", destroyErr)
	}

	fmt.Printf("\nDestroy complete! Resources: %d destroyed.\n", plan.Summary.Delete)
	return nil
}
