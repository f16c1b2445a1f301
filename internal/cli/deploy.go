package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stratus-io/stratus/internal/engine"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/provider"
	"github.com/stratus-io/stratus/internal/stack"
)

var (
	deployAutoApprove bool
	deployParallelism int
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the weather service stack",
	Long: `Plans and applies the changes needed to bring the deployed stack in
line with the parameters. Independent resources are applied concurrently;
a failed resource only skips the resources that depend on it.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployAutoApprove, "auto-approve", false, "Skip interactive approval of the plan before applying")
	deployCmd.Flags().IntVar(&deployParallelism, "parallelism", 0, "Maximum concurrent resource operations (0 uses the configured value)")
}

func runDeploy(cmd *cobra.Command, args []string) error {
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
	eng.Parallelism = deployParallelism
	if eng.Parallelism == 0 {
		eng.Parallelism = p.Parallelism
	}

	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

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
		fmt.Println("No changes. Infrastructure is up-to-date.")
		printOutputs(currentState.Outputs)
		return nil
	}

	fmt.Println("\nStratus will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !deployAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Deploy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n\n", len(plan.Changes))

	newState, applyErr := eng.ApplyPlanWithCallback(ctx, plan, currentState, progressPrinter())

	if applyErr == nil {
		outputs, outErr := eng.ResolveOutputs(cfg, newState)
		if outErr != nil {
			applyErr = outErr
		} else {
			for name, out := range cfg.Outputs {
				if out.Sensitive {
					outputs[name] = ir.SensitivePlaceholder
				}
			}
			newState.Outputs = outputs
		}
	}

	// The returned state reflects every resource that finished, including
	// on failure. Persist it before reporting the error or the next deploy
	// plans against a stale snapshot.
	if writeErr := backend.Write(ctx, newState); writeErr != nil {
		if applyErr != nil {
			return fmt.Errorf("apply failed (%v); also failed to write state: %w", applyErr, writeErr)
		}
		return fmt.Errorf("failed to write state: %w", writeErr)
	}
	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}

	fmt.Printf("\nDeploy complete! Resources: %d added, %d changed, %d destroyed.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Delete)
	printOutputs(newState.Outputs)

	if ep, ok := newState.Outputs["endpoint"].(string); ok && ep != "" {
		fmt.Printf("\nTry it: curl \"%s/weather/?city=London\"\n", ep)
	}
	return nil
}
