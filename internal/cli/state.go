package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and repair recorded state",
	Long:  `Commands for inspecting and modifying the recorded deployment state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Long: `Forgets a resource without destroying it. The next deploy will plan
a fresh create for it, so this is for resources that were deleted out of
band or imported by mistake.`,
	Args: cobra.ExactArgs(1),
	RunE: runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func openStateBackend() (state.Backend, error) {
	p, err := loadParams()
	if err != nil {
		return nil, err
	}
	return openBackend(p)
}

func runStateList(cmd *cobra.Command, args []string) error {
	backend, err := openStateBackend()
	if err != nil {
		return err
	}

	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(s.Resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, res := range s.Resources {
		fmt.Printf("  %s (provider: %s)\n", res.Addr(), ir.ProviderKey(res.Type))
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(s.Resources))
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	backend, err := openStateBackend()
	if err != nil {
		return err
	}

	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	res := s.Resource(args[0])
	if res == nil {
		return fmt.Errorf("resource %s not found in state", args[0])
	}

	fmt.Printf("# %s\n", res.Addr())
	fmt.Printf("  provider = %s\n", ir.ProviderKey(res.Type))
	fmt.Printf("  type     = %s\n", res.Type)
	fmt.Printf("  name     = %s\n", res.Name)

	if len(res.Inputs) > 0 {
		fmt.Println("\n  Inputs:")
		for _, k := range sortedKeys(res.Inputs) {
			fmt.Printf("    %s = %s\n", k, formatValue(res.Inputs[k]))
		}
	}
	if len(res.Outputs) > 0 {
		fmt.Println("\n  Outputs:")
		for _, k := range sortedKeys(res.Outputs) {
			fmt.Printf("    %s = %s\n", k, formatValue(res.Outputs[k]))
		}
	}
	if len(res.Dependencies) > 0 {
		fmt.Println("\n  Dependencies:")
		for _, dep := range res.Dependencies {
			fmt.Printf("    %s\n", dep)
		}
	}
	if res.InputsHash != "" {
		fmt.Printf("\n  inputs_hash = %s\n", res.InputsHash)
	}
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	backend, err := openStateBackend()
	if err != nil {
		return err
	}

	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	if s.Resource(target) == nil {
		return fmt.Errorf("resource %s not found in state", target)
	}
	s.RemoveResource(target)

	if err := backend.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", target)
	return nil
}
