package cli

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/stratus-io/stratus/internal/engine"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/provider"
	"github.com/stratus-io/stratus/internal/stack"
	"github.com/stratus-io/stratus/internal/state"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func colorize(color, s string) string {
	if noColor || color == "" {
		return s
	}
	return color + s + colorReset
}

// loadParams reads the parameters file named by --params (or stratus.yaml
// if present) and exports the configured region so every AWS client in the
// process resolves it the same way.
func loadParams() (*stack.Params, error) {
	p, err := stack.LoadParams(paramsFile)
	if err != nil {
		return nil, err
	}
	if p.Region != "" {
		os.Setenv("AWS_REGION", p.Region)
	}
	return p, nil
}

// openBackend returns the state backend from the parameters, unless --state
// forces a local file.
func openBackend(p *stack.Params) (state.Backend, error) {
	if statePath != "" {
		return state.NewManager(statePath), nil
	}
	return state.NewBackend(p.Backend)
}

// loadRequiredProviders auto-loads all providers referenced by config resources.
func loadRequiredProviders(registry *provider.Registry, cfg *ir.Config) error {
	seen := make(map[string]bool)
	for _, res := range cfg.Resources {
		key := ir.ProviderKey(res.Type)
		if key != "" && !seen[key] {
			seen[key] = true
			if err := registry.LoadProvider(key); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", key, err)
			}
		}
	}
	return nil
}

// loadStateProviders auto-loads all providers referenced by state resources (needed for DELETE).
func loadStateProviders(registry *provider.Registry, st *ir.State) error {
	seen := make(map[string]bool)
	for _, res := range st.Resources {
		key := ir.ProviderKey(res.Type)
		if key != "" && !seen[key] {
			seen[key] = true
			if err := registry.LoadProvider(key); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", key, err)
			}
		}
	}
	return nil
}

func actionSymbol(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "+"
	case ir.ActionDelete:
		return "-"
	case ir.ActionNoop:
		return " "
	default:
		return "~"
	}
}

func actionColor(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return colorGreen
	case ir.ActionDelete:
		return colorRed
	case ir.ActionUpdate:
		return colorYellow
	default:
		return ""
	}
}

// renderPlanChanges prints the detailed change list for a plan. Sensitive
// property values are redacted before display; prior inputs come out of
// state already redacted.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol := actionSymbol(change.Action)
		color := actionColor(change.Action)

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		header := fmt.Sprintf("  # %s will be %s", change.Address, change.Action)
		if change.Reason != "" {
			header += " (" + change.Reason + ")"
		}
		fmt.Println("\n" + colorize(color, header))
		fmt.Println(colorize(color, fmt.Sprintf("  %s resource %q %q {", symbol, resourceType, resourceName)))

		switch {
		case change.Action == ir.ActionCreate && change.Desired != nil:
			props := ir.RedactSensitive(change.Desired.Properties, change.Desired.Sensitive)
			for _, k := range sortedKeys(props) {
				fmt.Println(colorize(color, fmt.Sprintf("      + %s = %s", k, formatValue(props[k]))))
			}
		case change.Action == ir.ActionDelete && change.Prior != nil:
			for _, k := range sortedKeys(change.Prior.Inputs) {
				fmt.Println(colorize(color, fmt.Sprintf("      - %s = %s", k, formatValue(change.Prior.Inputs[k]))))
			}
		case change.Desired != nil && change.Prior != nil:
			desired := ir.RedactSensitive(change.Desired.Properties, change.Desired.Sensitive)
			renderInlineDiff(change.Prior.Inputs, desired)
		default:
			fmt.Println(colorize(color, "      ..."))
		}
		fmt.Println(colorize(color, "    }"))
	}
}

// renderInlineDiff compares prior and desired property maps and prints a diff.
func renderInlineDiff(prior, desired map[string]any) {
	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for _, k := range sortedKeys(allKeys) {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			fmt.Println(colorize(colorGreen, fmt.Sprintf("      + %s = %s", k, formatValue(desiredVal))))
		case !inDesired:
			fmt.Println(colorize(colorRed, fmt.Sprintf("      - %s = %s", k, formatValue(priorVal))))
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			fmt.Println(colorize(colorYellow, fmt.Sprintf("      ~ %s = %s -> %s", k, formatValue(priorVal), formatValue(desiredVal))))
		default:
			fmt.Printf("        %s = %s\n", k, formatValue(desiredVal))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create: %d\n", plan.Summary.Create)
	fmt.Printf("  Update: %d\n", plan.Summary.Update)
	fmt.Printf("  Delete: %d\n", plan.Summary.Delete)
	fmt.Printf("  NoOp:   %d\n", plan.Summary.NoOp)
}

func printOutputs(outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	fmt.Println("\nOutputs:")
	for _, k := range sortedKeys(outputs) {
		fmt.Printf("  %s = %s\n", k, formatValue(outputs[k]))
	}
}

// progressPrinter returns a callback that narrates apply progress, one line
// per resource transition.
func progressPrinter() engine.ApplyCallback {
	return func(ev engine.ApplyEvent) {
		switch ev.Status {
		case "started":
			fmt.Printf("%s: %s...\n", ev.Address, progressVerb(ev.Action))
		case "completed":
			fmt.Printf("%s: %s in %s\n", ev.Address, doneVerb(ev.Action), ev.Duration.Round(time.Millisecond))
		case "failed":
			fmt.Println(colorize(colorRed, fmt.Sprintf("%s: failed: %v", ev.Address, ev.Error)))
		case "skipped":
			fmt.Println(colorize(colorYellow, fmt.Sprintf("%s: skipped: %v", ev.Address, ev.Error)))
		}
	}
}

func progressVerb(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "creating"
	case ir.ActionDelete:
		return "deleting"
	default:
		return "updating"
	}
}

func doneVerb(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "created"
	case ir.ActionDelete:
		return "deleted"
	default:
		return "updated"
	}
}
