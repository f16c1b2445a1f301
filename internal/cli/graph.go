package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stratus-io/stratus/internal/engine"
	"github.com/stratus-io/stratus/internal/stack"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  stratus graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	p, err := loadParams()
	if err != nil {
		return err
	}

	cfg, err := stack.Weather(p)
	if err != nil {
		return err
	}

	dag, err := engine.BuildDAG(cfg.Enabled())
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph stratus {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, addr := range dag.Addrs() {
		fmt.Printf("  %q;\n", addr)
	}
	fmt.Println()

	for _, addr := range dag.Addrs() {
		for _, dep := range dag.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
