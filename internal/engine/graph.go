package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
)

// DAG is the dependency graph the engine walks. Node order is
// deterministic: ties resolve in declaration order, so the same stack
// always plans and applies in the same sequence.
type DAG struct {
	nodes    map[string]*dagNode
	addrs    []string // declaration order
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs the dependency graph for the desired resources from
// explicit DependsOn edges and references inside Properties. Duplicate
// addresses and edges to undeclared resources are rejected.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode)}

	for _, res := range resources {
		addr := res.Addr()
		if res.Type == "" || res.Name == "" {
			return nil, errdefs.New(errdefs.ValidationError, "resource %q must set both type and name", addr)
		}
		if _, ok := dag.nodes[addr]; ok {
			return nil, errdefs.New(errdefs.ValidationError, "duplicate resource address %s", addr)
		}
		dag.nodes[addr] = &dagNode{addr: addr}
		dag.addrs = append(dag.addrs, addr)
	}

	for _, res := range resources {
		node := dag.nodes[res.Addr()]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; !ok {
				return nil, errdefs.Wrap(errdefs.UnresolvedReference, res.Addr(),
					fmt.Errorf("depends_on names undeclared resource %s", dep))
			}
			node.edges = append(node.edges, dep)
		}

		// Refs come out of property maps in no particular order; sort them
		// so edge order, and with it traversal order, is reproducible.
		// Normalizing first means a ref buried in a typed slice produces
		// an edge exactly when resolution will substitute it.
		refs := extractPtrRefs(ir.Normalize(res.Properties))
		sort.Strings(refs)
		for _, ref := range refs {
			depAddr, _, err := ir.ParseRef(ref)
			if err != nil {
				return nil, errdefs.Wrap(errdefs.ValidationError, res.Addr(), err)
			}
			if _, ok := dag.nodes[depAddr]; !ok {
				return nil, errdefs.Wrap(errdefs.UnresolvedReference, res.Addr(),
					fmt.Errorf("reference %s targets undeclared resource %s", ref, depAddr))
			}
			node.edges = append(node.edges, depAddr)
		}

		node.edges = dedupe(node.edges)
	}

	// Reverse edges are built walking addrs, not the node map, so that
	// traversal order never depends on map iteration.
	for _, addr := range dag.addrs {
		for _, dep := range dag.nodes[addr].edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, addr)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order

	dag.revOrder = make([]string, len(order))
	for i, addr := range order {
		dag.revOrder[len(order)-1-i] = addr
	}

	return dag, nil
}

// BuildDAGFromState rebuilds the dependency graph from recorded state for
// destroy ordering. Recorded dependencies that no longer exist in state
// are ignored.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode)}

	for _, rs := range resources {
		addr := rs.Addr()
		if _, ok := dag.nodes[addr]; ok {
			return nil, errdefs.New(errdefs.StateCorruption, "duplicate resource %s in state", addr)
		}
		dag.nodes[addr] = &dagNode{addr: addr}
		dag.addrs = append(dag.addrs, addr)
	}

	for _, rs := range resources {
		node := dag.nodes[rs.Addr()]
		for _, dep := range rs.Dependencies {
			if dep == rs.Addr() {
				continue
			}
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}
		node.edges = dedupe(node.edges)
	}

	for _, addr := range dag.addrs {
		for _, dep := range dag.nodes[addr].edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, addr)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order

	dag.revOrder = make([]string, len(order))
	for i, addr := range order {
		dag.revOrder[len(order)-1-i] = addr
	}

	return dag, nil
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns addresses in reverse dependency order, safe for
// deletion.
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Addrs returns all addresses in declaration order.
func (d *DAG) Addrs() []string {
	return d.addrs
}

// Dependencies returns the direct dependencies of addr.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the resources that directly depend on addr.
func (d *DAG) Dependents(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.revEdges
	}
	return nil
}

// topoSort runs Kahn's algorithm. The ready queue is seeded and drained in
// declaration order, which makes the result stable across runs.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for _, addr := range d.addrs {
		inDegree[addr] = len(d.nodes[addr].edges)
	}

	var queue []string
	for _, addr := range d.addrs {
		if inDegree[addr] == 0 {
			queue = append(queue, addr)
		}
	}

	sorted := make([]string, 0, len(d.nodes))
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		sorted = append(sorted, addr)

		for _, dependent := range d.nodes[addr].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, errdefs.New(errdefs.CyclicDependency, "dependency cycle: %s", d.cyclePath(inDegree))
	}

	return sorted, nil
}

// cyclePath renders one cycle from the unresolved remainder of the graph
// as "a -> b -> a". Every node left with a positive in-degree has an
// unmet dependency that is itself unresolved, so the walk always closes.
func (d *DAG) cyclePath(inDegree map[string]int) string {
	remaining := make(map[string]bool)
	for addr, deg := range inDegree {
		if deg > 0 {
			remaining[addr] = true
		}
	}

	for _, start := range d.addrs {
		if !remaining[start] {
			continue
		}
		var path []string
		visited := make(map[string]int)
		cur := start
		for {
			if i, ok := visited[cur]; ok {
				return strings.Join(append(path[i:len(path):len(path)], cur), " -> ")
			}
			visited[cur] = len(path)
			path = append(path, cur)

			next := ""
			for _, dep := range d.nodes[cur].edges {
				if remaining[dep] {
					next = dep
					break
				}
			}
			if next == "" {
				break
			}
			cur = next
		}
	}
	return "(unidentified)"
}

// extractPtrRefs collects all reference strings from a property value,
// descending into nested maps and lists.
func extractPtrRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if ir.IsRef(val) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	}
	return refs
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
