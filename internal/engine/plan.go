package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/logging"
	"github.com/stratus-io/stratus/internal/provider"
	api "github.com/stratus-io/stratus/pkg/provider"
)

// Engine orchestrates planning, applying and destroying a stack.
type Engine struct {
	registry *provider.Registry
	// Parallelism caps concurrent resource applies. Zero means
	// DefaultParallelism.
	Parallelism int
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{registry: registry}
}

// CreatePlan compares the desired stack against recorded state and returns
// the set of changes that reconciles them, in creation order. Disabled
// resources are excluded from the desired set; anything recorded in state
// but no longer desired becomes a delete.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	enabled := cfg.Enabled()
	logging.Debug("creating plan", "stack", cfg.Name, "resources", len(enabled), "state_resources", len(state.Resources))

	plan := &ir.Plan{
		Metadata: ir.PlanMetadata{Stack: cfg.Name, CreatedAt: time.Now().UTC()},
		Changes:  []*ir.ResourceChange{},
	}

	for _, res := range enabled {
		key := ir.ProviderKey(res.Type)
		if key == "" {
			return nil, errdefs.New(errdefs.ValidationError, "resource type %q has no provider prefix", res.Type)
		}
		if err := e.registry.LoadProvider(key); err != nil {
			return nil, errdefs.Wrap(errdefs.ValidationError, res.Addr(), err)
		}
	}

	dag, err := BuildDAG(enabled)
	if err != nil {
		return nil, err
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, rs := range state.Resources {
		stateMap[rs.Addr()] = rs
	}
	configByAddr := make(map[string]*ir.Resource)
	for _, res := range enabled {
		configByAddr[res.Addr()] = res
	}

	for _, addr := range dag.CreationOrder() {
		change, err := e.classify(ctx, configByAddr[addr], stateMap[addr])
		if err != nil {
			return nil, err
		}
		change.Dependencies = dag.Dependencies(addr)

		switch change.Action {
		case ir.ActionCreate:
			plan.Summary.Create++
		case ir.ActionUpdate:
			plan.Summary.Update++
		case ir.ActionNoop:
			plan.Summary.NoOp++
			continue
		default:
			return nil, errdefs.New(errdefs.ValidationError, "provider returned invalid action %q for %s", change.Action, addr)
		}
		plan.Changes = append(plan.Changes, change)
	}

	// Resources recorded in state but absent from the desired set are
	// destroyed. Their relative ordering is settled at apply time, in
	// reverse dependency order.
	for _, rs := range state.Resources {
		if _, desired := configByAddr[rs.Addr()]; desired {
			continue
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: rs.Addr(),
			Action:  ir.ActionDelete,
			Reason:  "removed from configuration",
			Prior:   rs,
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

// classify derives the action for one desired resource. The engine
// proposes an action from the recorded inputs digest; the provider's Plan
// hook may substitute its own, which is how non-idempotent resources force
// a re-run on otherwise unchanged inputs.
func (e *Engine) classify(ctx context.Context, res *ir.Resource, prior *ir.ResourceState) (*ir.ResourceChange, error) {
	desiredHash, err := ir.HashInputs(res.Properties)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ValidationError, res.Addr(), err)
	}

	proposed := ir.ActionCreate
	reason := "not in state"
	if prior != nil {
		if prior.InputsHash == desiredHash {
			proposed, reason = ir.ActionNoop, "inputs unchanged"
		} else {
			proposed, reason = ir.ActionUpdate, "inputs changed"
		}
	}

	prov, err := e.registry.Get(ir.ProviderKey(res.Type))
	if err != nil {
		return nil, err
	}

	desiredJSON, err := json.Marshal(ir.Normalize(res.Properties))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ValidationError, res.Addr(), err)
	}
	var priorJSON []byte
	if prior != nil {
		priorJSON, _ = json.Marshal(prior.Outputs)
	}

	resp, err := prov.Plan(ctx, &api.PlanRequest{
		Type:              res.Type,
		Name:              res.Name,
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    priorJSON,
		Proposed:          proposed,
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ValidationError, res.Addr(), err)
	}

	change := &ir.ResourceChange{
		Address:    res.Addr(),
		Action:     resp.Action,
		Reason:     reason,
		Desired:    res,
		Prior:      prior,
		InputsHash: desiredHash,
	}
	if change.Action == "" {
		change.Action = proposed
	}
	if resp.Reason != "" {
		change.Reason = resp.Reason
	}
	return change, nil
}
