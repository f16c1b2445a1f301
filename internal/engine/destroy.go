package engine

import (
	"context"
	"time"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/logging"
)

// PlanDestroy builds a plan that deletes every resource recorded in state.
// The declared stack plays no part: teardown works from the snapshot
// alone, so it succeeds even when the original declarations are gone or
// have changed. Changes are emitted in reverse dependency order.
func (e *Engine) PlanDestroy(state *ir.State) (*ir.Plan, error) {
	logging.Debug("planning destroy", "state_resources", len(state.Resources))

	dag, err := BuildDAGFromState(state.Resources)
	if err != nil {
		return nil, err
	}

	plan := &ir.Plan{
		Metadata: ir.PlanMetadata{CreatedAt: time.Now().UTC()},
		Changes:  []*ir.ResourceChange{},
	}

	for _, addr := range dag.DestructionOrder() {
		rs := state.Resource(addr)
		if rs == nil {
			continue
		}
		key := ir.ProviderKey(rs.Type)
		if key == "" {
			return nil, errdefs.New(errdefs.StateCorruption, "state resource %s has unqualified type %q", addr, rs.Type)
		}
		if err := e.registry.LoadProvider(key); err != nil {
			return nil, errdefs.Wrap(errdefs.StateCorruption, addr, err)
		}

		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionDelete,
			Reason:  "destroy",
			Prior:   rs,
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

// Destroy deletes everything in state. A failed deletion blocks only the
// resources it depends on; independent deletions still complete, and the
// surviving entries stay in state for the next attempt.
func (e *Engine) Destroy(ctx context.Context, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	plan, err := e.PlanDestroy(state)
	if err != nil {
		return state, err
	}
	newState, err := e.ApplyPlanWithCallback(ctx, plan, state, callback)
	if err == nil && len(newState.Resources) == 0 {
		// Outputs point at resources that no longer exist.
		newState.Outputs = nil
	}
	return newState, err
}
