package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/logging"
	api "github.com/stratus-io/stratus/pkg/provider"
)

// DefaultParallelism caps concurrent resource applies unless the engine is
// configured otherwise.
const DefaultParallelism = 10

// ApplyEvent reports progress on one resource during apply or destroy.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback receives each ApplyEvent when set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan against state and returns the updated state.
// State reflects every completed resource even when others fail; callers
// must persist it regardless of the returned error.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress callbacks.
//
// Independent resources run concurrently up to the parallelism cap. A
// failed resource never stops the whole apply: only resources that depend
// on it, directly or transitively, are skipped, and everything outside
// that cone runs to completion. The returned error aggregates the
// individual failures.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	var creates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDelete {
			deletes = append(deletes, change)
		} else {
			creates = append(creates, change)
		}
	}

	var stateMu sync.Mutex
	var errs []error

	if len(creates) > 0 {
		errs = append(errs, e.applyGroup(ctx, creates, forwardDeps(creates), state, &stateMu, emit)...)
	}
	if len(deletes) > 0 {
		errs = append(errs, e.applyGroup(ctx, deletes, reverseDeps(deletes), state, &stateMu, emit)...)
	}

	if len(errs) > 0 {
		return state, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}
	if err := context.Cause(ctx); err != nil {
		return state, fmt.Errorf("apply cancelled: %w", err)
	}
	return state, nil
}

// forwardDeps maps each change to the changes it must wait for, restricted
// to the change set itself: a dependency that planned as a no-op is
// already satisfied.
func forwardDeps(changes []*ir.ResourceChange) map[string]map[string]bool {
	inSet := make(map[string]bool, len(changes))
	for _, c := range changes {
		inSet[c.Address] = true
	}
	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
		for _, d := range c.Dependencies {
			if inSet[d] {
				deps[c.Address][d] = true
			}
		}
	}
	return deps
}

// reverseDeps inverts recorded dependency edges for deletion: a resource
// is deleted only after every resource that depended on it is gone.
func reverseDeps(changes []*ir.ResourceChange) map[string]map[string]bool {
	inSet := make(map[string]bool, len(changes))
	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		inSet[c.Address] = true
		deps[c.Address] = make(map[string]bool)
	}
	for _, c := range changes {
		if c.Prior == nil {
			continue
		}
		for _, d := range c.Prior.Dependencies {
			if inSet[d] {
				deps[d][c.Address] = true
			}
		}
	}
	return deps
}

// applyGroup runs one group of changes concurrently, honoring the given
// wait-for edges. It returns the errors of resources that actually failed;
// skipped resources are reported through events only.
func (e *Engine) applyGroup(ctx context.Context, changes []*ir.ResourceChange, deps map[string]map[string]bool, state *ir.State, stateMu *sync.Mutex, emit func(ApplyEvent)) []error {
	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	completed := make(map[string]bool)
	blocked := make(map[string]bool) // failed or skipped
	var errs []error
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	sem := make(chan struct{}, parallelism)

	// Waiters only re-check their dependencies on a broadcast, so wake
	// them when the context is cancelled. Taking the lock first closes
	// the window where a waiter has checked ctx but not yet parked.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			cond.Broadcast()
			mu.Unlock()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	var wg sync.WaitGroup
	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			mu.Lock()
			for {
				if err := context.Cause(ctx); err != nil {
					blocked[c.Address] = true
					mu.Unlock()
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped", Error: err})
					cond.Broadcast()
					return
				}

				ready := true
				var failedDep string
				for dep := range deps[c.Address] {
					if blocked[dep] {
						failedDep = dep
						break
					}
					if !completed[dep] {
						ready = false
					}
				}
				if failedDep != "" {
					blocked[c.Address] = true
					mu.Unlock()
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped",
						Error: fmt.Errorf("dependency %s did not complete", failedDep)})
					cond.Broadcast()
					return
				}
				if ready {
					break
				}
				cond.Wait()
			}
			mu.Unlock()

			// Nothing new starts once the context is cancelled, even if a
			// semaphore slot frees up.
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				blocked[c.Address] = true
				mu.Unlock()
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped", Error: context.Cause(ctx)})
				cond.Broadcast()
				return
			}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateMu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				mu.Lock()
				blocked[c.Address] = true
				errs = append(errs, err)
				mu.Unlock()
				cond.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})
			mu.Lock()
			completed[c.Address] = true
			mu.Unlock()
			cond.Broadcast()
		}(change)
	}
	wg.Wait()

	return errs
}

// applyChange performs a single change and records the result in state.
func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateMu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	timeout := DefaultTimeout
	if change.Desired != nil && change.Desired.Timeout > 0 {
		timeout = change.Desired.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var typ, name string
	if change.Desired != nil {
		typ, name = change.Desired.Type, change.Desired.Name
	} else {
		typ, name = change.Prior.Type, change.Prior.Name
	}

	prov, err := e.registry.Get(ir.ProviderKey(typ))
	if err != nil {
		return errdefs.Wrap(errdefs.ValidationError, addr, err)
	}

	var priorJSON []byte
	stateMu.Lock()
	if prior := state.Resource(addr); prior != nil && prior.Outputs != nil {
		priorJSON, _ = json.Marshal(prior.Outputs)
	}
	stateMu.Unlock()

	policy := DefaultRetryPolicy()

	switch change.Action {
	case ir.ActionCreate, ir.ActionUpdate:
		props, ok := ir.Normalize(change.Desired.Properties).(map[string]any)
		if !ok {
			props = map[string]any{}
		}
		stateMu.Lock()
		resolved, err := resolveReferences(props, state)
		stateMu.Unlock()
		if err != nil {
			return err
		}
		desiredJSON, err := json.Marshal(resolved)
		if err != nil {
			return errdefs.Wrap(errdefs.ValidationError, addr, err)
		}

		var resp *api.ApplyResponse
		err = RetryWithBackoff(ctx, policy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &api.ApplyRequest{
				Type:              typ,
				Name:              name,
				DesiredConfigJSON: desiredJSON,
				PriorStateJSON:    priorJSON,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			return e.wrapApplyErr(errdefs.ResourceCreateFailed, addr, err)
		}

		var outputs map[string]any
		if len(resp.NewStateJSON) > 0 {
			if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
				return errdefs.Wrap(errdefs.StateCorruption, addr, fmt.Errorf("provider returned unreadable state: %w", err))
			}
		}

		stateMu.Lock()
		state.SetResource(&ir.ResourceState{
			Type:         typ,
			Name:         name,
			Inputs:       ir.RedactSensitive(props, change.Desired.Sensitive),
			InputsHash:   change.InputsHash,
			Outputs:      outputs,
			Dependencies: change.Dependencies,
		})
		stateMu.Unlock()

	case ir.ActionDelete:
		err := RetryWithBackoff(ctx, policy, func() error {
			_, deleteErr := prov.Apply(ctx, &api.ApplyRequest{
				Type:           typ,
				Name:           name,
				PriorStateJSON: priorJSON,
			})
			return deleteErr
		}, IsTransientError)
		if err != nil {
			return e.wrapApplyErr(errdefs.ResourceDeleteFailed, addr, err)
		}

		stateMu.Lock()
		state.RemoveResource(addr)
		stateMu.Unlock()
	}

	return nil
}

// wrapApplyErr attaches the address and a failure code, preserving codes
// the provider already assigned, such as external task failures.
func (e *Engine) wrapApplyErr(code errdefs.Code, addr string, err error) error {
	var de *errdefs.Error
	if errors.As(err, &de) {
		if de.Resource == "" {
			de.Resource = addr
		}
		return err
	}
	return errdefs.Wrap(code, addr, err).WithOp("apply")
}

// resolveReferences substitutes recorded output values for every reference
// in val. Dependency ordering guarantees the source resource has been
// applied; a reference that still cannot be resolved is an error, never
// passed through to a provider as a literal.
func resolveReferences(val any, state *ir.State) (any, error) {
	switch v := val.(type) {
	case string:
		if !ir.IsRef(v) {
			return v, nil
		}
		addr, attr, err := ir.ParseRef(v)
		if err != nil {
			return nil, errdefs.New(errdefs.UnresolvedReference, "%v", err)
		}
		rs := state.Resource(addr)
		if rs == nil {
			return nil, errdefs.New(errdefs.OutputUnavailable, "reference %s: resource %s has no recorded state", v, addr)
		}
		if out, ok := rs.Outputs[attr]; ok {
			return out, nil
		}
		if in, ok := rs.Inputs[attr]; ok {
			return in, nil
		}
		return nil, errdefs.New(errdefs.OutputUnavailable, "reference %s: attribute %q not recorded for %s", v, attr, addr)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := resolveReferences(item, state)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := resolveReferences(item, state)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}
