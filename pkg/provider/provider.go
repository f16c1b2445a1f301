// Package provider defines the contract between the engine and resource
// providers. Providers are compiled in and invoked directly; requests and
// responses carry JSON payloads so provider implementations stay decoupled
// from the engine's internal representation.
package provider

import (
	"context"

	"github.com/stratus-io/stratus/internal/ir"
)

// PlanRequest asks a provider to classify the change for one resource.
// DesiredConfigJSON holds the declared, unresolved configuration and is
// nil when the resource is being destroyed. PriorStateJSON holds the
// recorded outputs and is nil when the resource has never been applied.
// Proposed is the action the engine derived from its input digests;
// providers either accept it or substitute their own.
type PlanRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
	Proposed          ir.Action
}

// PlanResponse reports the action the provider will take. Reason is a
// short explanation surfaced in plan output.
type PlanResponse struct {
	Action ir.Action
	Reason string
}

// DefaultPlan accepts the engine's proposed action unchanged. Providers
// whose resources are fully described by their declared inputs use this
// as their Plan implementation.
func DefaultPlan(req *PlanRequest) (*PlanResponse, error) {
	return &PlanResponse{Action: req.Proposed}, nil
}

// ApplyRequest carries the resolved configuration for one change. A nil
// DesiredConfigJSON instructs the provider to delete the resource.
type ApplyRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
}

// ApplyResponse returns the provider's recorded state for the resource,
// serialized as JSON. NewStateJSON is nil after a delete.
type ApplyResponse struct {
	NewStateJSON []byte
}

// Provider plans and applies changes for the resource types it owns.
// Implementations must be safe for concurrent use; the engine applies
// independent resources in parallel.
type Provider interface {
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
}
