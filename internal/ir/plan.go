package ir

import "time"

// Action is the operation the engine will take for one resource.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionNoop   Action = "NOOP"
)

// Plan is the ordered set of changes that reconciles recorded state with
// the desired stack. Changes appear in dependency order for creates and
// updates; deletes run in reverse dependency order at apply time.
type Plan struct {
	Metadata PlanMetadata      `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  PlanSummary       `json:"summary"`
}

type PlanMetadata struct {
	Stack     string    `json:"stack,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ResourceChange pairs a resource with the action that reconciles it.
// Desired is nil for deletes; Prior is nil for creates. Dependencies and
// InputsHash are computed during planning and recorded into state on a
// successful apply.
type ResourceChange struct {
	Address      string         `json:"address"`
	Action       Action         `json:"action"`
	Reason       string         `json:"reason,omitempty"`
	Desired      *Resource      `json:"desired,omitempty"`
	Prior        *ResourceState `json:"prior,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	InputsHash   string         `json:"inputs_hash,omitempty"`
}

type PlanSummary struct {
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
	NoOp   int `json:"noop"`
}

// HasChanges reports whether applying the plan would touch any resource.
func (p *Plan) HasChanges() bool {
	return p.Summary.Create+p.Summary.Update+p.Summary.Delete > 0
}

// Change returns the change for addr, or nil.
func (p *Plan) Change(addr string) *ResourceChange {
	for _, c := range p.Changes {
		if c.Address == addr {
			return c
		}
	}
	return nil
}
