package engine

import (
	"errors"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
)

// ResolveOutputs resolves the stack's declared outputs against recorded
// state. An output whose source resource was never applied, or whose
// attribute the provider did not record, fails with OutputUnavailable
// naming the output.
func (e *Engine) ResolveOutputs(cfg *ir.Config, state *ir.State) (map[string]any, error) {
	outputs := make(map[string]any, len(cfg.Outputs))
	for name, out := range cfg.Outputs {
		v, err := resolveReferences(ir.Normalize(out.Value), state)
		if err != nil {
			var de *errdefs.Error
			if errors.As(err, &de) {
				return nil, de.WithOp("output " + name)
			}
			return nil, errdefs.Wrap(errdefs.OutputUnavailable, "", err).WithOp("output " + name)
		}
		outputs[name] = v
	}
	return outputs, nil
}
