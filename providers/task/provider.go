// Package task implements the provider for external command nodes. A
// command resource participates in the dependency graph like any cloud
// resource, but it has no remote object to converge on: applying it means
// running the command again, unless run_once marks it done after the
// first success.
package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
	api "github.com/stratus-io/stratus/pkg/provider"
)

// outputTailSize bounds how much combined stdout/stderr is kept for error
// reports and state.
const outputTailSize = 4096

type CommandConfig struct {
	// Command is the argv to execute, no shell involved.
	Command []string          `json:"command"`
	Env     map[string]string `json:"env"`
	Dir     string            `json:"dir"`
	// RunOnce marks the command done after its first success; later
	// applies plan it as a no-op even when its inputs change.
	RunOnce bool `json:"run_once"`
}

type CommandState struct {
	RanAt    string `json:"ran_at"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

// Plan inverts the usual digest proposal for commands that are not
// run_once: a command re-runs on every apply that reaches it, converged
// inputs or not.
func (p *Provider) Plan(ctx context.Context, req *api.PlanRequest) (*api.PlanResponse, error) {
	var desired CommandConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJSON == nil {
		return api.DefaultPlan(req)
	}
	if desired.RunOnce {
		return &api.PlanResponse{Action: ir.ActionNoop, Reason: "command already ran"}, nil
	}
	return &api.PlanResponse{Action: ir.ActionUpdate, Reason: "command re-runs every apply"}, nil
}

func (p *Provider) Apply(ctx context.Context, req *api.ApplyRequest) (*api.ApplyResponse, error) {
	// DELETE: a command cannot be un-run, forget it.
	if req.DesiredConfigJSON == nil {
		return &api.ApplyResponse{}, nil
	}

	var desired CommandConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if len(desired.Command) == 0 || desired.Command[0] == "" {
		return nil, errdefs.New(errdefs.ValidationError, "command must not be empty")
	}

	cmd := exec.CommandContext(ctx, desired.Command[0], desired.Command[1:]...)
	cmd.Dir = desired.Dir
	cmd.Env = os.Environ()
	for k, v := range desired.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	tail := outputTail(output.Bytes())
	if err != nil {
		if ctx.Err() != nil {
			return nil, errdefs.New(errdefs.ExternalTaskTimeout, "command %s killed: %v\n%s", desired.Command[0], ctx.Err(), tail)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, errdefs.New(errdefs.ExternalTaskFailed, "command %s exited with status %d\n%s", desired.Command[0], exitErr.ExitCode(), tail)
		}
		return nil, errdefs.New(errdefs.ExternalTaskFailed, "command %s failed to start: %v", desired.Command[0], err)
	}

	newState := CommandState{
		RanAt:    time.Now().UTC().Format(time.RFC3339),
		ExitCode: 0,
		Output:   tail,
	}
	stateJSON, _ := json.Marshal(newState)

	return &api.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func outputTail(b []byte) string {
	if len(b) > outputTailSize {
		b = b[len(b)-outputTailSize:]
	}
	return string(b)
}
