package cli

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/provider"
	"github.com/stratus-io/stratus/internal/stack"
	"github.com/stratus-io/stratus/internal/state"
)

// captureOutput runs fn with os.Stdout redirected to a pipe and returns
// everything it printed.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	require.NoError(t, w.Close())
	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func TestColorize(t *testing.T) {
	noColor = false
	t.Cleanup(func() { noColor = false })

	assert.Equal(t, "\033[31mboom\033[0m", colorize(colorRed, "boom"))
	assert.Equal(t, "plain", colorize("", "plain"))

	noColor = true
	assert.Equal(t, "boom", colorize(colorRed, "boom"))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"nil", nil, "null"},
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"float", 1.5, "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatValue(tt.input))
		})
	}
}

func TestActionSymbol(t *testing.T) {
	assert.Equal(t, "+", actionSymbol(ir.ActionCreate))
	assert.Equal(t, "-", actionSymbol(ir.ActionDelete))
	assert.Equal(t, "~", actionSymbol(ir.ActionUpdate))
	assert.Equal(t, " ", actionSymbol(ir.ActionNoop))
}

func TestProgressVerbs(t *testing.T) {
	assert.Equal(t, "creating", progressVerb(ir.ActionCreate))
	assert.Equal(t, "deleting", progressVerb(ir.ActionDelete))
	assert.Equal(t, "updating", progressVerb(ir.ActionUpdate))
	assert.Equal(t, "created", doneVerb(ir.ActionCreate))
	assert.Equal(t, "deleted", doneVerb(ir.ActionDelete))
	assert.Equal(t, "updated", doneVerb(ir.ActionUpdate))
}

func TestRenderPlanSummary(t *testing.T) {
	plan := &ir.Plan{Summary: ir.PlanSummary{Create: 3, Update: 1, Delete: 2, NoOp: 4}}

	out := captureOutput(t, func() { renderPlanSummary(plan) })

	assert.Contains(t, out, "Create: 3")
	assert.Contains(t, out, "Update: 1")
	assert.Contains(t, out, "Delete: 2")
	assert.Contains(t, out, "NoOp:   4")
}

func TestRenderPlanChanges_Create(t *testing.T) {
	noColor = true
	t.Cleanup(func() { noColor = false })

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{{
			Address: "aws:S3.Bucket.assets",
			Action:  ir.ActionCreate,
			Desired: &ir.Resource{
				Type: "aws:S3.Bucket",
				Name: "assets",
				Properties: map[string]any{
					"bucket":        "weather-assets",
					"force_destroy": true,
				},
			},
		}},
	}

	out := captureOutput(t, func() { renderPlanChanges(plan) })

	assert.Contains(t, out, "# aws:S3.Bucket.assets will be CREATE")
	assert.Contains(t, out, `+ resource "aws:S3.Bucket" "assets" {`)
	assert.Contains(t, out, `+ bucket = "weather-assets"`)
	assert.Contains(t, out, "+ force_destroy = true")
}

func TestRenderPlanChanges_RedactsSensitive(t *testing.T) {
	noColor = true
	t.Cleanup(func() { noColor = false })

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{{
			Address: "aws:SecretsManager.Secret.api-key",
			Action:  ir.ActionCreate,
			Desired: &ir.Resource{
				Type:      "aws:SecretsManager.Secret",
				Name:      "api-key",
				Sensitive: []string{"value"},
				Properties: map[string]any{
					"name":  "weather/openweather-api-key",
					"value": "super-secret-key",
				},
			},
		}},
	}

	out := captureOutput(t, func() { renderPlanChanges(plan) })

	assert.NotContains(t, out, "super-secret-key")
	assert.Contains(t, out, ir.SensitivePlaceholder)
}

func TestRenderPlanChanges_UpdateReason(t *testing.T) {
	noColor = true
	t.Cleanup(func() { noColor = false })

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{{
			Address: "docker:Image.api",
			Action:  ir.ActionUpdate,
			Reason:  "image rebuilds every apply",
			Desired: &ir.Resource{
				Type:       "docker:Image",
				Name:       "api",
				Properties: map[string]any{"tag": "latest"},
			},
			Prior: &ir.ResourceState{
				Type:   "docker:Image",
				Name:   "api",
				Inputs: map[string]any{"tag": "v1"},
			},
		}},
	}

	out := captureOutput(t, func() { renderPlanChanges(plan) })

	assert.Contains(t, out, "will be UPDATE (image rebuilds every apply)")
	assert.Contains(t, out, `~ tag = "v1" -> "latest"`)
}

func TestRenderInlineDiff(t *testing.T) {
	noColor = true
	t.Cleanup(func() { noColor = false })

	prior := map[string]any{"port": 8080, "cpu": "1024", "old": "x"}
	desired := map[string]any{"port": 9090, "cpu": "1024", "new": "y"}

	out := captureOutput(t, func() { renderInlineDiff(prior, desired) })

	assert.Contains(t, out, "~ port = 8080 -> 9090")
	assert.Contains(t, out, `- old = "x"`)
	assert.Contains(t, out, `+ new = "y"`)
	assert.Contains(t, out, `  cpu = "1024"`)
}

func TestPrintOutputs_Sorted(t *testing.T) {
	out := captureOutput(t, func() {
		printOutputs(map[string]any{"endpoint": "https://x", "registry_uri": "y"})
	})

	assert.Contains(t, out, "Outputs:")
	endpointIdx := bytes.Index([]byte(out), []byte("endpoint"))
	registryIdx := bytes.Index([]byte(out), []byte("registry_uri"))
	assert.Less(t, endpointIdx, registryIdx)
}

func TestLoadRequiredProviders(t *testing.T) {
	registry := provider.NewRegistry()
	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "aws:S3.Bucket", Name: "a"},
			{Type: "aws:DynamoDB.Table", Name: "b"},
			{Type: "docker:Image", Name: "c"},
			{Type: "task:Command", Name: "d"},
		},
	}

	require.NoError(t, loadRequiredProviders(registry, cfg))

	for _, name := range []string{"aws", "docker", "task"} {
		_, err := registry.Get(name)
		assert.NoError(t, err, "provider %s should be loaded", name)
	}
}

func TestLoadRequiredProviders_Unknown(t *testing.T) {
	registry := provider.NewRegistry()
	cfg := &ir.Config{
		Resources: []*ir.Resource{{Type: "gcp:Storage.Bucket", Name: "a"}},
	}

	err := loadRequiredProviders(registry, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcp")
}

func TestLoadStateProviders(t *testing.T) {
	registry := provider.NewRegistry()
	st := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "aws:S3.Bucket", Name: "a"},
			{Type: "docker:Image", Name: "c"},
		},
	}

	require.NoError(t, loadStateProviders(registry, st))

	_, err := registry.Get("aws")
	assert.NoError(t, err)
	_, err = registry.Get("docker")
	assert.NoError(t, err)
}

func TestOpenBackend_StateFlagOverride(t *testing.T) {
	statePath = "/tmp/override.json"
	t.Cleanup(func() { statePath = "" })

	p := &stack.Params{Backend: &state.BackendConfig{Type: "s3"}}
	backend, err := openBackend(p)
	require.NoError(t, err)

	_, isLocal := backend.(*state.Manager)
	assert.True(t, isLocal, "--state should force the local backend")
}

func TestOpenBackend_Default(t *testing.T) {
	statePath = ""
	backend, err := openBackend(&stack.Params{})
	require.NoError(t, err)

	_, isLocal := backend.(*state.Manager)
	assert.True(t, isLocal)
}
