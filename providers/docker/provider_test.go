package docker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stratus-io/stratus/internal/ir"
	api "github.com/stratus-io/stratus/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Plan(t *testing.T) {
	p := New()
	ctx := context.Background()

	desired := ImageConfig{RegistryURL: "registry.example.com/weather", BuildContext: "."}
	desiredJSON, _ := json.Marshal(desired)

	// 1. New image: follow the engine's proposal.
	resp, err := p.Plan(ctx, &api.PlanRequest{
		Type:              "docker:Image",
		Name:              "build",
		DesiredConfigJSON: desiredJSON,
		Proposed:          ir.ActionCreate,
	})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionCreate, resp.Action)

	// 2. Already built: rebuild anyway, pushes are not idempotent.
	prior := ImageState{Image: "registry.example.com/weather:latest"}
	priorJSON, _ := json.Marshal(prior)

	resp, err = p.Plan(ctx, &api.PlanRequest{
		Type:              "docker:Image",
		Name:              "build",
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    priorJSON,
		Proposed:          ir.ActionNoop,
	})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionUpdate, resp.Action)
	assert.Equal(t, "image rebuilds every apply", resp.Reason)

	// 3. run_once suppresses the rebuild once state exists.
	once := ImageConfig{RegistryURL: "registry.example.com/weather", BuildContext: ".", RunOnce: true}
	onceJSON, _ := json.Marshal(once)

	resp, err = p.Plan(ctx, &api.PlanRequest{
		Type:              "docker:Image",
		Name:              "build",
		DesiredConfigJSON: onceJSON,
		PriorStateJSON:    priorJSON,
		Proposed:          ir.ActionUpdate,
	})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNoop, resp.Action)
}

func TestDrainStream_CleanBuild(t *testing.T) {
	stream := `{"stream":"Step 1/4 : FROM alpine\n"}
{"stream":" ---> abc123\n"}
{"status":"Pushing","id":"layer1"}
{"stream":"Successfully built abc123\n"}
`
	err := drainStream(strings.NewReader(stream))
	assert.NoError(t, err)
}

func TestDrainStream_ErrorCarriesTail(t *testing.T) {
	stream := `{"stream":"Step 3/4 : RUN go build ./...\n"}
{"stream":"main.go:10: undefined: frobnicate\n"}
{"error":"The command '/bin/sh -c go build ./...' returned a non-zero code: 1","errorDetail":{"message":"The command '/bin/sh -c go build ./...' returned a non-zero code: 1"}}
`
	err := drainStream(strings.NewReader(stream))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-zero code: 1")
	assert.Contains(t, err.Error(), "undefined: frobnicate")
}

func TestDrainStream_ErrorWithoutDetail(t *testing.T) {
	err := drainStream(strings.NewReader(`{"error":"denied: access forbidden"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied: access forbidden")
}

func TestDrainStream_Garbage(t *testing.T) {
	err := drainStream(strings.NewReader("not json at all"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreadable progress stream")
}

func TestIsECRHost(t *testing.T) {
	assert.True(t, isECRHost("123456789012.dkr.ecr.us-east-1.amazonaws.com"))
	assert.True(t, isECRHost("123456789012.dkr.ecr.eu-west-2.amazonaws.com"))
	assert.False(t, isECRHost("registry.example.com"))
	assert.False(t, isECRHost("docker.io"))
	assert.False(t, isECRHost("ecr.amazonaws.example.com"))
}
