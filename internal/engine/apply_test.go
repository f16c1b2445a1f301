package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlan_CreateRecordsState(t *testing.T) {
	fake := newFakeProvider()
	eng := NewEngine(fakeRegistry(fake))
	ctx := context.Background()

	props := map[string]any{"bucket": "assets"}
	hash, err := ir.HashInputs(props)
	require.NoError(t, err)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address:    "test:Bucket.assets",
				Action:     ir.ActionCreate,
				Desired:    &ir.Resource{Type: "test:Bucket", Name: "assets", Properties: props},
				InputsHash: hash,
			},
		},
		Summary: ir.PlanSummary{Create: 1},
	}

	state, err := eng.ApplyPlan(ctx, plan, ir.NewState())
	require.NoError(t, err)
	require.Len(t, state.Resources, 1)

	rs := state.Resource("test:Bucket.assets")
	require.NotNil(t, rs)
	assert.Equal(t, hash, rs.InputsHash)
	assert.Equal(t, "assets", rs.Inputs["bucket"])
	assert.Equal(t, "test:Bucket.assets", rs.Outputs["id"])
}

func TestApplyPlan_UpdateReplacesEntry(t *testing.T) {
	fake := newFakeProvider()
	eng := NewEngine(fakeRegistry(fake))
	ctx := context.Background()

	state := ir.NewState()
	state.SetResource(&ir.ResourceState{
		Type: "test:Bucket", Name: "assets",
		Inputs:     map[string]any{"bucket": "old"},
		InputsHash: "stale",
		Outputs:    map[string]any{"id": "test:Bucket.assets"},
	})

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address:    "test:Bucket.assets",
				Action:     ir.ActionUpdate,
				Desired:    &ir.Resource{Type: "test:Bucket", Name: "assets", Properties: map[string]any{"bucket": "new"}},
				InputsHash: "fresh",
			},
		},
	}

	state, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	require.Len(t, state.Resources, 1, "update must replace, not append")
	assert.Equal(t, "fresh", state.Resource("test:Bucket.assets").InputsHash)
	assert.Equal(t, "new", state.Resource("test:Bucket.assets").Inputs["bucket"])
}

func TestApplyPlan_DeleteRemovesEntry(t *testing.T) {
	fake := newFakeProvider()
	eng := NewEngine(fakeRegistry(fake))
	ctx := context.Background()

	prior := &ir.ResourceState{Type: "test:Bucket", Name: "assets", Outputs: map[string]any{"id": "x"}}
	state := ir.NewState()
	state.SetResource(prior)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{Address: "test:Bucket.assets", Action: ir.ActionDelete, Prior: prior},
		},
	}

	state, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	assert.Empty(t, state.Resources)
	assert.Equal(t, 0, fake.callIndex("delete test:Bucket.assets"))
}

func TestApplyPlan_SensitiveInputsRedacted(t *testing.T) {
	fake := newFakeProvider()
	eng := NewEngine(fakeRegistry(fake))
	ctx := context.Background()

	props := map[string]any{"name": "api-key", "value": "hunter2"}
	hash, err := ir.HashInputs(props)
	require.NoError(t, err)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "test:Secret.api-key",
				Action:  ir.ActionCreate,
				Desired: &ir.Resource{
					Type: "test:Secret", Name: "api-key",
					Properties: props,
					Sensitive:  []string{"value"},
				},
				InputsHash: hash,
			},
		},
	}

	state, err := eng.ApplyPlan(ctx, plan, ir.NewState())
	require.NoError(t, err)

	rs := state.Resource("test:Secret.api-key")
	require.NotNil(t, rs)
	assert.Equal(t, ir.SensitivePlaceholder, rs.Inputs["value"], "plaintext must never be persisted")
	assert.Equal(t, "api-key", rs.Inputs["name"])
	assert.Equal(t, hash, rs.InputsHash, "digest covers the unredacted inputs")

	// The provider still received the real value.
	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.configs["test:Secret.api-key"], &sent))
	assert.Equal(t, "hunter2", sent["value"])
}

func TestApplyPlan_EventSequence(t *testing.T) {
	fake := newFakeProvider()
	eng := NewEngine(fakeRegistry(fake))
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "test:Bucket.assets",
				Action:  ir.ActionCreate,
				Desired: &ir.Resource{Type: "test:Bucket", Name: "assets"},
			},
		},
	}

	var mu sync.Mutex
	var events []ApplyEvent
	_, err := eng.ApplyPlanWithCallback(ctx, plan, ir.NewState(), func(ev ApplyEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Status)
	assert.Equal(t, "completed", events[1].Status)
	assert.Equal(t, "test:Bucket.assets", events[0].Address)
	assert.Equal(t, ir.ActionCreate, events[0].Action)
}

func TestApplyPlan_PartialStateOnCancel(t *testing.T) {
	fake := newFakeProvider()
	fake.started = make(chan string, 8)
	gate := make(chan struct{})
	fake.gate["test:Table.events"] = gate

	eng := NewEngine(fakeRegistry(fake))
	ctx, cancel := context.WithCancel(context.Background())

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "test:Table.events",
				Action:  ir.ActionCreate,
				Desired: &ir.Resource{Type: "test:Table", Name: "events"},
			},
			{
				Address:      "test:Service.api",
				Action:       ir.ActionCreate,
				Desired:      &ir.Resource{Type: "test:Service", Name: "api", DependsOn: []string{"test:Table.events"}},
				Dependencies: []string{"test:Table.events"},
			},
		},
	}

	var mu sync.Mutex
	events := make(map[string]string)
	done := make(chan struct{})
	var state *ir.State
	var applyErr error
	go func() {
		defer close(done)
		state, applyErr = eng.ApplyPlanWithCallback(ctx, plan, ir.NewState(), func(ev ApplyEvent) {
			mu.Lock()
			defer mu.Unlock()
			events[ev.Address+" "+ev.Status] = ev.Status
		})
	}()

	// Wait for the table to be in flight, then cancel and release it.
	<-fake.started
	cancel()
	close(gate)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("apply did not return after cancellation")
	}

	require.Error(t, applyErr)
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, "test:Service.api skipped", "nothing new starts after cancellation")
	assert.NotContains(t, events, "test:Service.api started")
	assert.NotNil(t, state, "partial state is always returned for persistence")
}

func TestResolveReferences(t *testing.T) {
	state := ir.NewState()
	state.SetResource(&ir.ResourceState{
		Type: "test:Registry", Name: "images",
		Inputs:  map[string]any{"repository_name": "images"},
		Outputs: map[string]any{"repository_url": "registry.example/images"},
	})

	got, err := resolveReferences(ir.Ref("test:Registry", "images", "repository_url"), state)
	require.NoError(t, err)
	assert.Equal(t, "registry.example/images", got)

	// Attributes absent from outputs fall back to recorded inputs.
	got, err = resolveReferences(ir.Ref("test:Registry", "images", "repository_name"), state)
	require.NoError(t, err)
	assert.Equal(t, "images", got)

	got, err = resolveReferences("plain-string", state)
	require.NoError(t, err)
	assert.Equal(t, "plain-string", got)

	got, err = resolveReferences(map[string]any{
		"url":  ir.Ref("test:Registry", "images", "repository_url"),
		"name": "literal",
		"list": []any{ir.Ref("test:Registry", "images", "repository_url")},
	}, state)
	require.NoError(t, err)
	m := got.(map[string]any)
	assert.Equal(t, "registry.example/images", m["url"])
	assert.Equal(t, "literal", m["name"])
	assert.Equal(t, "registry.example/images", m["list"].([]any)[0])
}

func TestResolveReferences_Unavailable(t *testing.T) {
	state := ir.NewState()
	state.SetResource(&ir.ResourceState{
		Type: "test:Registry", Name: "images",
		Outputs: map[string]any{"repository_url": "registry.example/images"},
	})

	_, err := resolveReferences(ir.Ref("test:Registry", "images", "missing_attr"), state)
	require.Error(t, err)
	assert.Equal(t, errdefs.OutputUnavailable, errdefs.CodeOf(err))

	_, err = resolveReferences(ir.Ref("test:Registry", "ghost", "repository_url"), state)
	require.Error(t, err)
	assert.Equal(t, errdefs.OutputUnavailable, errdefs.CodeOf(err))
}

func TestApplyPlan_TimeoutMarksFailure(t *testing.T) {
	fake := newFakeProvider()
	fake.gate["test:Build.image"] = make(chan struct{}) // never released

	eng := NewEngine(fakeRegistry(fake))
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "test:Build.image",
				Action:  ir.ActionCreate,
				Desired: &ir.Resource{
					Type: "test:Build", Name: "image",
					Timeout: 50 * time.Millisecond,
				},
			},
		},
	}

	state, err := eng.ApplyPlan(ctx, plan, ir.NewState())
	require.Error(t, err)
	assert.Nil(t, state.Resource("test:Build.image"))
}
