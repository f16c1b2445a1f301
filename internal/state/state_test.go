package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ReadMissingFile(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "state.json"))

	s, err := mgr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ir.StateVersion, s.Version)
	assert.Equal(t, 0, s.Serial)
	assert.Empty(t, s.Resources)
}

func TestManager_RoundTrip(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	mgr := NewManager(statePath)
	ctx := context.Background()

	s := ir.NewState()
	s.SetResource(&ir.ResourceState{
		Type:         "aws:S3.Bucket",
		Name:         "assets",
		Inputs:       map[string]any{"bucket": "assets", "value": ir.SensitivePlaceholder},
		InputsHash:   "digest",
		Outputs:      map[string]any{"bucket_name": "assets"},
		Dependencies: []string{"aws:IAM.Role.access"},
	})
	s.Outputs = map[string]any{"service_url": "https://api.example"}

	require.NoError(t, mgr.Write(ctx, s))

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Serial)
	assert.Equal(t, s.Lineage, got.Lineage)
	require.Len(t, got.Resources, 1)
	assert.Equal(t, s.Resources[0], got.Resources[0])
	assert.Equal(t, s.Outputs, got.Outputs)
}

func TestManager_SerialAndLineage(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	s := ir.NewState()
	require.NoError(t, mgr.Write(ctx, s))
	require.NotEmpty(t, s.Lineage, "lineage is assigned on the first write")
	lineage := s.Lineage

	require.NoError(t, mgr.Write(ctx, s))
	require.NoError(t, mgr.Write(ctx, s))

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Serial, "every write bumps the serial")
	assert.Equal(t, lineage, got.Lineage, "lineage never changes after the first write")
}

func TestManager_CorruptFile(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0644))

	_, err := NewManager(statePath).Read(context.Background())
	require.Error(t, err)
	assert.Equal(t, errdefs.StateCorruption, errdefs.CodeOf(err))
}

func TestManager_FutureVersionRejected(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"version": 99, "serial": 1}`), 0644))

	_, err := NewManager(statePath).Read(context.Background())
	require.Error(t, err)
	assert.Equal(t, errdefs.StateCorruption, errdefs.CodeOf(err))
}

func TestManager_EncryptedRoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "squeamish ossifrage")

	statePath := filepath.Join(t.TempDir(), "state.json")
	mgr := NewManager(statePath)
	ctx := context.Background()

	s := ir.NewState()
	s.SetResource(&ir.ResourceState{Type: "aws:S3.Bucket", Name: "assets", InputsHash: "digest"})
	require.NoError(t, mgr.Write(ctx, s))

	// The file on disk is ciphertext.
	raw, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "aws:S3.Bucket")

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	require.Len(t, got.Resources, 1)
	assert.Equal(t, "aws:S3.Bucket", got.Resources[0].Type)
}

func TestManager_Lock(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, mgr.Lock())
	err := mgr.Lock()
	require.Error(t, err, "a held lock refuses a second acquisition")
	assert.Contains(t, err.Error(), "locked by another process")

	require.NoError(t, mgr.Unlock())
	require.NoError(t, mgr.Lock())
	require.NoError(t, mgr.Unlock())
	require.NoError(t, mgr.Unlock(), "unlock is idempotent")
}
