package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
)

// Manager reads and writes state snapshots on the local filesystem. It is
// the "local" Backend.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Read loads the state from the configured path. A missing file is an
// empty state, not an error. Encrypted files are transparently decrypted.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return ir.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
	}

	return ParseState(raw)
}

// Write saves the state to the configured path, bumping its serial. The
// snapshot lands via a temp file and rename so a crash mid-write never
// leaves a truncated state behind. If STRATUS_STATE_ENCRYPTION_KEY is set,
// the file is transparently encrypted.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := SerializeState(state)
	if err != nil {
		return err
	}

	encrypted, err := EncryptState(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}

	return nil
}

// ParseState decodes a plaintext state snapshot. An unparseable or
// version-incompatible snapshot is state corruption, never silently
// replaced by an empty state.
func ParseState(raw []byte) (*ir.State, error) {
	var state ir.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, errdefs.Wrap(errdefs.StateCorruption, "", fmt.Errorf("state file is not valid JSON: %w", err))
	}
	if state.Version > ir.StateVersion {
		return nil, errdefs.New(errdefs.StateCorruption, "state version %d is newer than supported version %d", state.Version, ir.StateVersion)
	}
	if state.Resources == nil {
		state.Resources = []*ir.ResourceState{}
	}
	return &state, nil
}

// SerializeState encodes a snapshot for storage, assigning a lineage on
// the first write and bumping the serial. Every store goes through this,
// so the serial counts successful writes regardless of backend.
func SerializeState(state *ir.State) ([]byte, error) {
	if state.Lineage == "" {
		state.Lineage = uuid.New().String()
	}
	state.Version = ir.StateVersion
	state.Serial++

	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	return append(content, '\n'), nil
}
