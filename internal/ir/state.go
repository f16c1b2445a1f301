package ir

// StateVersion is the schema version written to new state snapshots.
const StateVersion = 1

// State is the persisted record of everything the engine manages. Serial
// increments on every write; Lineage is fixed at first write and identifies
// the deployment across state files.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage,omitempty"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// ResourceState records one applied resource: the inputs it was created
// from, a digest of those inputs, and the attributes the provider returned.
// Inputs are stored unresolved and with sensitive keys redacted; InputsHash
// is computed before redaction and is never recomputed from state.
type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	InputsHash   string         `json:"inputs_hash,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// Addr returns the canonical address, e.g. "aws:S3.Bucket.assets".
func (rs *ResourceState) Addr() string {
	return rs.Type + "." + rs.Name
}

// NewState returns an empty snapshot at the current schema version.
func NewState() *State {
	return &State{Version: StateVersion, Resources: []*ResourceState{}}
}

// Resource returns the entry with the given address, or nil.
func (s *State) Resource(addr string) *ResourceState {
	for _, rs := range s.Resources {
		if rs.Addr() == addr {
			return rs
		}
	}
	return nil
}

// SetResource inserts rs, replacing any existing entry at the same address.
func (s *State) SetResource(rs *ResourceState) {
	for i, cur := range s.Resources {
		if cur.Addr() == rs.Addr() {
			s.Resources[i] = rs
			return
		}
	}
	s.Resources = append(s.Resources, rs)
}

// RemoveResource deletes the entry at addr, if present.
func (s *State) RemoveResource(addr string) {
	for i, cur := range s.Resources {
		if cur.Addr() == addr {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			return
		}
	}
}
