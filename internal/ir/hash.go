package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SensitivePlaceholder replaces sensitive property values before they are
// persisted or printed.
const SensitivePlaceholder = "(sensitive)"

// HashInputs returns a stable hex digest of a resource's declared
// properties. Properties are hashed before reference resolution, so the
// digest changes only when the declaration itself changes. encoding/json
// writes map keys in sorted order, which makes the encoding canonical.
func HashInputs(props map[string]any) (string, error) {
	b, err := json.Marshal(Normalize(props))
	if err != nil {
		return "", fmt.Errorf("hash inputs: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Normalize rewrites v into plain JSON shapes: map[any]any becomes
// map[string]any, typed slices become []any, and nested containers are
// rewritten recursively. Reference resolution walks the normalized form,
// so a reference buried in a []map[string]any literal still resolves.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return v
	}
}

// RedactSensitive returns a copy of props with the named top-level keys
// replaced by SensitivePlaceholder. Digests must be computed over the
// unredacted properties, never over the result of this function.
func RedactSensitive(props map[string]any, sensitive []string) map[string]any {
	if len(props) == 0 {
		return props
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	for _, key := range sensitive {
		if _, ok := out[key]; ok {
			out[key] = SensitivePlaceholder
		}
	}
	return out
}
