package testutil

import (
	"encoding/json"
	"testing"
)

// volatileFields differ between otherwise identical runs.
var volatileFields = map[string]bool{
	"builtAt":             true,
	"finishedAt":          true,
	"duration":            true,
	"runId":               true,
	"requestId":           true,
	"backup":              true,
	"graphVersion":        true,
	"previousFingerprint": true,
	"age":                 true,
}

// Normalize converts v to its generic JSON form with volatile fields removed,
// so results of two runs over the same corpus compare equal.
func Normalize(t testing.TB, v any) any {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal data for normalization: %v", err)
	}
	return NormalizeJSON(t, data)
}

// NormalizeJSON is Normalize for an already encoded document.
func NormalizeJSON(t testing.TB, data []byte) any {
	t.Helper()

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("Failed to unmarshal data for normalization: %v", err)
	}
	return stripVolatile(generic)
}

func stripVolatile(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if volatileFields[k] {
				continue
			}
			out[k] = stripVolatile(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = stripVolatile(item)
		}
		return out
	default:
		return v
	}
}
