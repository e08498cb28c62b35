package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// NormalizeGoogleSchema accepts a schema built with the typed
// jsonschema.Schema struct (the shape the teacher SDK's SimpleSchema/
// goTypeToJSONSchema helpers produce) and runs it through the same
// normalization walk as a wire-decoded tool, proving the walk is agnostic
// to whether the schema originated as a typed Go value or a raw map
// decoded off a child's tools/list response.
func NormalizeGoogleSchema(s *jsonschema.Schema) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonschema.Schema: %w", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode jsonschema.Schema as map: %w", err)
	}

	tools := Normalize([]map[string]any{{"name": "adapter", "inputSchema": decoded}})

	schemaMap, _ := tools[0]["inputSchema"].(map[string]any)

	return schemaMap, nil
}
