package schema

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGoogleSchema_IntegerFieldBecomesNumber(t *testing.T) {
	s := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"count": {Type: "integer"},
		},
		Required: []string{"count"},
	}

	out, err := NormalizeGoogleSchema(s)
	require.NoError(t, err)
	require.Equal(t, "object", out["type"])

	props := out["properties"].(map[string]any)
	require.Equal(t, "number", props["count"].(map[string]any)["type"])
}
