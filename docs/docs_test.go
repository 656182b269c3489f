package docs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"
)

func TestReadDoc(t *testing.T) {
	doc, err := swag.ReadDoc(SwaggerInfo.InstanceName())
	require.NoError(t, err)

	var spec struct {
		BasePath string                    `json:"basePath"`
		Paths    map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &spec))

	assert.Equal(t, "/api/v1", spec.BasePath)
	assert.Contains(t, spec.Paths, "/transfers")
	assert.Contains(t, spec.Paths["/accounts/{accountId}/deposits"], "post")
	assert.Contains(t, spec.Paths["/reconciliation/double-entry"], "get")
}
