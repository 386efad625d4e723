package refresolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_LocalPointer(t *testing.T) {
	r := New(t.TempDir(), 0)
	schema := map[string]any{
		"definitions": map[string]any{
			"Name": map[string]any{"type": "string"},
		},
		"properties": map[string]any{
			"name": map[string]any{"$ref": "#/definitions/Name"},
		},
	}
	resolved, err := r.Resolve(schema, "")
	require.NoError(t, err)
	props := resolved["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	assert.Equal(t, "string", name["type"])
}

func TestResolve_CrossFile(t *testing.T) {
	dir := t.TempDir()
	common := filepath.Join(dir, "common.schema.yaml")
	require.NoError(t, os.WriteFile(common, []byte("definitions:\n  Email:\n    type: string\n    format: email\n"), 0o600))

	r := New(dir, 0)
	schema := map[string]any{
		"properties": map[string]any{
			"email": map[string]any{"$ref": "common.schema.yaml#/definitions/Email"},
		},
	}
	resolved, err := r.Resolve(schema, filepath.Join(dir, "user.schema.yaml"))
	require.NoError(t, err)
	props := resolved["properties"].(map[string]any)
	email := props["email"].(map[string]any)
	assert.Equal(t, "email", email["format"])
}

func TestResolve_SelfCircularFails(t *testing.T) {
	r := New(t.TempDir(), 0)
	schema := map[string]any{
		"properties": map[string]any{
			"self": map[string]any{"$ref": "#/properties/self"},
		},
	}
	_, err := r.Resolve(schema, "")
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeSchemaCircularRef, aerr.Code)
}

func TestResolve_MissingRefFails(t *testing.T) {
	r := New(t.TempDir(), 0)
	schema := map[string]any{"$ref": "#/definitions/Missing"}
	_, err := r.Resolve(schema, "")
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeSchemaNotFound, aerr.Code)
}

func TestResolve_SiblingKeysOverrideTarget(t *testing.T) {
	r := New(t.TempDir(), 0)
	schema := map[string]any{
		"definitions": map[string]any{
			"Name": map[string]any{"type": "string", "maxLength": 10},
		},
		"properties": map[string]any{
			"name": map[string]any{"$ref": "#/definitions/Name", "description": "a name"},
		},
	}
	resolved, err := r.Resolve(schema, "")
	require.NoError(t, err)
	props := resolved["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	assert.Equal(t, "a name", name["description"])
	assert.Equal(t, "string", name["type"])
}
