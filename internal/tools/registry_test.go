// ABOUTME: Tests for the tool catalogue, validation, and its MCP and markdown projections.
// ABOUTME: Verifies every advertised tool has a handler and matching MCP schema.

package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRegistry_Order(t *testing.T) {
	var names []string
	for _, d := range Registry() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		ToolTestConnection,
		ToolQueryAccounts,
		ToolGetAccount,
		ToolCreateAccount,
		ToolUpdateAccount,
		ToolDeleteAccount,
	}, names)
}

func TestRegistry_ReturnsCopy(t *testing.T) {
	r := Registry()
	r[0] = Descriptor{Name: "mutated"}

	d, ok := Lookup(ToolTestConnection)
	require.True(t, ok)
	assert.Equal(t, ToolTestConnection, Registry()[0].Name)
	assert.Equal(t, ToolTestConnection, d.Name)
}

func TestLookup(t *testing.T) {
	d, ok := Lookup(ToolGetAccount)
	require.True(t, ok)
	p, ok := d.Param("id")
	require.True(t, ok)
	assert.True(t, p.Required)

	_, ok = Lookup("drop_database")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	query, _ := Lookup(ToolQueryAccounts)
	create, _ := Lookup(ToolCreateAccount)
	connect, _ := Lookup(ToolTestConnection)

	tests := []struct {
		name    string
		desc    Descriptor
		args    map[string]any
		wantErr string
	}{
		{"no args for optional-only tool", query, map[string]any{}, ""},
		{"json number", query, map[string]any{"top": float64(5)}, ""},
		{"numeric string", query, map[string]any{"top": "5"}, ""},
		{"non-numeric top", query, map[string]any{"top": "five"}, `"top" must be a number`},
		{"wrong string type", query, map[string]any{"filter": 12.0}, `"filter" must be a string`},
		{"unknown args ignored", query, map[string]any{"extra": true}, ""},
		{"required present", create, map[string]any{"name": "Acme"}, ""},
		{"required missing", create, map[string]any{"phone": "1"}, "name"},
		{"required blank", create, map[string]any{"name": "  "}, "name"},
		{"several missing", connect, map[string]any{"baseUrl": "https://x"}, "username, password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate(tt.args)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMCPTool_Schema(t *testing.T) {
	d, _ := Lookup(ToolQueryAccounts)
	tool := d.MCPTool()

	raw, err := json.Marshal(tool)
	require.NoError(t, err)

	assert.Equal(t, ToolQueryAccounts, gjson.GetBytes(raw, "name").String())
	assert.Equal(t, "object", gjson.GetBytes(raw, "inputSchema.type").String())
	assert.Equal(t, "number", gjson.GetBytes(raw, "inputSchema.properties.top.type").String())
	assert.Equal(t, "string", gjson.GetBytes(raw, "inputSchema.properties.filter.type").String())
	assert.Empty(t, gjson.GetBytes(raw, "inputSchema.required").Array())

	c, _ := Lookup(ToolTestConnection)
	raw, err = json.Marshal(c.MCPTool())
	require.NoError(t, err)
	var required []string
	for _, r := range gjson.GetBytes(raw, "inputSchema.required").Array() {
		required = append(required, r.String())
	}
	assert.ElementsMatch(t, []string{"baseUrl", "username", "password"}, required)
}

// Catalogue, dispatcher handlers and the MCP tools/list answer must agree.
func TestCatalogueConsistency(t *testing.T) {
	d := NewDispatcher(Config{})

	var catalogueNames []string
	for _, desc := range Registry() {
		catalogueNames = append(catalogueNames, desc.Name)
		_, ok := d.handlers[desc.Name]
		assert.True(t, ok, "no handler for %s", desc.Name)
	}
	assert.Len(t, d.handlers, len(catalogueNames))

	srv := d.MCPServer(NewClientSlot(), "test", "0.0.0")
	ctx := context.Background()
	srv.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`))
	resp := srv.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var listed []string
	for _, tool := range gjson.GetBytes(raw, "result.tools").Array() {
		listed = append(listed, tool.Get("name").String())
		desc, ok := Lookup(tool.Get("name").String())
		require.True(t, ok)
		assert.Len(t, tool.Get("inputSchema.properties").Map(), len(desc.Params), desc.Name)
	}
	assert.ElementsMatch(t, catalogueNames, listed)
}

func TestMarkdown(t *testing.T) {
	md := Markdown(Registry())

	assert.Contains(t, md, "# Creatio tools")
	for _, d := range Registry() {
		assert.Contains(t, md, "## `"+d.Name+"`")
	}
	assert.Contains(t, md, "| `baseUrl` | string | yes |")
	assert.Contains(t, md, "| `top` | number | no |")
}
