// ABOUTME: Canonical catalogue of the Creatio tools exposed to agents and the dashboard.
// ABOUTME: MCP tool schemas, argument validation and docs are all derived from this one list.

package tools

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names.
const (
	ToolTestConnection = "test_creatio_connection"
	ToolQueryAccounts  = "query_creatio_accounts"
	ToolGetAccount     = "get_creatio_account"
	ToolCreateAccount  = "create_creatio_account"
	ToolUpdateAccount  = "update_creatio_account"
	ToolDeleteAccount  = "delete_creatio_account"
)

// Parameter types.
const (
	TypeString = "string"
	TypeNumber = "number"
)

// Param describes one tool argument.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Descriptor describes one callable tool.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

var accountFieldParams = []Param{
	{Name: "phone", Type: TypeString, Description: "Main phone number"},
	{Name: "email", Type: TypeString, Description: "Email address"},
	{Name: "web", Type: TypeString, Description: "Website URL"},
	{Name: "address", Type: TypeString, Description: "Street address"},
	{Name: "city", Type: TypeString, Description: "City"},
}

var catalogue = []Descriptor{
	{
		Name:        ToolTestConnection,
		Description: "Test the connection to a Creatio instance and make it the active connection for this session",
		Params: []Param{
			{Name: "baseUrl", Type: TypeString, Description: "Creatio base URL, e.g. https://mycompany.creatio.com", Required: true},
			{Name: "username", Type: TypeString, Description: "Creatio user name", Required: true},
			{Name: "password", Type: TypeString, Description: "Creatio password", Required: true},
		},
	},
	{
		Name:        ToolQueryAccounts,
		Description: "Query Creatio accounts using OData filters",
		Params: []Param{
			{Name: "filter", Type: TypeString, Description: "OData $filter expression, e.g. contains(Name,'Tech')"},
			{Name: "select", Type: TypeString, Description: "Comma-separated fields to return, e.g. Id,Name,Phone"},
			{Name: "top", Type: TypeNumber, Description: "Maximum number of records to return"},
			{Name: "skip", Type: TypeNumber, Description: "Number of records to skip"},
			{Name: "orderby", Type: TypeString, Description: "OData $orderby expression, e.g. Name desc"},
			{Name: "expand", Type: TypeString, Description: "OData $expand expression for related records"},
		},
	},
	{
		Name:        ToolGetAccount,
		Description: "Get a single Creatio account by ID",
		Params: []Param{
			{Name: "id", Type: TypeString, Description: "Account ID (GUID)", Required: true},
		},
	},
	{
		Name:        ToolCreateAccount,
		Description: "Create a new Creatio account",
		Params: append([]Param{
			{Name: "name", Type: TypeString, Description: "Account name", Required: true},
		}, accountFieldParams...),
	},
	{
		Name:        ToolUpdateAccount,
		Description: "Update an existing Creatio account. Only the supplied fields change",
		Params: append([]Param{
			{Name: "id", Type: TypeString, Description: "Account ID (GUID)", Required: true},
			{Name: "name", Type: TypeString, Description: "Account name"},
		}, accountFieldParams...),
	},
	{
		Name:        ToolDeleteAccount,
		Description: "Delete a Creatio account",
		Params: []Param{
			{Name: "id", Type: TypeString, Description: "Account ID (GUID)", Required: true},
		},
	},
}

// Registry returns the ordered tool catalogue. The returned descriptors
// must be treated as read-only.
func Registry() []Descriptor {
	return slices.Clone(catalogue)
}

// Lookup finds a descriptor by tool name.
func Lookup(name string) (Descriptor, bool) {
	for _, d := range catalogue {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Param returns the named parameter.
func (d Descriptor) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Validate checks required arguments are present and typed arguments have
// the declared type. Unknown arguments are ignored.
func (d Descriptor) Validate(args map[string]any) error {
	var missing []string
	for _, p := range d.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				missing = append(missing, p.Name)
			}
			continue
		}
		switch p.Type {
		case TypeString:
			s, isString := v.(string)
			if !isString {
				return fmt.Errorf("parameter %q must be a string", p.Name)
			}
			if p.Required && strings.TrimSpace(s) == "" {
				missing = append(missing, p.Name)
			}
		case TypeNumber:
			if _, isNumber := toInt(v); !isNumber {
				return fmt.Errorf("parameter %q must be a number", p.Name)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// MCPTool converts the descriptor to an MCP tool definition.
func (d Descriptor) MCPTool() mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(d.Description)}
	for _, p := range d.Params {
		propOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		switch p.Type {
		case TypeNumber:
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return mcp.NewTool(d.Name, opts...)
}

// Markdown renders the catalogue as a markdown reference.
func Markdown(descs []Descriptor) string {
	var b strings.Builder
	b.WriteString("# Creatio tools\n\n")
	for _, d := range descs {
		fmt.Fprintf(&b, "## `%s`\n\n%s.\n\n", d.Name, d.Description)
		if len(d.Params) == 0 {
			b.WriteString("_No parameters._\n\n")
			continue
		}
		b.WriteString("| Parameter | Type | Required | Description |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, p := range d.Params {
			req := "no"
			if p.Required {
				req = "yes"
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", p.Name, p.Type, req, p.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
