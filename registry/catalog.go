package registry

import (
	"encoding/json"

	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

// Catalog is the list of tools offered to the model.
type Catalog struct {
	tools []llms.Tool
}

// NewCatalog returns the catalog of the tools routed by the registry,
// sorted by name.
func NewCatalog(reg *Registry) *Catalog {
	entries := reg.Tools()
	c := &Catalog{
		tools: make([]llms.Tool, 0, len(entries)),
	}
	for _, e := range entries {
		c.tools = append(c.tools, ToolDefinition(e.Tool))
	}
	return c
}

// Tools returns the tool descriptors.
func (c *Catalog) Tools() []llms.Tool {
	return append([]llms.Tool{}, c.tools...)
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	return len(c.tools)
}

// ToolDefinition converts the server tool to the model tool descriptor.
// The server schema is kept unchanged in InputSchema, Parameters is its
// decoded form.
func ToolDefinition(t *mcp.Tool) llms.Tool {
	params, raw := inputSchema(t)
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
			InputSchema: raw,
		},
	}
}

func inputSchema(t *mcp.Tool) (*jsonschema.Schema, json.RawMessage) {
	if len(t.InputSchema) == 0 || string(t.InputSchema) == "null" {
		return &jsonschema.Schema{Type: "object"}, nil
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(t.InputSchema, schema); err != nil {
		logger.KV(xlog.WARNING,
			"reason", "input_schema",
			"tool", t.Name,
			"err", err.Error(),
		)
		return &jsonschema.Schema{Type: "object"}, nil
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, append(json.RawMessage{}, t.InputSchema...)
}
