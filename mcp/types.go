// Package mcp provides the client side boundary to capability servers
// speaking the Model Context Protocol.
//
// A Connection is one live session to one server. Sessions are created by Dial
// from the server configuration, and backed by the official go-sdk client over
// a stdio subprocess or streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

//go:generate mockgen -destination=../mocks/mockmcp/mcp_mock.gen.go -package mockmcp github.com/effective-security/mcpchat/mcp Connection

// ErrUnsupported is returned when the server does not implement the requested
// method, for instance a tools-only server asked for its prompts.
var ErrUnsupported = errors.New("method not supported by server")

// Tool describes a named, schema-typed operation exposed by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// PromptArgument describes an argument of a prompt template.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt describes a named prompt template exposed by a server.
type Prompt struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Arguments   []*PromptArgument `json:"arguments,omitempty"`
}

// Resource describes a URI-addressed resource exposed by a server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// Content is one item of a tool result, prompt message or resource.
// Implementations are TextContent and OtherContent.
type Content interface {
	// String returns the textual rendering of the content.
	String() string
	isContent()
}

// TextContent is a textual content item.
type TextContent struct {
	Text string
}

// String returns the text.
func (c TextContent) String() string { return c.Text }

func (TextContent) isContent() {}

// OtherContent is any non-textual content item, such as an image, audio or an
// embedded blob resource.
type OtherContent struct {
	// Type is the protocol content type, such as image or resource_link
	Type string
	// Raw is the protocol JSON of the item
	Raw json.RawMessage
}

// String returns the protocol representation of the item.
func (c OtherContent) String() string {
	if len(c.Raw) > 0 {
		return string(c.Raw)
	}
	return "[" + c.Type + "]"
}

func (OtherContent) isContent() {}

// Flatten joins the textual rendering of all items with a newline.
func Flatten(items []Content) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		parts = append(parts, item.String())
	}
	return strings.Join(parts, "\n")
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	Content []Content
	// IsError is set when the server reports the tool failed
	IsError bool
}

// PromptMessage is one message of an expanded prompt.
type PromptMessage struct {
	Role    string
	Content Content
}

// Connection is a live session to a capability server.
type Connection interface {
	// Name returns the configured name of the server.
	Name() string
	// ListTools returns the tools exposed by the server.
	ListTools(ctx context.Context) ([]*Tool, error)
	// ListPrompts returns the prompts exposed by the server.
	ListPrompts(ctx context.Context) ([]*Prompt, error)
	// ListResources returns the resources exposed by the server.
	ListResources(ctx context.Context) ([]*Resource, error)
	// CallTool invokes the tool with JSON arguments.
	CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error)
	// GetPrompt expands the prompt with the arguments.
	GetPrompt(ctx context.Context, name string, args map[string]string) ([]*PromptMessage, error)
	// ReadResource returns the contents of the resource.
	ReadResource(ctx context.Context, uri string) ([]Content, error)
	// Close terminates the session.
	Close() error
}
