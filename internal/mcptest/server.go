// Package mcptest provides in-memory capability servers for tests.
package mcptest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

// ToolFunc handles a tool call with decoded arguments.
type ToolFunc func(args map[string]any) (string, error)

// Server is a go-sdk server connected over in-memory transports.
type Server struct {
	Name   string
	Server *sdk.Server
}

// NewServer returns an empty server.
func NewServer(name string) *Server {
	return &Server{
		Name: name,
		Server: sdk.NewServer(&sdk.Implementation{
			Name:    name,
			Version: "1.0.0",
		}, nil),
	}
}

// AddTool registers a tool with string properties.
// An error returned by fn is reported as a failed tool result.
func (s *Server) AddTool(name, description string, properties []string, fn ToolFunc) *Server {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{},
	}
	for _, p := range properties {
		schema.Properties[p] = &jsonschema.Schema{Type: "string"}
	}

	s.Server.AddTool(&sdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, func(_ context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, err
			}
		}
		text, err := fn(args)
		if err != nil {
			return &sdk.CallToolResult{
				IsError: true,
				Content: []sdk.Content{&sdk.TextContent{Text: err.Error()}},
			}, nil
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: text}},
		}, nil
	})
	return s
}

// AddPrompt registers a prompt that renders fn with the arguments.
func (s *Server) AddPrompt(name, description string, arguments []string, fn func(args map[string]string) string) *Server {
	prompt := &sdk.Prompt{
		Name:        name,
		Description: description,
	}
	for _, a := range arguments {
		prompt.Arguments = append(prompt.Arguments, &sdk.PromptArgument{Name: a, Required: true})
	}

	s.Server.AddPrompt(prompt, func(_ context.Context, req *sdk.GetPromptRequest) (*sdk.GetPromptResult, error) {
		return &sdk.GetPromptResult{
			Messages: []*sdk.PromptMessage{
				{
					Role:    "user",
					Content: &sdk.TextContent{Text: fn(req.Params.Arguments)},
				},
			},
		}, nil
	})
	return s
}

// AddResource registers a text resource.
func (s *Server) AddResource(uri, name, text string) *Server {
	s.Server.AddResource(&sdk.Resource{
		URI:      uri,
		Name:     name,
		MIMEType: "text/plain",
	}, func(_ context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
		return &sdk.ReadResourceResult{
			Contents: []*sdk.ResourceContents{
				{URI: req.Params.URI, MIMEType: "text/plain", Text: text},
			},
		}, nil
	})
	return s
}

// Connect returns a client session to the server.
// The session is closed when the test ends.
func (s *Server) Connect(t testing.TB) *mcp.Session {
	session, err := s.Dial(context.Background(), t)
	require.NoError(t, err)
	return session
}

// Dial returns a client session to the server, it is safe to call from
// any goroutine. The session is closed when the test ends.
func (s *Server) Dial(ctx context.Context, t testing.TB) (*mcp.Session, error) {
	clientTransport, serverTransport := sdk.NewInMemoryTransports()

	serverSession, err := s.Server.Connect(ctx, serverTransport, nil)
	if err != nil {
		return nil, err
	}

	session, err := mcp.Connect(ctx, s.Name, clientTransport, 0)
	if err != nil {
		_ = serverSession.Close()
		return nil, err
	}

	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Close()
	})
	return session, nil
}

// Dialer returns a dial function that connects to the servers by name.
func Dialer(t testing.TB, servers ...*Server) func(ctx context.Context, cfg config.Server) (mcp.Connection, error) {
	byName := make(map[string]*Server, len(servers))
	for _, s := range servers {
		byName[s.Name] = s
	}
	return func(ctx context.Context, cfg config.Server) (mcp.Connection, error) {
		s, ok := byName[cfg.Name]
		if !ok {
			return nil, errors.Newf("no test server named %q", cfg.Name)
		}
		return s.Dial(ctx, t)
	}
}

// Configs returns the stdio server configuration for each name.
// The command is never executed by Dialer.
func Configs(names ...string) []config.Server {
	list := make([]config.Server, len(names))
	for i, name := range names {
		list[i] = config.Server{Name: name, Command: name}
	}
	return list
}
