package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "mcp")

// Session is a Connection backed by a go-sdk client session.
type Session struct {
	name    string
	session *sdk.ClientSession
	timeout time.Duration
}

var _ Connection = (*Session)(nil)

// NewSession wraps the established client session.
// If timeout is not zero, it bounds every request to the server.
func NewSession(name string, session *sdk.ClientSession, timeout time.Duration) *Session {
	return &Session{
		name:    name,
		session: session,
		timeout: timeout,
	}
}

// Name returns the configured name of the server.
func (s *Session) Name() string {
	return s.name
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// ListTools returns all tools, following the pagination cursor.
func (s *Session) ListTools(ctx context.Context) ([]*Tool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var list []*Tool
	params := &sdk.ListToolsParams{}
	for {
		res, err := s.session.ListTools(ctx, params)
		if err != nil {
			return nil, s.wrapErr(err, "tools/list")
		}
		for _, t := range res.Tools {
			if t == nil {
				continue
			}
			tool := &Tool{
				Name:        t.Name,
				Description: t.Description,
			}
			if t.InputSchema != nil {
				schema, err := json.Marshal(t.InputSchema)
				if err != nil {
					return nil, errors.Wrapf(err, "unable to encode schema of tool %q", t.Name)
				}
				tool.InputSchema = schema
			}
			list = append(list, tool)
		}
		if res.NextCursor == "" {
			return list, nil
		}
		params.Cursor = res.NextCursor
	}
}

// ListPrompts returns all prompts, following the pagination cursor.
func (s *Session) ListPrompts(ctx context.Context) ([]*Prompt, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var list []*Prompt
	params := &sdk.ListPromptsParams{}
	for {
		res, err := s.session.ListPrompts(ctx, params)
		if err != nil {
			return nil, s.wrapErr(err, "prompts/list")
		}
		for _, p := range res.Prompts {
			if p == nil {
				continue
			}
			prompt := &Prompt{
				Name:        p.Name,
				Description: p.Description,
			}
			for _, a := range p.Arguments {
				if a == nil {
					continue
				}
				prompt.Arguments = append(prompt.Arguments, &PromptArgument{
					Name:        a.Name,
					Description: a.Description,
					Required:    a.Required,
				})
			}
			list = append(list, prompt)
		}
		if res.NextCursor == "" {
			return list, nil
		}
		params.Cursor = res.NextCursor
	}
}

// ListResources returns all resources, following the pagination cursor.
func (s *Session) ListResources(ctx context.Context) ([]*Resource, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var list []*Resource
	params := &sdk.ListResourcesParams{}
	for {
		res, err := s.session.ListResources(ctx, params)
		if err != nil {
			return nil, s.wrapErr(err, "resources/list")
		}
		for _, r := range res.Resources {
			if r == nil {
				continue
			}
			list = append(list, &Resource{
				URI:         r.URI,
				Name:        r.Name,
				Description: r.Description,
				MIMEType:    r.MIMEType,
			})
		}
		if res.NextCursor == "" {
			return list, nil
		}
		params.Cursor = res.NextCursor
	}
}

// CallTool invokes the tool, the arguments are passed to the server as is.
func (s *Session) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := s.session.CallTool(ctx, &sdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, s.wrapErr(err, "tools/call")
	}

	result := &ToolResult{
		IsError: res.IsError,
	}
	for _, c := range res.Content {
		result.Content = append(result.Content, toContent(c))
	}
	return result, nil
}

// GetPrompt expands the prompt on the server.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) ([]*PromptMessage, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.session.GetPrompt(ctx, &sdk.GetPromptParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, s.wrapErr(err, "prompts/get")
	}

	list := make([]*PromptMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		if m == nil {
			continue
		}
		list = append(list, &PromptMessage{
			Role:    string(m.Role),
			Content: toContent(m.Content),
		})
	}
	return list, nil
}

// ReadResource returns the contents of the resource.
func (s *Session) ReadResource(ctx context.Context, uri string) ([]Content, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.session.ReadResource(ctx, &sdk.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, s.wrapErr(err, "resources/read")
	}

	list := make([]Content, 0, len(res.Contents))
	for _, rc := range res.Contents {
		if rc == nil {
			continue
		}
		list = append(list, toResourceContent(rc))
	}
	return list, nil
}

// Close terminates the session, and the server process for stdio.
func (s *Session) Close() error {
	err := s.session.Close()
	if err != nil {
		logger.KV(xlog.DEBUG,
			"server", s.name,
			"status", "close",
			"err", err.Error(),
		)
		return errors.Wrapf(err, "unable to close session %q", s.name)
	}
	return nil
}

func (s *Session) wrapErr(err error, method string) error {
	if IsMethodUnavailable(err) {
		return errors.Mark(errors.Wrapf(err, "%s: %s", s.name, method), ErrUnsupported)
	}
	return errors.Wrapf(err, "%s: %s", s.name, method)
}

// IsMethodUnavailable returns true if the error reports that the server does
// not implement the method.
func IsMethodUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupported) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")
}

func toContent(c sdk.Content) Content {
	switch v := c.(type) {
	case nil:
		return OtherContent{Type: "empty"}
	case *sdk.TextContent:
		return TextContent{Text: v.Text}
	case *sdk.ImageContent:
		return otherContent("image", v)
	case *sdk.AudioContent:
		return otherContent("audio", v)
	case *sdk.ResourceLink:
		return otherContent("resource_link", v)
	case *sdk.EmbeddedResource:
		return otherContent("resource", v)
	default:
		return otherContent("unknown", v)
	}
}

func toResourceContent(rc *sdk.ResourceContents) Content {
	if rc.Blob == nil {
		return TextContent{Text: rc.Text}
	}
	return otherContent("blob", rc)
}

func otherContent(typ string, v any) OtherContent {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.KV(xlog.DEBUG,
			"status", "unable_to_encode_content",
			"type", typ,
			"err", err.Error(),
		)
		return OtherContent{Type: typ}
	}
	return OtherContent{Type: typ, Raw: raw}
}
