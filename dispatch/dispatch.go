// Package dispatch routes tool, prompt and resource requests to the
// server that registered them.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/mcpchat/registry"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "dispatch")

var (
	// ErrToolNotFound is reported when no server registered the tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrPromptNotFound is returned when no server registered the prompt.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrResourceNotFound is returned when no server can serve the resource.
	ErrResourceNotFound = errors.New("resource not found")
)

// Resolver returns the routes of the registered capabilities.
type Resolver interface {
	Tool(name string) (*registry.ToolEntry, bool)
	Prompt(name string) (*registry.PromptEntry, bool)
	Resource(uri string) (*registry.ResourceEntry, bool)
	ResourcesByScheme(scheme string) []*registry.ResourceEntry
}

// ToolResult is the outcome of a tool invocation, as returned to the model.
type ToolResult struct {
	Text    string
	IsError bool
}

// Dispatcher invokes the capabilities on their servers.
type Dispatcher struct {
	reg Resolver
}

// New returns a dispatcher over the routes.
func New(reg Resolver) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// InvokeTool calls the tool on its server. The failures are returned as
// an error result, so they can be reported back to the model.
func (d *Dispatcher) InvokeTool(ctx context.Context, name string, args json.RawMessage) ToolResult {
	entry, ok := d.reg.Tool(name)
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		logger.ContextKV(ctx, xlog.WARNING,
			"reason", "not_found",
			"tool", name,
			"err", ErrToolNotFound.Error(),
		)
		return ToolResult{
			Text:    fmt.Sprintf("Tool '%s' not found in any connected server", name),
			IsError: true,
		}
	}

	defer metricskey.PerfToolCall.MeasureSince(time.Now(), name)

	res, err := entry.Conn.CallTool(ctx, name, args)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "call_tool",
			"tool", name,
			"server", entry.Conn.Name(),
			"err", err.Error(),
		)
		return ToolResult{
			Text:    "Error: " + err.Error(),
			IsError: true,
		}
	}
	if res == nil {
		res = &mcp.ToolResult{}
	}

	if res.IsError {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
	} else {
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "called",
		"tool", name,
		"server", entry.Conn.Name(),
		"is_error", res.IsError,
	)

	return ToolResult{
		Text:    mcp.Flatten(res.Content),
		IsError: res.IsError,
	}
}

// GetPrompt expands the prompt on its server and returns the text of the
// first message.
func (d *Dispatcher) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	entry, ok := d.reg.Prompt(name)
	if !ok {
		return "", errors.Wrapf(ErrPromptNotFound, "prompt %q", name)
	}

	msgs, err := entry.Conn.GetPrompt(ctx, name, args)
	if err != nil {
		return "", errors.WithMessagef(err, "unable to get prompt %q", name)
	}
	if len(msgs) == 0 || msgs[0] == nil || msgs[0].Content == nil {
		return "", errors.Newf("prompt %q returned no messages", name)
	}
	return msgs[0].Content.String(), nil
}

// ReadResource returns the contents of the resource. A URI that is not
// registered is served by a server that registered a resource with the
// same scheme.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (string, error) {
	conn, err := d.resourceConn(uri)
	if err != nil {
		return "", err
	}

	contents, err := conn.ReadResource(ctx, uri)
	if err != nil {
		return "", errors.WithMessagef(err, "unable to read resource %q", uri)
	}
	return mcp.Flatten(contents), nil
}

func (d *Dispatcher) resourceConn(uri string) (mcp.Connection, error) {
	if entry, ok := d.reg.Resource(uri); ok {
		return entry.Conn, nil
	}
	if scheme := Scheme(uri); scheme != "" {
		if list := d.reg.ResourcesByScheme(scheme); len(list) > 0 {
			logger.KV(xlog.DEBUG,
				"status", "scheme_fallback",
				"uri", uri,
				"via", list[0].Resource.URI,
			)
			return list[0].Conn, nil
		}
	}
	return nil, errors.Wrapf(ErrResourceNotFound, "resource %q", uri)
}

// Scheme returns the scheme of the URI, such as "papers" for
// "papers://folders", or empty string.
func Scheme(uri string) string {
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return ""
	}
	return uri[:idx]
}
