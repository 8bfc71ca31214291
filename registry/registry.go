// Package registry provides the routing tables of the capabilities exposed
// by the connected servers.
//
// The registry is populated during setup, then frozen. A capability name
// declared by several servers is routed to the last registered one.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "registry")

var (
	// ErrNoServers is returned when no servers are configured.
	ErrNoServers = config.ErrNoServers
	// ErrNoTools is returned when none of the servers exposes a tool.
	ErrNoTools = errors.New("no tools available from connected servers")
	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("registry is frozen")
)

// MaxConcurrentDials bounds the servers connected in parallel.
var MaxConcurrentDials = 8

// DialFunc connects to the configured server.
type DialFunc func(ctx context.Context, cfg config.Server) (mcp.Connection, error)

// ToolEntry routes a tool to its server.
type ToolEntry struct {
	Tool *mcp.Tool
	Conn mcp.Connection
}

// PromptEntry routes a prompt to its server.
type PromptEntry struct {
	Prompt *mcp.Prompt
	Conn   mcp.Connection
}

// ResourceEntry routes a resource to its server.
type ResourceEntry struct {
	Resource *mcp.Resource
	Conn     mcp.Connection
}

// Contribution reports the capabilities discovered on a server.
type Contribution struct {
	Server    string
	Tools     int
	Prompts   int
	Resources int

	ToolsErr     error
	PromptsErr   error
	ResourcesErr error
}

// snapshot is immutable once published
type snapshot struct {
	conns     []mcp.Connection
	tools     map[string]*ToolEntry
	prompts   map[string]*PromptEntry
	resources map[string]*ResourceEntry
}

func (s *snapshot) clone() *snapshot {
	c := &snapshot{
		conns:     append([]mcp.Connection{}, s.conns...),
		tools:     make(map[string]*ToolEntry, len(s.tools)),
		prompts:   make(map[string]*PromptEntry, len(s.prompts)),
		resources: make(map[string]*ResourceEntry, len(s.resources)),
	}
	for k, v := range s.tools {
		c.tools[k] = v
	}
	for k, v := range s.prompts {
		c.prompts[k] = v
	}
	for k, v := range s.resources {
		c.resources[k] = v
	}
	return c
}

// Registry owns the connections and the routing tables.
// Lookups are lock-free, registrations are serialized.
type Registry struct {
	lock   sync.Mutex
	frozen bool
	closed bool
	state  atomic.Pointer[snapshot]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	r.state.Store(&snapshot{})
	return r
}

// closeAll closes the dialed connections that the registry does not own.
func closeAll(conns []mcp.Connection) {
	for _, c := range conns {
		if c != nil {
			_ = c.Close()
		}
	}
}

// Connect dials the servers concurrently, then registers the connected ones
// in configuration order. A server that fails to connect is logged and
// skipped. It returns ErrNoTools if no tools were discovered.
func (r *Registry) Connect(ctx context.Context, servers []config.Server, dial DialFunc) error {
	if len(servers) == 0 {
		return ErrNoServers
	}

	conns := make([]mcp.Connection, len(servers))
	errs := make([]error, len(servers))

	var g errgroup.Group
	g.SetLimit(MaxConcurrentDials)
	for i, srv := range servers {
		g.Go(func() error {
			conns[i], errs[i] = dial(ctx, srv)
			return nil
		})
	}
	_ = g.Wait()

	for i, srv := range servers {
		if errs[i] != nil {
			metricskey.StatsServerConnectsFailed.IncrCounter(1, srv.Name)
			logger.ContextKV(ctx, xlog.ERROR,
				"status", "connect_failed",
				"server", srv.Name,
				"err", errs[i].Error(),
			)
			continue
		}
		c, err := r.Register(ctx, conns[i])
		if err != nil {
			closeAll(conns[i:])
			return err
		}
		logger.ContextKV(ctx, xlog.INFO,
			"status", "registered",
			"server", c.Server,
			"tools", c.Tools,
			"prompts", c.Prompts,
			"resources", c.Resources,
		)
	}

	if len(r.state.Load().tools) == 0 {
		return ErrNoTools
	}
	return nil
}

// Register discovers the tools, prompts and resources of the connection
// and routes them to it, overriding earlier registrations of the same names.
// A failing category is reported in the Contribution and does not affect
// the others. The registry takes ownership of the connection, unless
// ErrFrozen is returned.
func (r *Registry) Register(ctx context.Context, conn mcp.Connection) (Contribution, error) {
	c := Contribution{Server: conn.Name()}

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.frozen {
		return c, ErrFrozen
	}

	tools, err := conn.ListTools(ctx)
	c.ToolsErr = discoveryErr(ctx, conn.Name(), "tools", err)
	prompts, err := conn.ListPrompts(ctx)
	c.PromptsErr = discoveryErr(ctx, conn.Name(), "prompts", err)
	resources, err := conn.ListResources(ctx)
	c.ResourcesErr = discoveryErr(ctx, conn.Name(), "resources", err)

	next := r.state.Load().clone()
	next.conns = append(next.conns, conn)
	for _, t := range tools {
		if t == nil || t.Name == "" {
			continue
		}
		overridden(ctx, "tool", t.Name, next.tools[t.Name] != nil, conn)
		next.tools[t.Name] = &ToolEntry{Tool: t, Conn: conn}
		c.Tools++
	}
	for _, p := range prompts {
		if p == nil || p.Name == "" {
			continue
		}
		overridden(ctx, "prompt", p.Name, next.prompts[p.Name] != nil, conn)
		next.prompts[p.Name] = &PromptEntry{Prompt: p, Conn: conn}
		c.Prompts++
	}
	for _, res := range resources {
		if res == nil || res.URI == "" {
			continue
		}
		overridden(ctx, "resource", res.URI, next.resources[res.URI] != nil, conn)
		next.resources[res.URI] = &ResourceEntry{Resource: res, Conn: conn}
		c.Resources++
	}
	r.state.Store(next)

	return c, nil
}

func discoveryErr(ctx context.Context, server, kind string, err error) error {
	if err == nil {
		return nil
	}
	metricskey.StatsServerDiscoveryFailed.IncrCounter(1, server, kind)
	level := xlog.WARNING
	if mcp.IsMethodUnavailable(err) {
		level = xlog.DEBUG
	}
	logger.ContextKV(ctx, level,
		"status", "discovery_failed",
		"server", server,
		"kind", kind,
		"err", err.Error(),
	)
	return err
}

func overridden(ctx context.Context, kind, name string, exists bool, conn mcp.Connection) {
	if exists {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "overridden",
			"kind", kind,
			"name", name,
			"server", conn.Name(),
		)
	}
}

// Freeze stops registrations.
func (r *Registry) Freeze() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.frozen = true
}

// Tool returns the route of the tool.
func (r *Registry) Tool(name string) (*ToolEntry, bool) {
	e, ok := r.state.Load().tools[name]
	return e, ok
}

// Prompt returns the route of the prompt.
func (r *Registry) Prompt(name string) (*PromptEntry, bool) {
	e, ok := r.state.Load().prompts[name]
	return e, ok
}

// Resource returns the route of the resource with exact URI.
func (r *Registry) Resource(uri string) (*ResourceEntry, bool) {
	e, ok := r.state.Load().resources[uri]
	return e, ok
}

// ResourcesByScheme returns the resources with the URI scheme, such as "papers",
// sorted by URI.
func (r *Registry) ResourcesByScheme(scheme string) []*ResourceEntry {
	if scheme == "" {
		return nil
	}
	prefix := scheme + "://"
	var list []*ResourceEntry
	for uri, e := range r.state.Load().resources {
		if strings.HasPrefix(uri, prefix) {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Resource.URI < list[j].Resource.URI
	})
	return list
}

// Tools returns all routed tools sorted by name.
func (r *Registry) Tools() []*ToolEntry {
	s := r.state.Load()
	list := make([]*ToolEntry, 0, len(s.tools))
	for _, e := range s.tools {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Tool.Name < list[j].Tool.Name
	})
	return list
}

// Prompts returns all routed prompts sorted by name.
func (r *Registry) Prompts() []*PromptEntry {
	s := r.state.Load()
	list := make([]*PromptEntry, 0, len(s.prompts))
	for _, e := range s.prompts {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Prompt.Name < list[j].Prompt.Name
	})
	return list
}

// Resources returns all routed resources sorted by URI.
func (r *Registry) Resources() []*ResourceEntry {
	s := r.state.Load()
	list := make([]*ResourceEntry, 0, len(s.resources))
	for _, e := range s.resources {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Resource.URI < list[j].Resource.URI
	})
	return list
}

// Connections returns the registered connections in registration order.
func (r *Registry) Connections() []mcp.Connection {
	return append([]mcp.Connection{}, r.state.Load().conns...)
}

// Close closes all connections in reverse registration order.
// It is safe to call Close more than once.
func (r *Registry) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.frozen = true

	var err error
	conns := r.state.Load().conns
	for i := len(conns) - 1; i >= 0; i-- {
		if cerr := conns[i].Close(); cerr != nil {
			logger.KV(xlog.WARNING,
				"status", "close_failed",
				"server", conns[i].Name(),
				"err", cerr.Error(),
			)
			err = errors.CombineErrors(err, cerr)
		}
	}
	return err
}
