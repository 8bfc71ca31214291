package registry_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/internal/mcptest"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/mocks/mockmcp"
	"github.com/effective-security/mcpchat/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newConn(ctrl *gomock.Controller, name string, tools []*mcp.Tool, prompts []*mcp.Prompt, resources []*mcp.Resource) *mockmcp.MockConnection {
	conn := mockmcp.NewMockConnection(ctrl)
	conn.EXPECT().Name().Return(name).AnyTimes()
	conn.EXPECT().ListTools(gomock.Any()).Return(tools, nil)
	conn.EXPECT().ListPrompts(gomock.Any()).Return(prompts, nil)
	conn.EXPECT().ListResources(gomock.Any()).Return(resources, nil)
	return conn
}

func TestRegister_LastWins(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	a := newConn(ctrl, "A",
		[]*mcp.Tool{{Name: "x"}, {Name: "only_a"}},
		[]*mcp.Prompt{{Name: "p"}},
		[]*mcp.Resource{{URI: "papers://folders"}},
	)
	b := newConn(ctrl, "B",
		[]*mcp.Tool{{Name: "x"}},
		[]*mcp.Prompt{{Name: "p"}},
		[]*mcp.Resource{{URI: "papers://folders"}},
	)

	reg := registry.New()
	c, err := reg.Register(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, registry.Contribution{Server: "A", Tools: 2, Prompts: 1, Resources: 1}, c)

	_, err = reg.Register(ctx, b)
	require.NoError(t, err)

	e, ok := reg.Tool("x")
	require.True(t, ok)
	assert.Equal(t, "B", e.Conn.Name())

	e, ok = reg.Tool("only_a")
	require.True(t, ok)
	assert.Equal(t, "A", e.Conn.Name())

	p, ok := reg.Prompt("p")
	require.True(t, ok)
	assert.Equal(t, "B", p.Conn.Name())

	r, ok := reg.Resource("papers://folders")
	require.True(t, ok)
	assert.Equal(t, "B", r.Conn.Name())

	require.Len(t, reg.Tools(), 2)
	assert.Equal(t, "only_a", reg.Tools()[0].Tool.Name)
	assert.Equal(t, "x", reg.Tools()[1].Tool.Name)
	assert.Len(t, reg.Connections(), 2)

	_, ok = reg.Tool("missing")
	assert.False(t, ok)
}

func TestRegister_DiscoveryFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	reg := registry.New()
	_, err := reg.Register(ctx, newConn(ctrl, "A", []*mcp.Tool{{Name: "x"}}, nil, nil))
	require.NoError(t, err)

	broken := mockmcp.NewMockConnection(ctrl)
	broken.EXPECT().Name().Return("broken").AnyTimes()
	broken.EXPECT().ListTools(gomock.Any()).Return(nil, errors.New("tools failed"))
	broken.EXPECT().ListPrompts(gomock.Any()).Return(nil, errors.Mark(errors.New("Method not found"), mcp.ErrUnsupported))
	broken.EXPECT().ListResources(gomock.Any()).Return(nil, errors.New("resources failed"))

	c, err := reg.Register(ctx, broken)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Tools+c.Prompts+c.Resources)
	assert.EqualError(t, c.ToolsErr, "tools failed")
	assert.True(t, errors.Is(c.PromptsErr, mcp.ErrUnsupported))
	assert.Error(t, c.ResourcesErr)

	assert.Len(t, reg.Tools(), 1)
	assert.Empty(t, reg.Prompts())
	assert.Empty(t, reg.Resources())
	// the connection is owned even when it contributed nothing
	assert.Len(t, reg.Connections(), 2)
}

func TestRegister_PartialDiscovery(t *testing.T) {
	ctrl := gomock.NewController(t)

	conn := mockmcp.NewMockConnection(ctrl)
	conn.EXPECT().Name().Return("A").AnyTimes()
	conn.EXPECT().ListTools(gomock.Any()).Return([]*mcp.Tool{{Name: "x"}, nil, {Name: ""}}, nil)
	conn.EXPECT().ListPrompts(gomock.Any()).Return(nil, errors.New("prompts failed"))
	conn.EXPECT().ListResources(gomock.Any()).Return([]*mcp.Resource{{URI: "notes://a"}}, nil)

	reg := registry.New()
	c, err := reg.Register(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Tools)
	assert.Equal(t, 0, c.Prompts)
	assert.Equal(t, 1, c.Resources)
	assert.Error(t, c.PromptsErr)
	assert.NoError(t, c.ResourcesErr)
}

func TestFreeze(t *testing.T) {
	ctrl := gomock.NewController(t)

	conn := mockmcp.NewMockConnection(ctrl)
	conn.EXPECT().Name().Return("A").AnyTimes()

	reg := registry.New()
	reg.Freeze()
	_, err := reg.Register(context.Background(), conn)
	assert.True(t, errors.Is(err, registry.ErrFrozen))
	assert.Empty(t, reg.Connections())
}

func TestClose_ReverseOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	a := newConn(ctrl, "A", []*mcp.Tool{{Name: "a"}}, nil, nil)
	b := newConn(ctrl, "B", nil, nil, nil)
	c := newConn(ctrl, "C", []*mcp.Tool{{Name: "c"}}, nil, nil)

	var closed []string
	gomock.InOrder(
		c.EXPECT().Close().DoAndReturn(func() error { closed = append(closed, "C"); return nil }),
		b.EXPECT().Close().DoAndReturn(func() error { closed = append(closed, "B"); return errors.New("b failed") }),
		a.EXPECT().Close().DoAndReturn(func() error { closed = append(closed, "A"); return nil }),
	)

	reg := registry.New()
	for _, conn := range []mcp.Connection{a, b, c} {
		_, err := reg.Register(ctx, conn)
		require.NoError(t, err)
	}

	err := reg.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Equal(t, []string{"C", "B", "A"}, closed)

	// second close is a no-op
	assert.NoError(t, reg.Close())
}

func TestResourcesByScheme(t *testing.T) {
	ctrl := gomock.NewController(t)

	reg := registry.New()
	_, err := reg.Register(context.Background(), newConn(ctrl, "A", nil, nil, []*mcp.Resource{
		{URI: "papers://physics"},
		{URI: "papers://folders"},
		{URI: "notes://today"},
		{URI: "paperserver://x"},
	}))
	require.NoError(t, err)

	list := reg.ResourcesByScheme("papers")
	require.Len(t, list, 2)
	assert.Equal(t, "papers://folders", list[0].Resource.URI)
	assert.Equal(t, "papers://physics", list[1].Resource.URI)

	assert.Len(t, reg.ResourcesByScheme("notes"), 1)
	assert.Empty(t, reg.ResourcesByScheme("files"))
	assert.Empty(t, reg.ResourcesByScheme(""))
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	research := mcptest.NewServer("research").
		AddTool("search_papers", "Search for papers", []string{"topic"}, func(args map[string]any) (string, error) {
			return fmt.Sprintf("papers on %v", args["topic"]), nil
		}).
		AddResource("papers://folders", "folders", "- physics")
	other := mcptest.NewServer("other").
		AddTool("search_papers", "Search in other", []string{"topic"}, func(map[string]any) (string, error) {
			return "other", nil
		}).
		AddTool("fetch", "Fetch a URL", []string{"url"}, func(map[string]any) (string, error) {
			return "fetched", nil
		})

	reg := registry.New()
	err := reg.Connect(ctx, mcptest.Configs("research", "missing", "other"), mcptest.Dialer(t, research, other))
	require.NoError(t, err)
	reg.Freeze()
	defer func() { _ = reg.Close() }()

	conns := reg.Connections()
	require.Len(t, conns, 2)
	assert.Equal(t, "research", conns[0].Name())
	assert.Equal(t, "other", conns[1].Name())

	e, ok := reg.Tool("search_papers")
	require.True(t, ok)
	assert.Equal(t, "other", e.Conn.Name())

	res, err := e.Conn.CallTool(ctx, "search_papers", json.RawMessage(`{"topic":"ai"}`))
	require.NoError(t, err)
	assert.Equal(t, "other", mcp.Flatten(res.Content))

	_, ok = reg.Resource("papers://folders")
	assert.True(t, ok)

	catalog := registry.NewCatalog(reg)
	require.Equal(t, 2, catalog.Len())
	assert.Equal(t, "fetch", catalog.Tools()[0].Function.Name)
	assert.Equal(t, "search_papers", catalog.Tools()[1].Function.Name)
	assert.Equal(t, "Search in other", catalog.Tools()[1].Function.Description)
}

func TestConnect_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no servers", func(t *testing.T) {
		err := registry.New().Connect(ctx, nil, mcptest.Dialer(t))
		assert.True(t, errors.Is(err, registry.ErrNoServers))
	})

	t.Run("all unreachable", func(t *testing.T) {
		reg := registry.New()
		err := reg.Connect(ctx, mcptest.Configs("a", "b"), mcptest.Dialer(t))
		assert.True(t, errors.Is(err, registry.ErrNoTools))
		assert.Empty(t, reg.Connections())
	})

	t.Run("no tools", func(t *testing.T) {
		notes := mcptest.NewServer("notes").AddResource("notes://today", "today", "nothing")
		reg := registry.New()
		err := reg.Connect(ctx, mcptest.Configs("notes"), mcptest.Dialer(t, notes))
		assert.True(t, errors.Is(err, registry.ErrNoTools))
		assert.Len(t, reg.Connections(), 1)
		_ = reg.Close()
	})

	t.Run("frozen closes dialed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dialed := map[string]*mockmcp.MockConnection{}
		for _, name := range []string{"a", "c"} {
			conn := mockmcp.NewMockConnection(ctrl)
			conn.EXPECT().Name().Return(name).AnyTimes()
			conn.EXPECT().Close().Return(nil).Times(1)
			dialed[name] = conn
		}
		dial := func(_ context.Context, cfg config.Server) (mcp.Connection, error) {
			if conn, ok := dialed[cfg.Name]; ok {
				return conn, nil
			}
			return nil, errors.New("unreachable")
		}

		reg := registry.New()
		reg.Freeze()
		err := reg.Connect(ctx, mcptest.Configs("a", "b", "c"), dial)
		assert.True(t, errors.Is(err, registry.ErrFrozen))
		assert.Empty(t, reg.Connections())
	})
}
