package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/xlog"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ClientName and ClientVersion identify this client to the servers.
var (
	ClientName    = "mcpchat"
	ClientVersion = "0.1.0"
)

// Dial connects to the configured server.
func Dial(ctx context.Context, cfg config.Server) (Connection, error) {
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, cfg.Name, transport, cfg.RequestTimeout())
}

// Connect performs the protocol handshake over the transport.
func Connect(ctx context.Context, name string, transport sdk.Transport, timeout time.Duration) (*Session, error) {
	client := sdk.NewClient(&sdk.Implementation{
		Name:    ClientName,
		Version: ClientVersion,
	}, nil)

	connectCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to connect to %q", name)
	}

	if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "connected",
			"server", name,
			"server_name", res.ServerInfo.Name,
			"server_version", res.ServerInfo.Version,
			"protocol", res.ProtocolVersion,
		)
	}

	return NewSession(name, session, timeout), nil
}

// NewTransport returns the client transport for the configured server.
func NewTransport(cfg config.Server) (sdk.Transport, error) {
	switch cfg.TransportType() {
	case config.TransportStdio:
		if cfg.Command == "" {
			return nil, errors.Newf("command missing for %q", cfg.Name)
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Dir = cfg.Cwd
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for _, k := range sortedKeys(cfg.Env) {
				env = append(env, fmt.Sprintf("%s=%s", k, cfg.Env[k]))
			}
			cmd.Env = env
		}
		return &sdk.CommandTransport{Command: cmd}, nil
	case config.TransportHTTP:
		if cfg.URL == "" {
			return nil, errors.Newf("url missing for %q", cfg.Name)
		}
		client := http.DefaultClient
		if len(cfg.Headers) > 0 {
			client = &http.Client{
				Transport: &headerTransport{
					headers: cfg.Headers,
					base:    http.DefaultTransport,
				},
			}
		}
		return &sdk.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: client,
		}, nil
	default:
		return nil, errors.Newf("unsupported transport %q for %q", cfg.Type, cfg.Name)
	}
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
