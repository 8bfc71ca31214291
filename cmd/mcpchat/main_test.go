package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "server_config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &stdout, &stderr, []string{"-h"})
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "-config")
}

func TestRun_SetupErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty servers", func(t *testing.T) {
		path := writeConfig(t, `{"mcpServers":{}}`)
		var stdout, stderr bytes.Buffer
		err := run(ctx, strings.NewReader(""), &stdout, &stderr, []string{"-config", path})
		require.Error(t, err)
		assert.True(t, errors.Is(err, config.ErrInvalidConfig))
		assert.True(t, errors.Is(err, registry.ErrNoServers))
		assert.NotContains(t, stdout.String(), "MCP Chatbot Started!")
	})

	t.Run("bad log level", func(t *testing.T) {
		path := writeConfig(t, `{"mcpServers":{"s1":{"command":"research"}}}`)
		var stdout, stderr bytes.Buffer
		err := run(ctx, strings.NewReader(""), &stdout, &stderr, []string{"-config", path, "-log-level", "loud"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, config.ErrInvalidConfig))
		assert.Contains(t, err.Error(), "unable to parse log level: LOUD")
	})

	t.Run("missing file", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		err := run(ctx, strings.NewReader(""), &stdout, &stderr, []string{"-config", filepath.Join(t.TempDir(), "missing.json")})
		require.Error(t, err)
		assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	})

	t.Run("unsupported provider", func(t *testing.T) {
		path := writeConfig(t, `{"mcpServers":{"s1":{"command":"research"}},"model":{"provider":"openai","token":"test"}}`)
		var stdout, stderr bytes.Buffer
		err := run(ctx, strings.NewReader(""), &stdout, &stderr, []string{"-config", path})
		require.Error(t, err)
	})

	t.Run("no reachable servers", func(t *testing.T) {
		path := writeConfig(t, `{
			"mcpServers": {"s1": {"command": "/nonexistent/mcpchat-test-server"}},
			"model": {"token": "test-token"}
		}`)
		var stdout, stderr bytes.Buffer
		err := run(ctx, strings.NewReader("quit\n"), &stdout, &stderr, []string{"-config", path, "-log-level", "critical"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, registry.ErrNoTools))
		assert.Contains(t, stdout.String(), "Connecting to MCP servers...")
		assert.NotContains(t, stdout.String(), "MCP Chatbot Started!")
	})
}

func TestTraceWriter(t *testing.T) {
	var stderr bytes.Buffer
	w, closeFn, err := traceWriter("-", &stderr)
	require.NoError(t, err)
	assert.Equal(t, &stderr, w)
	closeFn()

	path := filepath.Join(t.TempDir(), "trace.log")
	w, closeFn, err = traceWriter(path, &stderr)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestSetLogLevel(t *testing.T) {
	defer func() { _ = setLogLevel("WARNING") }()

	for _, level := range []string{"debug", "INFO", "trace", "Error", "critical", "notice", "W"} {
		assert.NoError(t, setLogLevel(level), level)
	}
	err := setLogLevel("verbose")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}
