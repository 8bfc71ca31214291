// Package config provides the configuration file model of the chatbot:
// capability servers, model endpoint, agent loop and transcript store.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "config")

// ErrInvalidConfig is returned when the configuration is missing, malformed,
// or declares no capability servers.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrNoServers is returned when the configuration declares no capability
// servers. It is a setup failure, and is also marked as ErrInvalidConfig.
var ErrNoServers = errors.New("no capability servers configured")

// DefaultConfigFile is the file name looked up in the working directory.
const DefaultConfigFile = "server_config.json"

// Format of a configuration document
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Transport types of a capability server
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Termination policies of the agent loop
const (
	TerminateOnSingleText = "single_text"
	TerminateOnNoToolUse  = "no_tool_use"
)

// Server describes how to reach one capability server.
type Server struct {
	// Name is the key of the server in the mcpServers map
	Name string `json:"-" yaml:"-" toml:"-"`
	// Type is stdio or http, if empty it is inferred from Command and URL
	Type    string            `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty" validate:"omitempty,oneof=stdio http"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty" validate:"required_without=URL"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty" toml:"cwd,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty" validate:"omitempty,url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
	// Timeout bounds each request to the server, such as "30s"
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	// Disabled servers are skipped
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// TransportType returns the effective transport of the server.
func (s *Server) TransportType() string {
	if s.Type != "" {
		return s.Type
	}
	if s.Command == "" && s.URL != "" {
		return TransportHTTP
	}
	return TransportStdio
}

// RequestTimeout returns the parsed Timeout, or zero if not set or invalid.
func (s *Server) RequestTimeout() time.Duration {
	if s.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// Model configures the model endpoint.
type Model struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty" toml:"provider,omitempty" validate:"omitempty,oneof=anthropic"`
	Name        string  `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Token       string  `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty" validate:"omitempty,url"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty" validate:"gte=0"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty" validate:"gte=0,lte=1"`
	Streaming   bool    `json:"streaming,omitempty" yaml:"streaming,omitempty" toml:"streaming,omitempty"`
	CacheTools  bool    `json:"cache_tools,omitempty" yaml:"cache_tools,omitempty" toml:"cache_tools,omitempty"`
}

// Agent configures the agent loop.
type Agent struct {
	Name         string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty"`
	// MaxTurns bounds the model calls per query, 0 is unlimited
	MaxTurns    int    `json:"max_turns,omitempty" yaml:"max_turns,omitempty" toml:"max_turns,omitempty" validate:"gte=0"`
	Termination string `json:"termination,omitempty" yaml:"termination,omitempty" toml:"termination,omitempty" validate:"omitempty,oneof=single_text no_tool_use"`
}

// Store types of the transcript archive
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Store configures the transcript archive.
type Store struct {
	// Type is memory, redis, sqlite, or empty for no archive
	Type     string `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty" validate:"omitempty,oneof=memory redis sqlite"`
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty" toml:"redis_url,omitempty" validate:"required_if=Type redis"`
	// Path is the SQLite database file
	Path        string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty" validate:"required_if=Type sqlite"`
	Prefix      string `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"`
	TTL         string `json:"ttl,omitempty" yaml:"ttl,omitempty" toml:"ttl,omitempty"`
	MaxMessages int    `json:"max_messages,omitempty" yaml:"max_messages,omitempty" toml:"max_messages,omitempty" validate:"gte=0"`
}

// Config is the configuration file model.
type Config struct {
	MCPServers Servers `json:"mcpServers" yaml:"mcpServers" toml:"-"`
	Model      Model   `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	Agent      Agent   `json:"agent,omitempty" yaml:"agent,omitempty" toml:"agent,omitempty"`
	Store      Store   `json:"store,omitempty" yaml:"store,omitempty" toml:"store,omitempty"`
	LogLevel   string  `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty" validate:"omitempty,oneof=TRACE DEBUG INFO NOTICE WARNING ERROR CRITICAL trace debug info notice warning error critical"`
}

// Enabled returns the servers that are not disabled, in document order.
func (c *Config) Enabled() []Server {
	list := make([]Server, 0, len(c.MCPServers))
	for _, s := range c.MCPServers {
		if !s.Disabled {
			list = append(list, s)
		}
	}
	return list
}

// Load reads the configuration from the file.
// The format is selected by the file extension, YAML is the default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessagef(ErrInvalidConfig, "unable to read %q: %s", path, err.Error())
	}
	cfg, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", path)
	}
	logger.KV(xlog.DEBUG,
		"status", "loaded",
		"file", path,
		"servers", len(cfg.MCPServers),
	)
	return cfg, nil
}

// FormatFromPath returns the format of the file by its extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// Parse decodes, expands variables and validates the configuration.
// Variables are expanded in the decoded string values: `${VAR}` is replaced
// from the environment, and a value starting with `env://` or `file://` is
// resolved from the environment variable or the file.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := new(Config)
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, cfg)
	case FormatTOML:
		err = decodeTOML(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.WithMessagef(ErrInvalidConfig, "unable to decode %s: %s", format, err.Error())
	}

	if err = configloader.ExpandAll(cfg); err != nil {
		return nil, errors.WithMessagef(ErrInvalidConfig, "unable to expand variables: %s", err.Error())
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns ErrInvalidConfig if no servers are configured, or if any
// field has an invalid value.
func (c *Config) Validate() error {
	if len(c.MCPServers) == 0 {
		return errors.Mark(errors.WithMessage(ErrInvalidConfig, "no mcpServers configured"), ErrNoServers)
	}
	if len(c.Enabled()) == 0 {
		return errors.WithMessage(ErrInvalidConfig, "all mcpServers are disabled")
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.WithMessage(ErrInvalidConfig, err.Error())
	}
	for _, s := range c.MCPServers {
		if err := validate.Struct(s); err != nil {
			return errors.WithMessagef(ErrInvalidConfig, "server %q: %s", s.Name, err.Error())
		}
		if s.Timeout != "" {
			if _, err := time.ParseDuration(s.Timeout); err != nil {
				return errors.WithMessagef(ErrInvalidConfig, "server %q: invalid timeout %q", s.Name, s.Timeout)
			}
		}
	}
	if c.Store.TTL != "" {
		if _, err := time.ParseDuration(c.Store.TTL); err != nil {
			return errors.WithMessagef(ErrInvalidConfig, "store: invalid ttl %q", c.Store.TTL)
		}
	}
	return nil
}

// SearchPaths returns the locations where the configuration file is looked up,
// in order of precedence.
func SearchPaths() []string {
	paths := []string{DefaultConfigFile}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcpchat", "config.json"))
	}
	return paths
}

// Find returns the explicit path if provided, or the first existing file
// from SearchPaths.
func Find(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.WithMessagef(ErrInvalidConfig, "configuration file not found in %s",
		strings.Join(SearchPaths(), ", "))
}

// StoreTTL returns the parsed Store.TTL, or zero if not set.
func (c *Config) StoreTTL() time.Duration {
	d, _ := time.ParseDuration(values.StringsCoalesce(c.Store.TTL, "0s"))
	return d
}
