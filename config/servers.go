package config

import (
	"bytes"
	"encoding/json"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Servers is the list of capability servers in document order.
// The order matters: a capability declared by several servers is routed
// to the last one.
type Servers []Server

// UnmarshalJSON decodes the mcpServers object preserving key order.
func (s *Servers) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errors.WithStack(err)
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.Newf("mcpServers: expected object, got %v", tok)
	}

	var list Servers
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return errors.WithStack(err)
		}
		name, ok := tok.(string)
		if !ok {
			return errors.Newf("mcpServers: expected name, got %v", tok)
		}
		var srv Server
		if err = dec.Decode(&srv); err != nil {
			return errors.Wrapf(err, "mcpServers: server %q", name)
		}
		srv.Name = name
		list = list.add(srv)
	}
	if _, err = dec.Token(); err != nil {
		return errors.WithStack(err)
	}
	*s = list
	return nil
}

// UnmarshalYAML decodes the mcpServers mapping preserving key order.
func (s *Servers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*s = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return errors.Newf("mcpServers: expected mapping at line %d", node.Line)
	}

	var list Servers
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var srv Server
		if err := node.Content[i+1].Decode(&srv); err != nil {
			return errors.Wrapf(err, "mcpServers: server %q", name)
		}
		srv.Name = name
		list = list.add(srv)
	}
	*s = list
	return nil
}

// add appends the server, a repeated name replaces the earlier declaration
// in place.
func (s Servers) add(srv Server) Servers {
	for i := range s {
		if s[i].Name == srv.Name {
			s[i] = srv
			return s
		}
	}
	return append(s, srv)
}

// Names returns the server names in order.
func (s Servers) Names() []string {
	names := make([]string, len(s))
	for i, srv := range s {
		names[i] = srv.Name
	}
	return names
}

type tomlConfig struct {
	Config
	MCPServers map[string]Server `toml:"mcpServers"`
}

func decodeTOML(data []byte, cfg *Config) error {
	var tc tomlConfig
	md, err := toml.Decode(string(data), &tc)
	if err != nil {
		return errors.WithStack(err)
	}

	*cfg = tc.Config
	cfg.MCPServers = nil
	for _, key := range md.Keys() {
		if len(key) != 2 || key[0] != "mcpServers" {
			continue
		}
		srv, ok := tc.MCPServers[key[1]]
		if !ok {
			continue
		}
		srv.Name = key[1]
		cfg.MCPServers = cfg.MCPServers.add(srv)
	}
	return nil
}
