package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/wrapperrors"
)

// document holds the three named-map shapes (servers, mcp_servers,
// mcpServers); the bare-array and single-object shapes are decoded
// separately by Parse. Each shape is best-effort: a shape that doesn't
// decode is skipped rather than treated as a hard failure, since the same
// bytes are tried against every shape.
type document struct {
	Servers    map[string]rawEntry `json:"servers"`
	MCPServers map[string]rawEntry `json:"mcp_servers"`
	McpServers map[string]rawEntry `json:"mcpServers"`
}

// Discover finds and loads the first usable configuration file, searching:
//  1. the path named by CODEX_MCP_WRAPPER_CONFIG, if set;
//  2. ~/.codex/.mcp.json;
//  3. .mcp.json in the current directory, walking up to the filesystem root.
//
// The first file that reads, parses, and yields at least one server
// specification wins. If MCP_WRAPPER_SERVER_NAME names one of that file's
// servers, only that server is returned.
func Discover() ([]ChildSpec, string, error) {
	for _, path := range searchPaths() {
		specs, err := Load(path)
		if err != nil || len(specs) == 0 {
			continue
		}

		return filterByServerName(specs), path, nil
	}

	return nil, "", &wrapperrors.ConfigError{Err: fmt.Errorf("no usable configuration file found")}
}

func searchPaths() []string {
	var paths []string

	if p := os.Getenv("CODEX_MCP_WRAPPER_CONFIG"); p != "" {
		paths = append(paths, p)
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".codex", ".mcp.json"))
	}

	if cwd, err := os.Getwd(); err == nil {
		dir := cwd
		for {
			paths = append(paths, filepath.Join(dir, ".mcp.json"))

			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}

			dir = parent
		}
	}

	return paths
}

func filterByServerName(specs []ChildSpec) []ChildSpec {
	name := os.Getenv("MCP_WRAPPER_SERVER_NAME")
	if name == "" {
		return specs
	}

	for _, s := range specs {
		if s.Name == name {
			return []ChildSpec{s}
		}
	}

	return specs
}

// Load reads and parses one configuration file at path into a list of
// ChildSpec, tolerating comments and trailing commas (a ".jsonc"-style
// document) via hujson.Standardize before decoding.
func Load(path string) ([]ChildSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &wrapperrors.ConfigError{Path: path, Err: err}
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return nil, &wrapperrors.ConfigError{Path: path, Err: fmt.Errorf("strip comments: %w", err)}
	}

	return Parse(standardized)
}

// Parse decodes already-standardized JSON bytes into a list of ChildSpec,
// trying each recognized shape in turn:
//
//	{ servers: {...} } | { mcp_servers: {...} } | { mcpServers: {...} } |
//	[ {...}, ... ] | { command, args?, env?, name? }
func Parse(raw []byte) ([]ChildSpec, error) {
	if specs, ok := parseNamedMap(raw); ok {
		return specs, nil
	}

	if specs, ok := parseArray(raw); ok {
		return specs, nil
	}

	if specs, ok := parseSingle(raw); ok {
		return specs, nil
	}

	return nil, nil
}

func parseNamedMap(raw []byte) ([]ChildSpec, bool) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}

	for _, m := range []map[string]rawEntry{doc.Servers, doc.MCPServers, doc.McpServers} {
		if len(m) == 0 {
			continue
		}

		specs := make([]ChildSpec, 0, len(m))

		for name, entry := range m {
			if !entry.valid() {
				continue
			}

			specs = append(specs, entry.toSpec(name))
		}

		if len(specs) > 0 {
			return specs, true
		}
	}

	return nil, false
}

func parseArray(raw []byte) ([]ChildSpec, bool) {
	var entries []rawEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}

	specs := make([]ChildSpec, 0, len(entries))

	for _, entry := range entries {
		if !entry.valid() {
			continue
		}

		specs = append(specs, entry.toSpec(""))
	}

	if len(specs) == 0 {
		return nil, false
	}

	return specs, true
}

func parseSingle(raw []byte) ([]ChildSpec, bool) {
	var entry rawEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}

	if !entry.valid() {
		return nil, false
	}

	return []ChildSpec{entry.toSpec("")}, true
}
