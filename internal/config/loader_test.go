package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tailscale/hujson"
)

func TestParse_ServersMap(t *testing.T) {
	doc := []byte(`{
		// primary filesystem tool
		"servers": {
			"fs": { "command": "fs-server", "args": ["--root", "/tmp"] },
			"serena": { "command": "serena-server", },
		},
	}`)

	standardized := mustStandardize(t, doc)
	specs, err := Parse(standardized)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	byName := map[string]ChildSpec{}
	for _, s := range specs {
		byName[s.Name] = s
	}

	require.Equal(t, "fs-server", byName["fs"].Command)
	require.Equal(t, []string{"--root", "/tmp"}, byName["fs"].Args)
	require.Equal(t, "serena-server", byName["serena"].Command)
}

func TestParse_McpServersCamelCase(t *testing.T) {
	doc := []byte(`{"mcpServers": {"a": {"command": "a-bin"}}}`)
	specs, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "a", specs[0].Name)
}

func TestParse_ArrayShape(t *testing.T) {
	doc := []byte(`[{"name": "one", "command": "one-bin"}, {"command": "two-bin"}]`)
	specs, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, "one", specs[0].Name)
	require.Equal(t, "", specs[1].Name)
}

func TestParse_SingleObjectShape(t *testing.T) {
	doc := []byte(`{"command": "solo-bin", "env": {"FOO": "bar"}}`)
	specs, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "solo-bin", specs[0].Command)
	require.Equal(t, "bar", specs[0].Env["FOO"])
}

func TestParse_EntryWithoutCommandIsDropped(t *testing.T) {
	doc := []byte(`{"servers": {"broken": {"args": ["x"]}, "ok": {"command": "ok-bin"}}}`)
	specs, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "ok", specs[0].Name)
}

func TestLoad_StripsCommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mcp.json")
	content := "{\n  // comment\n  \"servers\": {\n    \"fs\": { \"command\": \"fs-server\", },\n  },\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	specs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "fs-server", specs[0].Command)
}

func TestDiscover_PrefersExplicitEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"command": "explicit-bin"}`), 0o600))

	t.Setenv("CODEX_MCP_WRAPPER_CONFIG", path)

	specs, foundPath, err := Discover()
	require.NoError(t, err)
	require.Equal(t, path, foundPath)
	require.Len(t, specs, 1)
	require.Equal(t, "explicit-bin", specs[0].Command)
}

func TestDiscover_FiltersByServerName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers": {"a": {"command": "a-bin"}, "b": {"command": "b-bin"}}}`), 0o600))

	t.Setenv("CODEX_MCP_WRAPPER_CONFIG", path)
	t.Setenv("MCP_WRAPPER_SERVER_NAME", "b")

	specs, _, err := Discover()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "b", specs[0].Name)
}

func mustStandardize(t *testing.T, raw []byte) []byte {
	t.Helper()

	out, err := hujson.Standardize(raw)
	require.NoError(t, err)

	return out
}
