package rpcerr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/jsonrpc"
	"github.com/stretchr/testify/require"
)

func decodeData(t *testing.T, raw json.RawMessage) Data {
	t.Helper()

	var d Data
	require.NoError(t, json.Unmarshal(raw, &d))

	return d
}

func TestNormalize_MethodNotFound(t *testing.T) {
	out := Normalize(&jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "nope"}, Context{ToolName: "search"})

	require.Equal(t, jsonrpc.CodeMethodNotFound, out.Code)
	require.Contains(t, out.Message, "search")

	d := decodeData(t, out.Data)
	require.Equal(t, KindServerError, d.Kind)
	require.False(t, d.Retryable)
}

func TestNormalize_InternalErrorIsRetryable(t *testing.T) {
	out := Normalize(&jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: "boom"}, Context{})

	d := decodeData(t, out.Data)
	require.True(t, d.Retryable)
}

func TestNormalize_ServerRangeRetainsCodeAndRetryableFlag(t *testing.T) {
	dataRaw, err := json.Marshal(map[string]any{"retryable": true})
	require.NoError(t, err)

	out := Normalize(&jsonrpc.Error{Code: -32050, Message: "overloaded", Data: dataRaw}, Context{})

	require.Equal(t, -32050, out.Code)
	require.Equal(t, "overloaded", out.Message)

	d := decodeData(t, out.Data)
	require.True(t, d.Retryable)
}

func TestNormalize_ToolErrorKindOverride(t *testing.T) {
	dataRaw, err := json.Marshal(map[string]any{"kind": "tool_error", "retryable": true})
	require.NoError(t, err)

	out := Normalize(&jsonrpc.Error{Code: -32000, Message: "bad input", Data: dataRaw}, Context{ToolName: "run"})

	d := decodeData(t, out.Data)
	require.Equal(t, KindToolError, d.Kind)
	require.True(t, d.Retryable)
}

func TestNormalize_EmptyMessageGetsPlaceholder(t *testing.T) {
	out := Normalize(&jsonrpc.Error{Code: -32000, Message: ""}, Context{})
	require.NotEmpty(t, out.Message)

	out2 := Normalize(&jsonrpc.Error{Code: -32000, Message: "[object Object]"}, Context{})
	require.NotEqual(t, "[object Object]", out2.Message)
}

func TestNormalize_UnknownCodeDefaultsToServerError(t *testing.T) {
	out := Normalize(&jsonrpc.Error{Code: 12345, Message: "weird"}, Context{})

	require.Equal(t, jsonrpc.CodeServerError, out.Code)
	require.Equal(t, "Server error", out.Message)

	d := decodeData(t, out.Data)
	require.Equal(t, KindServerError, d.Kind)
}

func TestNormalize_NilRawUsesDefault(t *testing.T) {
	out := Normalize(nil, Context{})

	require.Equal(t, jsonrpc.CodeServerError, out.Code)
	require.Equal(t, "Server error", out.Message)
}

func TestNormalizeSpawnFailure_ENOENTRewritesCode(t *testing.T) {
	out := NormalizeSpawnFailure(true, errors.New("exec: not found"), Context{ServerName: "search-mcp"})

	require.Equal(t, jsonrpc.CodeSpawnError, out.Code)
	require.Contains(t, out.Message, "ENOENT")

	d := decodeData(t, out.Data)
	require.Equal(t, KindSpawnError, d.Kind)
	require.False(t, d.Retryable)
	require.Equal(t, "search-mcp", d.ServerName)
}

func TestNormalizeSpawnFailure_NonENOENTKeepsSpawnKind(t *testing.T) {
	out := NormalizeSpawnFailure(false, errors.New("permission denied"), Context{})

	d := decodeData(t, out.Data)
	require.Equal(t, KindSpawnError, d.Kind)
	require.Contains(t, out.Message, "permission denied")
}
