// Package rpcerr translates heterogeneous child failures (JSON-RPC errors,
// spawn failures, application tool errors) into the single envelope shape
// every error the proxy hands back to the parent uses.
package rpcerr

import (
	"encoding/json"
	"fmt"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/jsonrpc"
)

// Kind values carried in Data.Kind, the proxy's error taxonomy.
const (
	KindSpawnError  = "spawn_error"
	KindServerError = "server_error"
	KindToolError   = "tool_error"
)

// Context carries the routing information available at the point an error
// is normalized, used to shape the message and populate Data.
type Context struct {
	Method     string
	ToolName   string
	ServerName string
}

// Data is the structured payload attached to every normalized error.
type Data struct {
	Kind       string          `json:"kind"`
	Retryable  bool            `json:"retryable"`
	Original   json.RawMessage `json:"original,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ServerName string          `json:"serverName,omitempty"`
}

// rawErrorView is the shape we need to inspect on an arbitrary raw error,
// whether it came from a child's JSON-RPC response or was fabricated by the
// proxy itself (e.g. for a failed spawn or write).
type rawErrorView struct {
	StringCode string
	NumericSet bool
	Numeric    int
	Message    string
	DataKind   string
	DataRetry  bool
	HasData    bool
}

func inspect(raw *jsonrpc.Error) rawErrorView {
	if raw == nil {
		return rawErrorView{}
	}

	view := rawErrorView{Message: raw.Message}

	// A JSON-RPC error's "code" field is always numeric; the string-typed
	// "ENOENT" shape appears only on synthesized spawn errors that are not
	// themselves shaped as jsonrpc.Error (see NormalizeSpawnFailure), so a
	// numeric code from raw.Code is always what we compare against here.
	view.NumericSet = true
	view.Numeric = raw.Code

	if len(raw.Data) > 0 {
		var d struct {
			Kind      string `json:"kind"`
			Retryable any    `json:"retryable"`
		}

		if err := json.Unmarshal(raw.Data, &d); err == nil {
			view.HasData = true
			view.DataKind = d.Kind
			view.DataRetry = coerceBool(d.Retryable)
		}
	}

	return view
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	case float64:
		return t != 0
	default:
		return false
	}
}

// Normalize implements the rules from the error-handling design for a
// jsonrpc.Error: well-known JSON-RPC code translation, the server range
// [-32099,-32000] retryable pass-through, the tool_error override, and the
// non-empty-message guarantee, defaulting to a generic server error when
// nothing else applies. ENOENT spawn-error rewriting is done by
// NormalizeSpawnFailure, not here.
func Normalize(raw *jsonrpc.Error, ctx Context) *jsonrpc.Error {
	if raw == nil {
		return defaultError(ctx)
	}

	view := inspect(raw)

	code, message, kind, retryable := classify(view, ctx)

	if view.HasData && view.DataKind == "tool_error" {
		kind = KindToolError
		retryable = view.DataRetry
	}

	message = ensureMessage(message)

	return &jsonrpc.Error{
		Code:    code,
		Message: message,
		Data:    marshalData(Data{Kind: kind, Retryable: retryable, Original: originalOf(raw), ToolName: ctx.ToolName, ServerName: ctx.ServerName}),
	}
}

// NormalizeSpawnFailure builds the ENOENT / generic spawn error envelope
// for a failure that never reached the wire as a jsonrpc.Error at all (a
// failed exec.Command, for instance).
func NormalizeSpawnFailure(enoent bool, err error, ctx Context) *jsonrpc.Error {
	if enoent {
		return &jsonrpc.Error{
			Code:    jsonrpc.CodeSpawnError,
			Message: "Spawn error (ENOENT): command not found. Check PATH or use 'npx tsx <path-to-index.ts>'.",
			Data: marshalData(Data{
				Kind:       KindSpawnError,
				Retryable:  false,
				Original:   marshalOriginalString(err),
				ToolName:   ctx.ToolName,
				ServerName: ctx.ServerName,
			}),
		}
	}

	return &jsonrpc.Error{
		Code:    jsonrpc.CodeServerError,
		Message: ensureMessage(errString(err)),
		Data: marshalData(Data{
			Kind:       KindSpawnError,
			Retryable:  false,
			Original:   marshalOriginalString(err),
			ToolName:   ctx.ToolName,
			ServerName: ctx.ServerName,
		}),
	}
}

func classify(view rawErrorView, ctx Context) (code int, message string, kind string, retryable bool) {
	suffix := toolSuffix(ctx.ToolName)

	switch view.Numeric {
	case jsonrpc.CodeMethodNotFound:
		return jsonrpc.CodeMethodNotFound, "Method not found" + suffix, KindServerError, false
	case jsonrpc.CodeInvalidParams:
		return jsonrpc.CodeInvalidParams, "Invalid params" + suffix, KindServerError, false
	case jsonrpc.CodeInternalError:
		return jsonrpc.CodeInternalError, "Internal error" + suffix, KindServerError, true
	}

	if view.Numeric <= -32000 && view.Numeric >= -32099 {
		return view.Numeric, view.Message, KindServerError, view.DataRetry
	}

	def := defaultError(ctx)

	return def.Code, def.Message, KindServerError, false
}

func toolSuffix(name string) string {
	if name == "" {
		return ""
	}

	return fmt.Sprintf(" for tool '%s'", name)
}

func ensureMessage(m string) string {
	if m == "" || m == "[object Object]" {
		return "Tool/server error"
	}

	return m
}

func defaultError(ctx Context) *jsonrpc.Error {
	return &jsonrpc.Error{
		Code:    jsonrpc.CodeServerError,
		Message: "Server error",
		Data: marshalData(Data{
			Kind:       KindServerError,
			Retryable:  false,
			ToolName:   ctx.ToolName,
			ServerName: ctx.ServerName,
		}),
	}
}

func originalOf(raw *jsonrpc.Error) json.RawMessage {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}

	return b
}

func marshalOriginalString(err error) json.RawMessage {
	if err == nil {
		return nil
	}

	b, merr := json.Marshal(err.Error())
	if merr != nil {
		return nil
	}

	return b
}

func marshalData(d Data) json.RawMessage {
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}

	return b
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
