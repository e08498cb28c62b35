package aggregator

import (
	"context"
	"encoding/json"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/jsonrpc"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/rpcerr"
)

// handleToolsCall looks up the routed child for params.name, rewrites the
// name back to the child's original, and forwards the call reusing the
// parent's id verbatim. The response is resolved later, when the child's
// answer arrives through handleForwardedResponse.
func (a *Aggregator) handleToolsCall(ctx context.Context, req *jsonrpc.Request) {
	var params map[string]json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil {
		a.replyError(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params", nil))
		return
	}

	var name string
	if err := json.Unmarshal(params["name"], &name); err != nil {
		a.replyError(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params", nil))
		return
	}

	a.mu.Lock()
	route, ok := a.toolToChild[name]
	a.mu.Unlock()

	if !ok {
		a.replyError(req.ID, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "Tool not found: "+name,
			rpcerr.Data{Kind: rpcerr.KindServerError, ToolName: name}))
		return
	}

	key := string(req.ID)

	a.mu.Lock()
	a.parentIDToChild[key] = route.Child
	a.parentIDToCtx[key] = requestContext{Method: "tools/call", ToolName: name}
	a.mu.Unlock()

	// Forward every field the parent sent, not just name/arguments, only
	// rewriting name back to the child's original.
	originalNameJSON, _ := json.Marshal(route.Original)
	params["name"] = originalNameJSON

	if _, _, err := route.Child.Request(ctx, "tools/call", params, req.ID); err != nil {
		a.mu.Lock()
		delete(a.parentIDToChild, key)
		delete(a.parentIDToCtx, key)
		a.mu.Unlock()

		raw := jsonrpc.NewError(jsonrpc.CodeServerError, err.Error(), nil)

		normalized := raw
		if !a.opts.ErrorPassthrough {
			normalized = rpcerr.Normalize(raw, rpcerr.Context{Method: "tools/call", ToolName: name})
		}

		a.replyError(req.ID, normalized)
	}
}
