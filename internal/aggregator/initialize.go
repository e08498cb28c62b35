package aggregator

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/jsonrpc"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/rpcerr"
)

const defaultProtocolVersion = "2024-06-13"

// handleInitialize fans initialize out to every live child, returning the
// first success (coerced to the shape below); a child that errors or
// times out contributes nothing and its late result, if any, is dropped.
func (a *Aggregator) handleInitialize(ctx context.Context, req *jsonrpc.Request) {
	children := a.liveChildren()

	requestedVersion := extractProtocolVersion(req.Params)

	if len(children) == 0 {
		a.replyResult(req.ID, minimalInitializeResult(requestedVersion))
		return
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, a.opts.InitTimeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    *jsonrpc.Error
	}

	results := make(chan outcome, len(children))

	g, gctx := errgroup.WithContext(timeoutCtx)

	for _, child := range children {
		child := child

		g.Go(func() error {
			raw, rpcErr, err := child.Request(gctx, "initialize", json.RawMessage(req.Params), nil)
			if err != nil {
				results <- outcome{err: jsonrpc.NewError(jsonrpc.CodeServerError, err.Error(), nil)}
				return nil
			}

			if rpcErr != nil {
				results <- outcome{err: rpcErr}
				return nil
			}

			var decoded map[string]any
			if uerr := json.Unmarshal(raw, &decoded); uerr != nil {
				results <- outcome{err: jsonrpc.NewError(jsonrpc.CodeServerError, uerr.Error(), nil)}
				return nil
			}

			results <- outcome{result: decoded}

			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	var firstError *jsonrpc.Error

	for res := range results {
		if res.result != nil {
			a.replyResult(req.ID, coerceInitializeResult(res.result, requestedVersion))
			return
		}

		if firstError == nil {
			firstError = res.err
		}
	}

	// The range above only finishes once results is closed, which only
	// happens after every goroutine has returned. An expired deadline here
	// means at least one child was still pending when the wait timed out,
	// rather than every child answering with a genuine error before it.
	if timeoutCtx.Err() != nil {
		a.replyResult(req.ID, minimalInitializeResult(requestedVersion))
		return
	}

	if firstError != nil {
		if !a.opts.ErrorPassthrough {
			firstError = rpcerr.Normalize(firstError, rpcerr.Context{Method: "initialize"})
		}

		a.replyError(req.ID, firstError)
		return
	}

	a.replyResult(req.ID, minimalInitializeResult(requestedVersion))
}

func extractProtocolVersion(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}

	var decoded struct {
		ProtocolVersion string `json:"protocolVersion"`
	}

	if err := json.Unmarshal(params, &decoded); err != nil {
		return ""
	}

	return decoded.ProtocolVersion
}

func minimalInitializeResult(requestedVersion string) map[string]any {
	version := requestedVersion
	if version == "" {
		version = defaultProtocolVersion
	}

	return map[string]any{
		"protocolVersion": version,
		"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
		"serverInfo":      map[string]any{"name": "mcp"},
	}
}

// coerceInitializeResult fills in the fields the proxy must guarantee
// (protocol version fallback, tools capability, forced server name) on top
// of whatever the winning child actually returned.
func coerceInitializeResult(result map[string]any, requestedVersion string) map[string]any {
	if v, ok := result["protocolVersion"].(string); !ok || v == "" {
		if requestedVersion != "" {
			result["protocolVersion"] = requestedVersion
		} else {
			result["protocolVersion"] = defaultProtocolVersion
		}
	}

	caps, ok := result["capabilities"].(map[string]any)
	if !ok {
		caps = map[string]any{}
	}

	if _, ok := caps["tools"]; !ok {
		caps["tools"] = map[string]any{"listChanged": false}
	}

	result["capabilities"] = caps

	info, ok := result["serverInfo"].(map[string]any)
	if !ok {
		info = map[string]any{}
	}

	info["name"] = "mcp"
	result["serverInfo"] = info

	return result
}
