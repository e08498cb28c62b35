package aggregator

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/childproc"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/config"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/jsonrpc"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/schema"
)

// childToolsResult pairs a live child with its tools/list decode, preserving
// the children slice's order so merge order is deterministic.
type childToolsResult struct {
	child *childproc.Client
	tools []map[string]any
}

// handleToolsList fans tools/list out to every live child (each bounded by
// WRAPPER_TOOLS_LIST_TIMEOUT_MS), rebuilds the routing table from scratch,
// and replies with the merged, schema-normalized catalog.
func (a *Aggregator) handleToolsList(ctx context.Context, req *jsonrpc.Request) {
	children := a.liveChildren()

	if len(children) == 0 {
		a.rebuildToolRoutes(nil)
		a.replyResult(req.ID, map[string]any{"tools": []any{}})

		return
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, a.opts.ToolsListTimeout)
	defer cancel()

	results := make([]*childToolsResult, len(children))

	g, gctx := errgroup.WithContext(timeoutCtx)

	for i, child := range children {
		i, child := i, child

		g.Go(func() error {
			raw, rpcErr, err := child.Request(gctx, "tools/list", nil, nil)
			if err != nil || rpcErr != nil {
				return nil
			}

			var decoded struct {
				Tools []map[string]any `json:"tools"`
			}

			if uerr := json.Unmarshal(raw, &decoded); uerr != nil {
				return nil
			}

			results[i] = &childToolsResult{child: child, tools: decoded.Tools}

			return nil
		})
	}

	_ = g.Wait()

	routes := make(map[string]toolRoute)
	merged := make([]map[string]any, 0)

	for _, res := range results {
		if res == nil {
			continue
		}

		key := childKey(res.child)

		for _, tool := range res.tools {
			name, hasName := tool["name"].(string)
			if !hasName || name == "" {
				merged = append(merged, tool)
				continue
			}

			published := key + "__" + name
			if _, exists := routes[published]; exists {
				continue
			}

			routes[published] = toolRoute{Child: res.child, Original: name}

			toolCopy := shallowCopyTool(tool)
			toolCopy["name"] = published
			merged = append(merged, toolCopy)
		}
	}

	a.rebuildToolRoutes(routes)

	normalized := schema.Normalize(merged)

	a.replyResult(req.ID, map[string]any{"tools": normalized})
}

func (a *Aggregator) rebuildToolRoutes(routes map[string]toolRoute) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.toolToChild = routes
	if a.toolToChild == nil {
		a.toolToChild = make(map[string]toolRoute)
	}
}

func shallowCopyTool(tool map[string]any) map[string]any {
	out := make(map[string]any, len(tool))
	for k, v := range tool {
		out[k] = v
	}

	return out
}

// childKey computes the namespace prefix a child's tools are published
// under.
func childKey(c *childproc.Client) string {
	return config.Key(c.Spec)
}
