// Command codex-mcp-wrapper aggregates one or more MCP child servers behind
// a single stdio-speaking MCP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/aggregator"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/cli"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/config"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/framing"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.New(config.Debug())

	plan, err := cli.Resolve(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "codex-mcp-wrapper:", err)
		return 1
	}

	cli.Summary(os.Stderr, plan)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agg := aggregator.New(framing.NewEncoder(os.Stdout), log, aggregator.Options{
		InitTimeout:      config.InitTimeout(),
		ToolsListTimeout: config.ToolsListTimeout(),
		ErrorPassthrough: config.ErrorPassthrough(),
	})

	if len(plan.Children) == 0 {
		log.Error("no children configured; exiting")
		return 1
	}

	children := agg.SpawnChildren(ctx, plan.Children)
	if len(children) == 0 {
		log.Error("no children could be spawned; continuing with fallback responses only")
	}

	live := make([]config.ChildSpec, 0, len(children))
	for _, c := range children {
		live = append(live, c.Spec)
	}

	cli.Summary(os.Stderr, cli.Plan{Children: live, ConfigPath: plan.ConfigPath})

	code, err := agg.Run(ctx, framing.NewDecoder(os.Stdin))
	if err != nil {
		log.Error("aggregator stopped", "error", err)
		return 1
	}

	return code
}
