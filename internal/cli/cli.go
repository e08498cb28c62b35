// Package cli implements the proxy's small invocation grammar: passthrough
// mode via a "--" sentinel, otherwise configuration-file discovery, plus
// the one-line startup summary written to stderr.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/config"
)

// Plan is the resolved set of children to spawn, decided from either
// passthrough or config-file mode.
type Plan struct {
	Children   []config.ChildSpec
	ConfigPath string // empty in passthrough mode
}

// Resolve inspects args (normally os.Args[1:]) for the "--" passthrough
// sentinel; everything after it becomes the single child's command line.
// Without a sentinel, it falls back to config.Discover.
func Resolve(args []string) (Plan, error) {
	if idx := indexOf(args, "--"); idx >= 0 {
		rest := args[idx+1:]
		if len(rest) == 0 {
			return Plan{}, fmt.Errorf("cli: %q requires a command", "--")
		}

		return Plan{Children: []config.ChildSpec{{
			Name:    "",
			Command: rest[0],
			Args:    append([]string(nil), rest[1:]...),
		}}}, nil
	}

	specs, path, err := config.Discover()
	if err != nil {
		return Plan{}, err
	}

	return Plan{Children: specs, ConfigPath: path}, nil
}

func indexOf(args []string, target string) int {
	for i, a := range args {
		if a == target {
			return i
		}
	}

	return -1
}

// Summary writes the one-line startup summary listing each live child's
// key and command, unless config.SuppressSummary() is set.
func Summary(w io.Writer, plan Plan) {
	if config.SuppressSummary() || len(plan.Children) == 0 {
		return
	}

	parts := make([]string, 0, len(plan.Children))

	for _, spec := range plan.Children {
		parts = append(parts, fmt.Sprintf("%s=%s", config.Key(spec), spec.Command))
	}

	fmt.Fprintf(w, "codex-mcp-wrapper: %d child(ren): %s\n", len(plan.Children), strings.Join(parts, ", "))
}
