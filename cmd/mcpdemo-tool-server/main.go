// Command mcpdemo-tool-server is a minimal MCP server that can be run as a
// child of the proxy to exercise its collision handling and schema
// normalization against a real child speaking the official MCP Go SDK's
// wire format over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// listDirInput deliberately types Depth as an integer so the proxy's
// schema normalizer has something to rewrite (integer -> number) when it
// merges this server's catalog.
type listDirInput struct {
	Path  string `json:"path"`
	Depth int    `json:"depth,omitempty"`
}

type listDirOutput struct {
	Entries []string `json:"entries"`
}

func listDir(_ context.Context, _ *mcp.CallToolRequest, in listDirInput) (*mcp.CallToolResult, listDirOutput, error) {
	if in.Path == "" {
		return nil, listDirOutput{}, fmt.Errorf("path is required")
	}

	entries, err := os.ReadDir(in.Path)
	if err != nil {
		return nil, listDirOutput{}, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return nil, listDirOutput{Entries: names}, nil
}

func main() {
	name := flag.String("name", "demo", "logical name shown in this child's stderr log prefix")
	flag.Parse()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mcpdemo-tool-server",
		Version: "0.1.0",
	}, &mcp.ServerOptions{HasTools: true})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_dir",
		Title:       "List directory",
		Description: "List the entries of a directory on the host running this demo child",
	}, listDir)

	log.SetOutput(os.Stderr)
	log.SetPrefix("mcpdemo-tool-server[" + *name + "]: ")

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("stdio server error: %v", err)
	}
}
