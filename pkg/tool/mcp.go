package tool

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServeMCP exposes the toolkit as an MCP server over stdio and blocks until
// the session ends.
func ServeMCP(ctx context.Context, toolkit *Toolkit, version string) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "kioku",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kioku_task_create",
		Description: "Create a task in long-term memory, optionally synced to the external task list",
	}, wrap(toolkit.CreateTask))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kioku_task_complete",
		Description: "Mark a task as done with an optional outcome note",
	}, wrap(toolkit.CompleteTask))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kioku_task_list",
		Description: "List tasks with their current reconciled status",
	}, wrap(toolkit.ListTasks))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kioku_memory_save",
		Description: "Save an explicit memory for later retrieval",
	}, wrap(toolkit.SaveMemory))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kioku_memory_search",
		Description: "Search stored memories by free text",
	}, wrap(toolkit.SearchMemory))

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server terminated")
	}
	return nil
}

// wrap adapts a toolkit method into an MCP tool handler.
func wrap[P any](fn func(ctx context.Context, params P) (string, error)) func(context.Context, *mcp.CallToolRequest, P) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, params P) (*mcp.CallToolResult, any, error) {
		text, err := fn(ctx, params)
		if err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil, nil
	}
}
