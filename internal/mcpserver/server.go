// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the loaded tasks collection via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/taskloader/internal/apperr"
	"github.com/starford/taskloader/internal/schema"
	"github.com/starford/taskloader/internal/taskservice"
)

const schemaURI = "tasks://schema"

// Server wraps the MCP server with task tools.
type Server struct {
	mcp *server.MCPServer
	svc *taskservice.Service
}

// New creates a new MCP server with all task tools registered.
func New(svc *taskservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"taskloader",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List the ids of all loaded tasks."),
	), s.listTasks)

	s.mcp.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Return one task record (id, title, frontmatter, content) as JSON."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id: the file name without .md")),
	), s.getTask)

	s.mcp.AddTool(mcp.NewTool("reload_tasks",
		mcp.WithDescription("Fetch the source again and replace all loaded tasks."),
	), s.reloadTasks)

	s.mcp.AddResource(
		mcp.NewResource(schemaURI, "Task Schema",
			mcp.WithResourceDescription("JSON schema every task record satisfies."),
			mcp.WithMIMEType("application/schema+json"),
		),
		s.readSchemaResource,
	)

	return s
}

// Listen serves the stdio protocol over in and out until ctx is cancelled
// or in is exhausted.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) listTasks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.svc.ListTasks(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("no tasks loaded"), nil
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return mcp.NewToolResultText(strings.Join(ids, "\n")), nil
}

func (s *Server) getTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := s.svc.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(task.Task, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) reloadTasks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.Reload(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("loaded %d tasks (load %s)", res.Count, res.LoadID)), nil
}

func (s *Server) readSchemaResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      schemaURI,
			MIMEType: "application/schema+json",
			Text:     schema.TaskSchema,
		},
	}, nil
}
