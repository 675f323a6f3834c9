// Package mcp exposes the engine to MCP-speaking agents: the same agents
// that execute steps can query runs, unblock approval gates, and emit
// events.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"flowd/internal/engine"
	"flowd/internal/trigger"
)

type Server struct {
	mcpServer *server.MCPServer
	eng       *engine.Engine
	triggers  *trigger.Evaluator
}

func NewServer(eng *engine.Engine, triggers *trigger.Evaluator) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Engine",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		eng:      eng,
		triggers: triggers,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_run",
			mcp.WithDescription("Get a workflow run with per-step status"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The ID of the run")),
		),
		s.handleGetRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"submit_decision",
			mcp.WithDescription("Approve or reject a run suspended at an approval gate"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The ID of the suspended run")),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The ID of the gated step")),
			mcp.WithString("decision", mcp.Required(), mcp.Description("approve or reject")),
			mcp.WithString("comments", mcp.Description("Optional reviewer comments")),
		),
		s.handleSubmitDecision,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"emit_event",
			mcp.WithDescription("Emit a named event to fire subscribed workflows"),
			mcp.WithString("name", mcp.Required(), mcp.Description("The event name")),
		),
		s.handleEmitEvent,
	)
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}

	run, err := s.eng.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get run: %v", err)), nil
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode run: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleSubmitDecision(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	runID, _ := args["run_id"].(string)
	stepID, _ := args["step_id"].(string)
	decision, _ := args["decision"].(string)
	comments, _ := args["comments"].(string)
	if runID == "" || stepID == "" || decision == "" {
		return mcp.NewToolResultError("Missing required parameters: run_id, step_id, decision"), nil
	}

	err := s.eng.SubmitDecision(ctx, runID, stepID, engine.Decision(decision), comments, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit decision: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Decision %q recorded for run %s step %s", decision, runID, stepID)), nil
}

func (s *Server) handleEmitEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("Missing required parameter: name"), nil
	}

	runs := s.triggers.HandleEvent(ctx, name)
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.ID)
	}
	payload, _ := json.Marshal(map[string]any{"runs": ids})
	return mcp.NewToolResultText(string(payload)), nil
}

// MountHTTPHandlers mounts the MCP transport on the mux.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
