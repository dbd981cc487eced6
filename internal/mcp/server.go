package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// Tool names
const (
	ToolGeneratePlan = "generate_plan"
	ToolGetPlanJob   = "get_plan_job"
)

// PlanService is what the transports need from the planner
type PlanService interface {
	Submit(ctx context.Context, plan types.Plan) (types.SubmitResponse, error)
	Job(goalID string) (types.JobView, error)
	Plan(ctx context.Context, goalID string) (*types.Plan, error)
	UpdateTask(ctx context.Context, taskID string, patch types.TaskPatch) (*types.TaskContent, error)
}

// RequestRecorder counts plan submissions by source and result
type RequestRecorder interface {
	RecordPlanRequest(source, result string)
}

// Server wraps the mark3labs MCP server
type Server struct {
	mcpServer *server.MCPServer
	planner   PlanService
	recorder  RequestRecorder
	tools     map[string]server.ToolHandlerFunc
}

// NewServer creates the MCP server with the plan tools registered
func NewServer(planner PlanService, recorder RequestRecorder, version string) *Server {
	s := &Server{
		planner:  planner,
		recorder: recorder,
		tools:    make(map[string]server.ToolHandlerFunc),
	}

	s.mcpServer = server.NewMCPServer(
		"momentum-planner",
		version,
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
	s.tools[tool.Name] = handler
}

func (s *Server) registerTools() {
	s.addTool(mcp.NewTool(
		ToolGeneratePlan,
		mcp.WithDescription("Start generating an AI plan for a goal. Progress streams from the returned stream_url."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("UUID of the user")),
		mcp.WithString("goal_id", mcp.Description("UUID of the goal (generated when omitted)")),
		mcp.WithString("task", mcp.Required(), mcp.Description("What the user wants to achieve")),
		mcp.WithString("duration", mcp.Required(), mcp.Description("Time available, e.g. \"3 months\"")),
		mcp.WithString("current_situation", mcp.Required(), mcp.Description("Where the user stands today")),
		mcp.WithString("attachment_id", mcp.Description("Optional attachment reference")),
	), s.handleGeneratePlan)

	s.addTool(mcp.NewTool(
		ToolGetPlanJob,
		mcp.WithDescription("Get the status of a plan generation job"),
		mcp.WithString("goal_id", mcp.Required(), mcp.Description("UUID of the goal")),
	), s.handleGetPlanJob)
}

func (s *Server) handleGeneratePlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := request.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	duration, err := request.RequireString("duration")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	situation, err := request.RequireString("current_situation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	plan := types.Plan{
		UserID: userID,
		GoalID: request.GetString("goal_id", ""),
		GoalContent: types.GoalContent{
			Duration:         duration,
			CurrentSituation: situation,
			Task:             task,
		},
	}
	if plan.GoalID == "" {
		plan.GoalID = uuid.NewString()
	}
	if attachment := request.GetString("attachment_id", ""); attachment != "" {
		plan.GoalContent.AttachmentID = &attachment
	}

	resp, err := s.planner.Submit(ctx, plan)
	if err != nil {
		s.record("mcp", submitResult(err))
		slog.Warn("generate_plan rejected", "goal", plan.GoalID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to start plan generation: %v", err)), nil
	}
	s.record("mcp", "accepted")

	return jsonResult(resp)
}

func (s *Server) handleGetPlanJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	goalID, err := request.RequireString("goal_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	view, err := s.planner.Job(goalID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no plan job for goal %s", goalID)), nil
	}
	return jsonResult(view)
}

func (s *Server) record(source, result string) {
	if s.recorder != nil {
		s.recorder.RecordPlanRequest(source, result)
	}
}

// ToolHandler returns the handler of a registered tool, or nil
func (s *Server) ToolHandler(name string) server.ToolHandlerFunc {
	return s.tools[name]
}

// GetMCPServer returns the underlying MCP server for HTTP integration
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// submitResult classifies a Submit error for metrics
func submitResult(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidPlan):
		return "invalid"
	case errors.Is(err, jobs.ErrDuplicateJob):
		return "duplicate"
	case errors.Is(err, jobs.ErrShuttingDown):
		return "unavailable"
	default:
		return "error"
	}
}
