package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/time/rate"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/internal/storage"
	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// Streamer serves a job's events as server-sent events
type Streamer interface {
	ServeSSE(w http.ResponseWriter, r *http.Request, jobID string)
}

// Handler provides the REST endpoints around plan generation
type Handler struct {
	planner  PlanService
	streamer Streamer
	server   *Server
	limiter  *rate.Limiter
	recorder RequestRecorder
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithSubmitLimit rate limits POST /plans/generate. A non-positive rate disables it.
func WithSubmitLimit(perSecond float64, burst int) HandlerOption {
	return func(h *Handler) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRecorder counts plan submissions made over HTTP
func WithRecorder(recorder RequestRecorder) HandlerOption {
	return func(h *Handler) { h.recorder = recorder }
}

// NewHandler creates the HTTP handler
func NewHandler(planner PlanService, streamer Streamer, server *Server, opts ...HandlerOption) *Handler {
	h := &Handler{
		planner:  planner,
		streamer: streamer,
		server:   server,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleGeneratePlan handles POST /plans/generate
func (h *Handler) HandleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.record("rate_limited")
		writeError(w, http.StatusTooManyRequests, "Too many plan requests, try again shortly")
		return
	}

	var plan types.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		h.record("malformed")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.planner.Submit(r.Context(), plan)
	if err != nil {
		h.record(submitResult(err))
		switch {
		case errors.Is(err, types.ErrInvalidPlan):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobs.ErrDuplicateJob):
			writeError(w, http.StatusConflict, "Plan generation already in progress for this goal")
		case errors.Is(err, jobs.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, "Service is shutting down")
		default:
			slog.Error("Failed to submit plan", "goal", plan.GoalID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to start plan generation")
		}
		return
	}
	h.record("accepted")

	writeJSON(w, http.StatusAccepted, resp)
}

// HandlePlanStream handles GET /plans/stream/{goal_id} (SSE)
func (h *Handler) HandlePlanStream(w http.ResponseWriter, r *http.Request) {
	h.streamer.ServeSSE(w, r, mux.Vars(r)["goal_id"])
}

// HandlePlanJob handles GET /plans/jobs/{goal_id}
func (h *Handler) HandlePlanJob(w http.ResponseWriter, r *http.Request) {
	goalID := mux.Vars(r)["goal_id"]

	view, err := h.planner.Job(goalID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGetPlan handles GET /plans/{goal_id}
func (h *Handler) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	goalID := mux.Vars(r)["goal_id"]

	plan, err := h.planner.Plan(r.Context(), goalID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Plan not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load plan", "goal", goalID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load plan")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// HandleUpdateTask handles PATCH /tasks/{task_id}
func (h *Handler) HandleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	var patch types.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	task, err := h.planner.UpdateTask(r.Context(), taskID, patch)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, task)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, types.ErrInvalidPlan):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Failed to update task", "task", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update task")
	}
}

// HandleToolCall handles POST /tools/call, a REST shortcut to the MCP tools
// that needs no MCP session
func (h *Handler) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Tool name is required")
		return
	}

	if h.server == nil {
		writeError(w, http.StatusInternalServerError, "MCP server not initialized")
		return
	}
	handler := h.server.ToolHandler(req.Name)
	if handler == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Tool %q not found", req.Name))
		return
	}

	result, err := handler(r.Context(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	})
	if err != nil {
		slog.Error("Tool call failed", "tool", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Tool call failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleRoot handles GET /
func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Momentum AI Backend"})
}

func (h *Handler) record(result string) {
	if h.recorder != nil {
		h.recorder.RecordPlanRequest("http", result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// CORS allows cross-origin requests from origins; "*" allows any origin
func CORS(origins []string) mux.MiddlewareFunc {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Routes registers every endpoint on r. mcpHandler and metrics may be nil.
func (h *Handler) Routes(r *mux.Router, mcpHandler, metrics http.Handler) {
	// every route answers OPTIONS so the CORS middleware sees browser preflights
	r.HandleFunc("/", h.HandleRoot).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/plans/generate", h.HandleGeneratePlan).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/plans/stream/{goal_id}", h.HandlePlanStream).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/plans/jobs/{goal_id}", h.HandlePlanJob).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/plans/{goal_id}", h.HandleGetPlan).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/tasks/{task_id}", h.HandleUpdateTask).Methods(http.MethodPatch, http.MethodOptions)
	r.HandleFunc("/tools/call", h.HandleToolCall).Methods(http.MethodPost, http.MethodOptions)

	if mcpHandler != nil {
		r.Handle("/mcp", mcpHandler)
	}
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
}
