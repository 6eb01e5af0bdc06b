// Package mcpserver exposes the analysis core as MCP tools over stdio
// JSON-RPC. It is the sole request boundary: every inbound parameter
// object is schema-checked here, and every error leaving the core is
// translated into a transport-visible error exactly once.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"reasongate/internal/analyzers"
	"reasongate/internal/config"
	"reasongate/internal/conversation"
	"reasongate/internal/faults"
	"reasongate/internal/reader"
	"reasongate/internal/store"
	"reasongate/internal/tournament"
)

// Server holds the request-boundary state.
type Server struct {
	orch     *conversation.Orchestrator
	sched    *tournament.Scheduler
	tracer   *analyzers.Tracer
	perf     *analyzers.Perf
	boundary *analyzers.Boundary
	files    *reader.Reader
	audit    *store.Store
	log      *zap.Logger

	requestBudget    time.Duration
	tournamentBudget time.Duration
}

// Deps wires the server to the core.
type Deps struct {
	Orchestrator *conversation.Orchestrator
	Scheduler    *tournament.Scheduler
	Files        *reader.Reader
	Audit        *store.Store // optional
	Log          *zap.Logger

	RequestBudget    time.Duration
	TournamentBudget time.Duration
}

// NewServer creates the request boundary.
func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.RequestBudget <= 0 {
		d.RequestBudget = conversation.DefaultBudget
	}
	if d.TournamentBudget <= 0 {
		d.TournamentBudget = tournament.DefaultConfig().Budget
	}
	return &Server{
		orch:             d.Orchestrator,
		sched:            d.Scheduler,
		tracer:           analyzers.NewTracer(d.Files),
		perf:             analyzers.NewPerf(d.Files),
		boundary:         analyzers.NewBoundary(d.Files),
		files:            d.Files,
		audit:            d.Audit,
		log:              d.Log,
		requestBudget:    d.RequestBudget,
		tournamentBudget: d.TournamentBudget,
	}
}

// Serve runs the stdio server until ctx is cancelled or stdin closes.
// Standard output carries protocol traffic only; diagnostics go to
// standard error.
func (s *Server) Serve(ctx context.Context) error {
	mcpServer := server.NewMCPServer(
		"reasongate",
		config.Version,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTools(
		server.ServerTool{Tool: escalateAnalysisTool(), Handler: s.handleEscalateAnalysis},
		server.ServerTool{Tool: traceExecutionPathTool(), Handler: s.handleTraceExecutionPath},
		server.ServerTool{Tool: crossSystemImpactTool(), Handler: s.handleCrossSystemImpact},
		server.ServerTool{Tool: performanceBottleneckTool(), Handler: s.handlePerformanceBottleneck},
		server.ServerTool{Tool: hypothesisTestTool(), Handler: s.handleHypothesisTest},
		server.ServerTool{Tool: startConversationTool(), Handler: s.handleStartConversation},
		server.ServerTool{Tool: continueConversationTool(), Handler: s.handleContinueConversation},
		server.ServerTool{Tool: finalizeConversationTool(), Handler: s.handleFinalizeConversation},
		server.ServerTool{Tool: getConversationStatusTool(), Handler: s.handleGetConversationStatus},
		server.ServerTool{Tool: runHypothesisTournamentTool(), Handler: s.handleRunHypothesisTournament},
	)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// fieldError is one schema violation reported to the caller.
type fieldError struct {
	FieldPath string `json:"field_path"`
	Message   string `json:"message"`
}

// paramError reports schema violations without touching the core.
func paramError(violations []fieldError) (*mcp.CallToolResult, error) {
	payload := struct {
		Error      string       `json:"error"`
		Violations []fieldError `json:"violations"`
	}{"invalid_params", violations}
	data, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	return mcp.NewToolResultError(string(data)), nil
}

// bindError reports a request body that did not decode at all.
func bindError(err error) (*mcp.CallToolResult, error) {
	return paramError([]fieldError{{FieldPath: "", Message: fmt.Sprintf("invalid arguments: %v", err)}})
}

// toolError translates a classified error into the transport error
// shape: class, code, message, retryable flag, and suggested next
// steps. Session and filesystem errors are the caller's to fix; api
// and unknown errors are ours.
func (s *Server) toolError(tool string, err error) (*mcp.CallToolResult, error) {
	fe := faults.Classify(err)
	class := "internal_error"
	switch fe.Category {
	case faults.CategorySession, faults.CategoryFilesystem:
		class = "invalid_request"
	}
	s.log.Warn("tool failed",
		zap.String("tool", tool),
		zap.String("code", string(fe.Code)),
		zap.Error(err))

	payload := struct {
		Class     string          `json:"class"`
		Category  faults.Category `json:"category"`
		Code      faults.Code     `json:"code"`
		Message   string          `json:"message"`
		Retryable bool            `json:"retryable"`
		NextSteps []string        `json:"next_steps,omitempty"`
	}{class, fe.Category, fe.Code, fe.Message, fe.Retryable, fe.NextSteps}
	data, merr := json.Marshal(payload)
	if merr != nil {
		return mcp.NewToolResultError(fe.Error()), nil
	}
	return mcp.NewToolResultError(string(data)), nil
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
