package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"reasongate/internal/analyzers"
	"reasongate/internal/conversation"
	"reasongate/internal/dialogue"
	"reasongate/internal/tournament"
	"reasongate/internal/types"
)

// claudeContextSchema is shared by every tool that accepts the caller's
// analysis context.
const claudeContextSchema = `{
	"type": "object",
	"description": "What the caller already tried and where it is stuck",
	"properties": {
		"attempted_approaches": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Approaches already tried"
		},
		"partial_findings": {
			"type": "array",
			"items": {"type": "object"},
			"description": "Validated findings gathered so far"
		},
		"stuck_description": {
			"type": "string",
			"description": "Single description of where the analysis is stuck"
		},
		"code_scope": {
			"type": "object",
			"properties": {
				"files": {"type": "array", "items": {"type": "string"}},
				"entry_points": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"file": {"type": "string"},
							"line": {"type": "integer"},
							"function_name": {"type": "string"}
						},
						"required": ["file", "line"]
					}
				},
				"service_names": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["files"]
		}
	},
	"required": ["attempted_approaches", "stuck_description", "code_scope"]
}`

const entryPointSchema = `{
	"type": "object",
	"properties": {
		"file": {"type": "string", "description": "File path relative to the project root"},
		"line": {"type": "integer", "description": "1-based line number"},
		"function_name": {"type": "string"}
	},
	"required": ["file", "line"]
}`

// analysisKinds is the closed analysis_type enumeration.
var analysisKinds = map[string]bool{
	"execution_trace": true,
	"cross_system":    true,
	"performance":     true,
	"hypothesis_test": true,
}

// claudeContextArgs mirrors the claude_context JSON shape.
type claudeContextArgs struct {
	AttemptedApproaches []string          `json:"attempted_approaches"`
	PartialFindings     []json.RawMessage `json:"partial_findings"`
	StuckDescription    string            `json:"stuck_description"`
	CodeScope           codeScopeArgs     `json:"code_scope"`
}

type codeScopeArgs struct {
	Files        []string             `json:"files"`
	EntryPoints  []types.CodeLocation `json:"entry_points"`
	ServiceNames []string             `json:"service_names"`
}

// toRequest converts the wire shape into the internal context. Invalid
// partial findings land in the quarantine list; the single
// stuck_description becomes the sole stuck point.
func (c claudeContextArgs) toRequest(log *zap.Logger) types.RequestContext {
	valid, quarantined := types.ParseFindings(c.PartialFindings)
	if len(quarantined) > 0 && log != nil {
		log.Warn("partial findings quarantined", zap.Int("count", len(quarantined)))
	}
	var stuck []string
	if c.StuckDescription != "" {
		stuck = []string{c.StuckDescription}
	}
	return types.RequestContext{
		AttemptedApproaches: c.AttemptedApproaches,
		PartialFindings:     valid,
		Quarantined:         quarantined,
		StuckPoints:         stuck,
		FocusArea: types.CodeScope{
			Files:        c.CodeScope.Files,
			EntryPoints:  c.CodeScope.EntryPoints,
			ServiceNames: c.CodeScope.ServiceNames,
		},
	}
}

// validate checks the pieces the schema cannot express, including path
// validation through the secure reader.
func (s *Server) validateContext(path string, c claudeContextArgs, v *[]fieldError) {
	if c.StuckDescription == "" {
		*v = append(*v, fieldError{path + ".stuck_description", "must not be empty"})
	}
	s.validateFiles(path+".code_scope.files", c.CodeScope.Files, v)
}

func (s *Server) validateFiles(path string, files []string, v *[]fieldError) {
	for i, f := range files {
		if _, err := s.files.ValidatePath(f); err != nil {
			*v = append(*v, fieldError{fmt.Sprintf("%s[%d]", path, i), err.Error()})
		}
	}
}

// --- escalate_analysis ---

func escalateAnalysisTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"escalate_analysis",
		"Hand off an analysis the caller is stuck on for one-shot deep reasoning over the referenced code.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"claude_context": `+claudeContextSchema+`,
				"analysis_type": {
					"type": "string",
					"enum": ["execution_trace", "cross_system", "performance", "hypothesis_test"],
					"description": "Which analysis strategy to run"
				},
				"depth_level": {
					"type": "integer",
					"minimum": 1,
					"maximum": 5,
					"description": "How deep to analyze (1-5)"
				},
				"time_budget_seconds": {
					"type": "integer",
					"description": "Wall-clock budget; expiry returns a partial result (default 60)"
				}
			},
			"required": ["claude_context", "analysis_type", "depth_level"]
		}`),
	)
}

type escalateArgs struct {
	ClaudeContext     claudeContextArgs `json:"claude_context"`
	AnalysisType      string            `json:"analysis_type"`
	DepthLevel        int               `json:"depth_level"`
	TimeBudgetSeconds int               `json:"time_budget_seconds"`
}

func (s *Server) handleEscalateAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args escalateArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}

	var v []fieldError
	s.validateContext("claude_context", args.ClaudeContext, &v)
	if !analysisKinds[args.AnalysisType] {
		v = append(v, fieldError{"analysis_type", "must be one of execution_trace, cross_system, performance, hypothesis_test"})
	}
	if args.DepthLevel < 1 || args.DepthLevel > 5 {
		v = append(v, fieldError{"depth_level", "must be between 1 and 5"})
	}
	if args.TimeBudgetSeconds < 0 {
		v = append(v, fieldError{"time_budget_seconds", "must not be negative"})
	}
	if len(v) > 0 {
		return paramError(v)
	}

	budget := s.requestBudget
	if args.TimeBudgetSeconds > 0 {
		budget = time.Duration(args.TimeBudgetSeconds) * time.Second
	}

	result, err := s.orch.OneShot(ctx, conversation.OneShotRequest{
		Context:  args.ClaudeContext.toRequest(s.log),
		Kind:     args.AnalysisType,
		Question: fmt.Sprintf("Analyze at depth %d of 5.", args.DepthLevel),
		Budget:   budget,
	})
	if err != nil {
		return s.toolError("escalate_analysis", err)
	}
	return resultJSON(result)
}

// --- trace_execution_path ---

func traceExecutionPathTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"trace_execution_path",
		"Trace execution from an entry point: heuristic call-site annotations augmented by remote analysis.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"entry_point": `+entryPointSchema+`,
				"max_depth": {
					"type": "integer",
					"description": "Maximum call hops to follow (default 10)"
				},
				"include_data_flow": {
					"type": "boolean",
					"description": "Annotate assignments feeding each call (default true)"
				}
			},
			"required": ["entry_point"]
		}`),
	)
}

type traceArgs struct {
	EntryPoint      types.CodeLocation `json:"entry_point"`
	MaxDepth        int                `json:"max_depth"`
	IncludeDataFlow *bool              `json:"include_data_flow"`
}

// annotatedResult combines heuristic annotations with the remote
// analysis for the three augmented tools.
type annotatedResult struct {
	Annotations []string             `json:"annotations"`
	Analysis    types.AnalysisResult `json:"analysis"`
}

func (s *Server) handleTraceExecutionPath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args traceArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}

	var v []fieldError
	if args.EntryPoint.File == "" {
		v = append(v, fieldError{"entry_point.file", "must not be empty"})
	} else {
		s.validateFiles("entry_point.file", []string{args.EntryPoint.File}, &v)
	}
	if args.EntryPoint.Line < 0 {
		v = append(v, fieldError{"entry_point.line", "must not be negative"})
	}
	if len(v) > 0 {
		return paramError(v)
	}

	maxDepth := args.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	dataFlow := args.IncludeDataFlow == nil || *args.IncludeDataFlow

	annotations, err := s.tracer.Trace(args.EntryPoint, maxDepth, dataFlow)
	if err != nil {
		return s.toolError("trace_execution_path", err)
	}
	rendered := analyzers.Render(annotations)

	result, err := s.orch.OneShot(ctx, conversation.OneShotRequest{
		Context: types.RequestContext{
			StuckPoints: []string{fmt.Sprintf("tracing execution from %s", args.EntryPoint)},
			FocusArea:   types.CodeScope{Files: []string{args.EntryPoint.File}},
		},
		Kind:     "execution_trace",
		Question: augmentedQuestion(fmt.Sprintf("Trace the execution path starting at %s.", args.EntryPoint), rendered),
		Budget:   s.requestBudget,
	})
	if err != nil {
		return s.toolError("trace_execution_path", err)
	}
	return resultJSON(annotatedResult{Annotations: rendered, Analysis: result})
}

// --- cross_system_impact ---

func crossSystemImpactTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"cross_system_impact",
		"Analyze how changes in the given scope propagate across service boundaries.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"change_scope": {
					"type": "object",
					"properties": {
						"files": {"type": "array", "items": {"type": "string"}},
						"service_names": {"type": "array", "items": {"type": "string"}}
					},
					"required": ["files"]
				},
				"impact_types": {
					"type": "array",
					"items": {"type": "string", "enum": ["breaking", "performance", "behavioral"]},
					"description": "Impact classes to consider (default all)"
				}
			},
			"required": ["change_scope"]
		}`),
	)
}

type crossSystemArgs struct {
	ChangeScope codeScopeArgs `json:"change_scope"`
	ImpactTypes []string      `json:"impact_types"`
}

var impactTypes = map[string]bool{"breaking": true, "performance": true, "behavioral": true}

func (s *Server) handleCrossSystemImpact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args crossSystemArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}

	var v []fieldError
	if len(args.ChangeScope.Files) == 0 {
		v = append(v, fieldError{"change_scope.files", "must name at least one file"})
	}
	s.validateFiles("change_scope.files", args.ChangeScope.Files, &v)
	for i, it := range args.ImpactTypes {
		if !impactTypes[it] {
			v = append(v, fieldError{fmt.Sprintf("impact_types[%d]", i), "must be one of breaking, performance, behavioral"})
		}
	}
	if len(v) > 0 {
		return paramError(v)
	}

	impacts := args.ImpactTypes
	if len(impacts) == 0 {
		impacts = []string{"breaking", "performance", "behavioral"}
	}

	scope := types.CodeScope{Files: args.ChangeScope.Files, ServiceNames: args.ChangeScope.ServiceNames}
	annotations, err := s.boundary.Scan(scope)
	if err != nil {
		return s.toolError("cross_system_impact", err)
	}
	rendered := analyzers.Render(annotations)

	result, err := s.orch.OneShot(ctx, conversation.OneShotRequest{
		Context: types.RequestContext{
			StuckPoints: []string{"assessing cross-system impact of a change"},
			FocusArea:   scope,
		},
		Kind: "cross_system",
		Question: augmentedQuestion(
			fmt.Sprintf("Assess %s impact of changes to the listed files.", strings.Join(impacts, ", ")),
			rendered),
		Budget: s.requestBudget,
	})
	if err != nil {
		return s.toolError("cross_system_impact", err)
	}
	return resultJSON(annotatedResult{Annotations: rendered, Analysis: result})
}

// --- performance_bottleneck ---

func performanceBottleneckTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"performance_bottleneck",
		"Model a code path for bottleneck shapes, then analyze the findings remotely.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"code_path": {
					"type": "object",
					"properties": {
						"entry_point": `+entryPointSchema+`,
						"suspected_issues": {"type": "array", "items": {"type": "string"}}
					},
					"required": ["entry_point"]
				},
				"profile_depth": {
					"type": "integer",
					"minimum": 1,
					"maximum": 5,
					"description": "Loop-nesting depth to model (default 3)"
				}
			},
			"required": ["code_path"]
		}`),
	)
}

type perfArgs struct {
	CodePath struct {
		EntryPoint      types.CodeLocation `json:"entry_point"`
		SuspectedIssues []string           `json:"suspected_issues"`
	} `json:"code_path"`
	ProfileDepth int `json:"profile_depth"`
}

func (s *Server) handlePerformanceBottleneck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args perfArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}

	var v []fieldError
	if args.CodePath.EntryPoint.File == "" {
		v = append(v, fieldError{"code_path.entry_point.file", "must not be empty"})
	} else {
		s.validateFiles("code_path.entry_point.file", []string{args.CodePath.EntryPoint.File}, &v)
	}
	if args.ProfileDepth != 0 && (args.ProfileDepth < 1 || args.ProfileDepth > 5) {
		v = append(v, fieldError{"profile_depth", "must be between 1 and 5"})
	}
	if len(v) > 0 {
		return paramError(v)
	}

	depth := args.ProfileDepth
	if depth == 0 {
		depth = 3
	}

	annotations, err := s.perf.Model(args.CodePath.EntryPoint, depth)
	if err != nil {
		return s.toolError("performance_bottleneck", err)
	}
	rendered := analyzers.Render(annotations)

	question := fmt.Sprintf("Find the performance bottleneck on the path starting at %s.", args.CodePath.EntryPoint)
	if len(args.CodePath.SuspectedIssues) > 0 {
		question += " Suspected issues: " + strings.Join(args.CodePath.SuspectedIssues, "; ") + "."
	}

	result, err := s.orch.OneShot(ctx, conversation.OneShotRequest{
		Context: types.RequestContext{
			StuckPoints: []string{"locating a performance bottleneck"},
			FocusArea:   types.CodeScope{Files: []string{args.CodePath.EntryPoint.File}},
		},
		Kind:     "performance",
		Question: augmentedQuestion(question, rendered),
		Budget:   s.requestBudget,
	})
	if err != nil {
		return s.toolError("performance_bottleneck", err)
	}
	return resultJSON(annotatedResult{Annotations: rendered, Analysis: result})
}

// --- hypothesis_test ---

func hypothesisTestTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"hypothesis_test",
		"Evaluate a single hypothesis about the code in one shot.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"hypothesis": {"type": "string", "description": "The theory to evaluate"},
				"code_scope": {
					"type": "object",
					"properties": {
						"files": {"type": "array", "items": {"type": "string"}},
						"entry_points": {"type": "array", "items": `+entryPointSchema+`}
					},
					"required": ["files"]
				},
				"test_approach": {"type": "string", "description": "How to evaluate the hypothesis"}
			},
			"required": ["hypothesis", "code_scope", "test_approach"]
		}`),
	)
}

type hypothesisArgs struct {
	Hypothesis   string        `json:"hypothesis"`
	CodeScope    codeScopeArgs `json:"code_scope"`
	TestApproach string        `json:"test_approach"`
}

func (s *Server) handleHypothesisTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args hypothesisArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}

	var v []fieldError
	if args.Hypothesis == "" {
		v = append(v, fieldError{"hypothesis", "must not be empty"})
	}
	if args.TestApproach == "" {
		v = append(v, fieldError{"test_approach", "must not be empty"})
	}
	if len(args.CodeScope.Files) == 0 {
		v = append(v, fieldError{"code_scope.files", "must name at least one file"})
	}
	s.validateFiles("code_scope.files", args.CodeScope.Files, &v)
	if len(v) > 0 {
		return paramError(v)
	}

	result, err := s.orch.OneShot(ctx, conversation.OneShotRequest{
		Context: types.RequestContext{
			StuckPoints: []string{"testing: " + args.Hypothesis},
			FocusArea:   types.CodeScope{Files: args.CodeScope.Files, EntryPoints: args.CodeScope.EntryPoints},
		},
		Kind: "hypothesis_test",
		Question: fmt.Sprintf("Hypothesis: %s\nTest approach: %s\nCollect supporting and contradicting evidence with file:line references.",
			args.Hypothesis, args.TestApproach),
		Budget: s.requestBudget,
	})
	if err != nil {
		return s.toolError("hypothesis_test", err)
	}
	return resultJSON(result)
}

// --- start_conversation ---

func startConversationTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"start_conversation",
		"Open a multi-turn analysis session; returns the session id, the first response, and suggested follow-ups.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"claude_context": `+claudeContextSchema+`,
				"analysis_type": {
					"type": "string",
					"enum": ["execution_trace", "cross_system", "performance", "hypothesis_test"]
				},
				"initial_question": {
					"type": "string",
					"description": "Optional opening question; a kind-specific one is used when omitted"
				}
			},
			"required": ["claude_context", "analysis_type"]
		}`),
	)
}

type startArgs struct {
	ClaudeContext   claudeContextArgs `json:"claude_context"`
	AnalysisType    string            `json:"analysis_type"`
	InitialQuestion string            `json:"initial_question"`
}

func (s *Server) handleStartConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args startArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}

	var v []fieldError
	s.validateContext("claude_context", args.ClaudeContext, &v)
	if !analysisKinds[args.AnalysisType] {
		v = append(v, fieldError{"analysis_type", "must be one of execution_trace, cross_system, performance, hypothesis_test"})
	}
	if len(v) > 0 {
		return paramError(v)
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestBudget)
	defer cancel()

	out, err := s.orch.Start(ctx, args.ClaudeContext.toRequest(s.log), args.AnalysisType, args.InitialQuestion)
	if err != nil {
		return s.toolError("start_conversation", err)
	}
	return resultJSON(out)
}

// --- continue_conversation ---

func continueConversationTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"continue_conversation",
		"Append a message to an open session; returns the response, progress, and whether the session can finalize.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"message": {"type": "string"},
				"include_code_snippets": {
					"type": "boolean",
					"description": "Enrich the message with code snippets around referenced locations (default true)"
				}
			},
			"required": ["session_id", "message"]
		}`),
	)
}

type continueArgs struct {
	SessionID           string `json:"session_id"`
	Message             string `json:"message"`
	IncludeCodeSnippets *bool  `json:"include_code_snippets"`
}

func (s *Server) handleContinueConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args continueArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}

	var v []fieldError
	if args.SessionID == "" {
		v = append(v, fieldError{"session_id", "must not be empty"})
	}
	if args.Message == "" {
		v = append(v, fieldError{"message", "must not be empty"})
	}
	if len(v) > 0 {
		return paramError(v)
	}

	snippets := args.IncludeCodeSnippets == nil || *args.IncludeCodeSnippets

	ctx, cancel := context.WithTimeout(ctx, s.requestBudget)
	defer cancel()

	out, err := s.orch.Continue(ctx, args.SessionID, args.Message, snippets)
	if err != nil {
		return s.toolError("continue_conversation", err)
	}
	return resultJSON(out)
}

// --- finalize_conversation ---

func finalizeConversationTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"finalize_conversation",
		"Synthesize an open session into a structured analysis result and complete it.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"summary_format": {
					"type": "string",
					"enum": ["detailed", "concise", "actionable"],
					"description": "Shape of the synthesized result (default detailed)"
				}
			},
			"required": ["session_id"]
		}`),
	)
}

type finalizeArgs struct {
	SessionID     string `json:"session_id"`
	SummaryFormat string `json:"summary_format"`
}

func (s *Server) handleFinalizeConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args finalizeArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}

	var v []fieldError
	if args.SessionID == "" {
		v = append(v, fieldError{"session_id", "must not be empty"})
	}
	format := dialogue.FormatDetailed
	switch args.SummaryFormat {
	case "", "detailed":
	case "concise":
		format = dialogue.FormatConcise
	case "actionable":
		format = dialogue.FormatActionable
	default:
		v = append(v, fieldError{"summary_format", "must be one of detailed, concise, actionable"})
	}
	if len(v) > 0 {
		return paramError(v)
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestBudget)
	defer cancel()

	result, err := s.orch.Finalize(ctx, args.SessionID, format)
	if err != nil {
		return s.toolError("finalize_conversation", err)
	}
	if s.audit != nil {
		if err := s.audit.SaveResult(args.SessionID, result); err != nil {
			s.log.Warn("result not persisted", zap.String("session_id", args.SessionID), zap.Error(err))
		}
	}
	return resultJSON(result)
}

// --- get_conversation_status ---

func getConversationStatusTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"get_conversation_status",
		"Report session status, turn count, progress, and finalizability without locking the session.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"}
			},
			"required": ["session_id"]
		}`),
	)
}

type statusArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleGetConversationStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args statusArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}
	if args.SessionID == "" {
		return paramError([]fieldError{{"session_id", "must not be empty"}})
	}

	out, err := s.orch.Status(args.SessionID)
	if err != nil {
		return s.toolError("get_conversation_status", err)
	}
	return resultJSON(out)
}

// --- run_hypothesis_tournament ---

func runHypothesisTournamentTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"run_hypothesis_tournament",
		"Run a parallel hypothesis tournament over the issue; returns ranked results and recommendations.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"claude_context": `+claudeContextSchema+`,
				"issue": {"type": "string", "description": "The issue under investigation"},
				"tournament_config": {
					"type": "object",
					"properties": {
						"max_hypotheses": {"type": "integer", "minimum": 2, "maximum": 20},
						"max_rounds": {"type": "integer", "minimum": 1, "maximum": 5},
						"parallel_sessions": {"type": "integer", "minimum": 1, "maximum": 10}
					}
				}
			},
			"required": ["claude_context", "issue"]
		}`),
	)
}

type tournamentArgs struct {
	ClaudeContext    claudeContextArgs `json:"claude_context"`
	Issue            string            `json:"issue"`
	TournamentConfig struct {
		MaxHypotheses    int `json:"max_hypotheses"`
		MaxRounds        int `json:"max_rounds"`
		ParallelSessions int `json:"parallel_sessions"`
	} `json:"tournament_config"`
}

func (s *Server) handleRunHypothesisTournament(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args tournamentArgs
	if err := req.BindArguments(&args); err != nil {
		return bindError(err)
	}

	var v []fieldError
	s.validateContext("claude_context", args.ClaudeContext, &v)
	if args.Issue == "" {
		v = append(v, fieldError{"issue", "must not be empty"})
	}
	tc := args.TournamentConfig
	if tc.MaxHypotheses != 0 && (tc.MaxHypotheses < 2 || tc.MaxHypotheses > 20) {
		v = append(v, fieldError{"tournament_config.max_hypotheses", "must be between 2 and 20"})
	}
	if tc.MaxRounds != 0 && (tc.MaxRounds < 1 || tc.MaxRounds > 5) {
		v = append(v, fieldError{"tournament_config.max_rounds", "must be between 1 and 5"})
	}
	if tc.ParallelSessions != 0 && (tc.ParallelSessions < 1 || tc.ParallelSessions > 10) {
		v = append(v, fieldError{"tournament_config.parallel_sessions", "must be between 1 and 10"})
	}
	if len(v) > 0 {
		return paramError(v)
	}

	cfg := tournament.Config{
		MaxHypotheses:    tc.MaxHypotheses,
		MaxRounds:        tc.MaxRounds,
		Parallelism:      tc.ParallelSessions,
		CrossPollination: true,
		Budget:           s.tournamentBudget,
	}
	res, err := s.sched.Run(ctx, args.ClaudeContext.toRequest(s.log), args.Issue, cfg)
	if err != nil {
		return s.toolError("run_hypothesis_tournament", err)
	}
	return resultJSON(res)
}

// augmentedQuestion appends rendered analyzer annotations to a trusted
// question. The annotations derive from project files already validated
// by the secure reader.
func augmentedQuestion(question string, annotations []string) string {
	if len(annotations) == 0 {
		return question
	}
	return question + "\nHeuristic annotations:\n" + strings.Join(annotations, "\n")
}
