// Package orchestrator runs the full gating pipeline for proposed tool
// calls: routing, draft generation, history retrieval, rule checking,
// risk scoring, and the confirmation decision.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Malowking/mcp-sentinel/internal/catalog"
	"github.com/Malowking/mcp-sentinel/internal/history"
	"github.com/Malowking/mcp-sentinel/internal/model"
	"github.com/Malowking/mcp-sentinel/internal/risk"
	"github.com/Malowking/mcp-sentinel/internal/router"
	"github.com/Malowking/mcp-sentinel/internal/rules"
	"github.com/Malowking/mcp-sentinel/internal/storage"
	"github.com/Malowking/mcp-sentinel/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRecordNotFound is returned by Confirm and RecordExecution for ids
// with no audit record.
var ErrRecordNotFound = errors.New("tool call record not found")

// Generator produces tool-call drafts. model.Provider satisfies it.
type Generator interface {
	Generate(ctx context.Context, messages []model.Message, tools []model.ToolDefinition) (*model.Response, error)
}

// Retrieval finds similar past cases. history.Retriever satisfies it.
type Retrieval interface {
	RetrieveSimilarCases(ctx context.Context, question, userID string) []history.Case
	StoreQuestionEmbedding(ctx context.Context, question, requestID string) int64
}

// RuleChecker evaluates blacklist and rules. rules.Engine satisfies it.
type RuleChecker interface {
	Check(toolName string, parameters map[string]any) rules.CheckResult
}

// Routing selects the tool set for a question. router.Router satisfies it.
type Routing interface {
	Route(ctx context.Context, question, userID string, explicitTools []string) router.Routed
}

// RecordStore persists the audit trail. store.Store satisfies it.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *store.ToolCallRecord) error
	GetRecord(ctx context.Context, requestID string) (*store.ToolCallRecord, error)
	UpdateConfirmation(ctx context.Context, requestID string, confirmed bool, feedback string) (bool, error)
	UpdateExecution(ctx context.Context, requestID string, success bool, result map[string]any) (bool, error)
}

// Orchestrator wires the gating pipeline together.
type Orchestrator struct {
	routing   Routing
	generator Generator
	retrieval Retrieval // nil disables history
	engine    RuleChecker
	scorer    *risk.Scorer
	records   RecordStore
	events    storage.EventWriter // nil disables the event stream
	logger    *zap.Logger
	newID     func() string
}

// New creates an Orchestrator. retrieval and events may be nil.
func New(routing Routing, generator Generator, retrieval Retrieval, engine RuleChecker, records RecordStore, events storage.EventWriter, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		routing:   routing,
		generator: generator,
		retrieval: retrieval,
		engine:    engine,
		scorer:    risk.NewScorer(),
		records:   records,
		events:    events,
		logger:    logger,
		newID:     func() string { return uuid.New().String() },
	}
}

// QueryRequest is one user question to gate.
type QueryRequest struct {
	UserID        string          `json:"user_id"`
	Question      string          `json:"question"`
	Context       []model.Message `json:"context,omitempty"`
	ExplicitTools []string        `json:"explicit_tools,omitempty"`
}

// RoutingInfo explains which tools were offered to the model and why.
type RoutingInfo struct {
	DetectedIntents []string `json:"detected_intents"`
	ActiveDomains   []string `json:"active_domains"`
	ToolCount       int      `json:"tool_count"`
}

// ToolCallDecision is the gating verdict for one drafted tool call.
type ToolCallDecision struct {
	RecordID             string         `json:"record_id"`
	ToolCallID           string         `json:"tool_call_id"`
	ToolName             string         `json:"tool_name"`
	Parameters           map[string]any `json:"parameters"`
	Blocked              bool           `json:"blocked"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	RiskScore            float64        `json:"risk_score"`
	RiskLevel            string         `json:"risk_level"`
	ConfirmationMessage  string         `json:"confirmation_message,omitempty"`
	RiskReasons          []string       `json:"risk_reasons,omitempty"`
	RuleMessages         []string       `json:"rule_messages,omitempty"`
	ArgumentIssues       []string       `json:"argument_issues,omitempty"`
	HistoricalInsights   []string       `json:"historical_insights,omitempty"`
	SimilarCaseCount     int            `json:"similar_case_count"`
}

// QueryResponse is the aggregate verdict for one question.
type QueryResponse struct {
	RequestID            string             `json:"request_id"`
	Content              string             `json:"content,omitempty"`
	RequiresConfirmation bool               `json:"requires_confirmation"`
	RiskScore            float64            `json:"risk_score"`
	ToolCalls            []ToolCallDecision `json:"tool_calls,omitempty"`
	Routing              RoutingInfo        `json:"routing_info"`
}

// Process gates one question end to end. Each drafted tool call is
// evaluated independently so one bad draft never hides the others; the
// aggregate requires confirmation when any decision does and carries the
// highest individual score.
func (o *Orchestrator) Process(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	return o.process(ctx, req, nil)
}

func (o *Orchestrator) process(ctx context.Context, req QueryRequest, emit func(ProgressEvent)) (*QueryResponse, error) {
	requestID := o.newID()
	o.logger.Info("processing query",
		zap.String("request_id", requestID),
		zap.String("user_id", req.UserID),
	)

	routed := o.routing.Route(ctx, req.Question, req.UserID, req.ExplicitTools)
	info := RoutingInfo{
		DetectedIntents: routed.DetectedIntents,
		ActiveDomains:   routed.ActiveDomains,
		ToolCount:       len(routed.Tools),
	}
	o.send(emit, ProgressEvent{Stage: StageRouting, RequestID: requestID, Routing: &info})

	messages := append(append([]model.Message{}, req.Context...), model.Message{
		Role:    model.RoleUser,
		Content: req.Question,
	})
	resp, err := o.generator.Generate(ctx, messages, toolDefinitions(routed.Tools))
	if err != nil {
		return nil, fmt.Errorf("Process: %w", err)
	}
	o.send(emit, ProgressEvent{Stage: StageGeneration, RequestID: requestID, DraftCount: len(resp.ToolCalls)})

	out := &QueryResponse{
		RequestID: requestID,
		Content:   resp.Content,
		Routing:   info,
	}
	if len(resp.ToolCalls) == 0 {
		return out, nil
	}

	for _, call := range resp.ToolCalls {
		decision := o.processToolCall(ctx, requestID, req, routed, call, emit)
		out.ToolCalls = append(out.ToolCalls, decision)
		if decision.RequiresConfirmation {
			out.RequiresConfirmation = true
		}
		if decision.RiskScore > out.RiskScore {
			out.RiskScore = decision.RiskScore
		}
	}
	return out, nil
}

func (o *Orchestrator) processToolCall(ctx context.Context, requestID string, req QueryRequest, routed router.Routed, call model.ToolCall, emit func(ProgressEvent)) ToolCallDecision {
	started := time.Now()
	recordID := o.newID()
	decision := ToolCallDecision{
		RecordID:   recordID,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
	}

	params, issues := parseArguments(call.Function.Arguments, call.Function.Name, routed.Tools)
	decision.Parameters = params
	decision.ArgumentIssues = issues

	var cases []history.Case
	if o.retrieval != nil {
		cases = o.retrieval.RetrieveSimilarCases(ctx, req.Question, req.UserID)
	}
	analysis := history.Analyze(cases)
	decision.SimilarCaseCount = len(cases)
	decision.HistoricalInsights = analysis.CommonPatterns
	o.send(emit, ProgressEvent{Stage: StageRetrieval, RequestID: requestID, ToolName: call.Function.Name, SimilarCases: len(cases)})

	check := o.engine.Check(call.Function.Name, params)
	decision.RuleMessages = check.Messages
	o.send(emit, ProgressEvent{Stage: StageRuleCheck, RequestID: requestID, ToolName: call.Function.Name, Blocked: check.Blocked})

	if check.Blocked {
		decision.Blocked = true
		decision.RiskScore = 1.0
		decision.RiskLevel = risk.LevelHigh
		o.logger.Warn("tool call blocked",
			zap.String("request_id", requestID),
			zap.String("tool_name", call.Function.Name),
		)
		o.finishDecision(ctx, requestID, req, &decision, check, analysis, cases, started, emit)
		return decision
	}

	assessment := o.scorer.Score(call.Function.Name, params, analysis, check)
	decision.RiskScore = assessment.Score
	decision.RiskLevel = assessment.Level
	decision.RiskReasons = assessment.Reasons
	decision.RequiresConfirmation = assessment.RequiresConfirmation || len(issues) > 0
	o.send(emit, ProgressEvent{Stage: StageRiskAssessment, RequestID: requestID, ToolName: call.Function.Name, RiskScore: assessment.Score, RiskLevel: assessment.Level})

	if decision.RequiresConfirmation {
		decision.ConfirmationMessage = buildConfirmationMessage(call.Function.Name, params, assessment, analysis, check)
	}

	o.finishDecision(ctx, requestID, req, &decision, check, analysis, cases, started, emit)
	return decision
}

// finishDecision persists the audit record, indexes the question
// embedding, and emits the decision event. The confirmation progress
// event goes out first so streaming consumers never wait on storage.
// Persistence failures degrade to warnings so a storage outage never
// turns into an unsafe verdict.
func (o *Orchestrator) finishDecision(ctx context.Context, requestID string, req QueryRequest, decision *ToolCallDecision, check rules.CheckResult, analysis history.Analysis, cases []history.Case, started time.Time, emit func(ProgressEvent)) {
	if decision.RequiresConfirmation {
		o.send(emit, ProgressEvent{
			Stage:     StageConfirmationRequired,
			RequestID: requestID,
			ToolName:  decision.ToolName,
			RiskScore: decision.RiskScore,
			RiskLevel: decision.RiskLevel,
			Message:   decision.ConfirmationMessage,
		})
	}

	similarIDs := make([]string, 0, len(cases))
	for _, c := range cases {
		similarIDs = append(similarIDs, c.Record.RequestID)
	}
	ruleIDs := make([]string, 0, len(check.MatchedRules))
	for _, m := range check.MatchedRules {
		ruleIDs = append(ruleIDs, m.ID)
	}

	if o.records != nil {
		rec := &store.ToolCallRecord{
			RequestID:            decision.RecordID,
			UserID:               req.UserID,
			Question:             req.Question,
			ToolName:             decision.ToolName,
			Parameters:           decision.Parameters,
			RiskScore:            decision.RiskScore,
			RiskLevel:            decision.RiskLevel,
			RequiresConfirmation: decision.RequiresConfirmation,
			ConfirmationReason:   decision.ConfirmationMessage,
			MatchedRuleIDs:       ruleIDs,
			BlacklistHit:         check.BlacklistHit,
			SimilarHistoryIDs:    similarIDs,
		}
		if err := o.records.CreateRecord(ctx, rec); err != nil {
			o.logger.Warn("audit record write failed",
				zap.String("record_id", decision.RecordID),
				zap.Error(err),
			)
		} else if o.retrieval != nil {
			o.retrieval.StoreQuestionEmbedding(ctx, req.Question, decision.RecordID)
		}
	}

	if o.events != nil {
		argsJSON, _ := json.Marshal(decision.Parameters)
		o.events.Write(&storage.DecisionEvent{
			RequestID:            decision.RecordID,
			UserID:               req.UserID,
			Timestamp:            started,
			Question:             req.Question,
			QuestionPreview:      storage.TruncateQuestion(req.Question, storage.QuestionPreviewLength),
			ToolName:             decision.ToolName,
			ToolArguments:        string(argsJSON),
			RiskScore:            float32(decision.RiskScore),
			RiskLevel:            decision.RiskLevel,
			RequiresConfirmation: decision.RequiresConfirmation,
			BlacklistHit:         check.BlacklistHit,
			Blocked:              decision.Blocked,
			MatchedRuleIDs:       ruleIDs,
			SimilarCaseCount:     uint32(len(cases)),
			HistoricalIndication: analysis.RiskIndication,
			DetectedIntents:      nil,
			Reasons:              decision.RiskReasons,
			LatencyMs:            float32(time.Since(started).Seconds() * 1000),
		})
	}
}

// ConfirmRequest is the user's verdict on a pending decision.
type ConfirmRequest struct {
	RecordID  string `json:"record_id"`
	UserID    string `json:"user_id"`
	Confirmed bool   `json:"confirmed"`
	Feedback  string `json:"feedback,omitempty"`
}

// Actions returned by Confirm.
const (
	ActionExecute = "execute"
	ActionCancel  = "cancel"
)

// ConfirmResult tells the caller what to do next.
type ConfirmResult struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Confirm records the user's verdict. Unknown record ids fail with
// ErrRecordNotFound.
func (o *Orchestrator) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	found, err := o.records.UpdateConfirmation(ctx, req.RecordID, req.Confirmed, req.Feedback)
	if err != nil {
		return nil, fmt.Errorf("Confirm: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("Confirm: %w", ErrRecordNotFound)
	}

	o.logger.Info("tool call confirmation recorded",
		zap.String("record_id", req.RecordID),
		zap.Bool("confirmed", req.Confirmed),
	)
	if req.Confirmed {
		return &ConfirmResult{Action: ActionExecute, Message: "tool call confirmed, proceed with execution"}, nil
	}
	return &ConfirmResult{Action: ActionCancel, Message: "tool call cancelled"}, nil
}

// ExecutionReport is the caller's account of what running the tool did.
type ExecutionReport struct {
	RecordID string         `json:"record_id"`
	Success  bool           `json:"success"`
	Result   map[string]any `json:"result,omitempty"`
}

// RecordExecution stores the execution outcome. Reports for decisions
// that required confirmation but never received one are still recorded,
// with a warning, so the audit trail reflects what actually happened.
func (o *Orchestrator) RecordExecution(ctx context.Context, report ExecutionReport) error {
	rec, err := o.records.GetRecord(ctx, report.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("RecordExecution: %w", ErrRecordNotFound)
		}
		return fmt.Errorf("RecordExecution: %w", err)
	}
	if rec.RequiresConfirmation && (rec.UserConfirmed == nil || !*rec.UserConfirmed) {
		o.logger.Warn("execution reported without confirmation",
			zap.String("record_id", report.RecordID),
			zap.String("tool_name", rec.ToolName),
		)
	}

	found, err := o.records.UpdateExecution(ctx, report.RecordID, report.Success, report.Result)
	if err != nil {
		return fmt.Errorf("RecordExecution: %w", err)
	}
	if !found {
		return fmt.Errorf("RecordExecution: %w", ErrRecordNotFound)
	}
	o.logger.Info("execution result recorded",
		zap.String("record_id", report.RecordID),
		zap.Bool("success", report.Success),
	)
	return nil
}

func (o *Orchestrator) send(emit func(ProgressEvent), ev ProgressEvent) {
	if emit != nil {
		emit(ev)
	}
}

func toolDefinitions(tools []catalog.Tool) []model.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}
