// Package api exposes the gating pipeline over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/Malowking/mcp-sentinel/internal/auth"
	"github.com/Malowking/mcp-sentinel/internal/catalog"
	"github.com/Malowking/mcp-sentinel/internal/orchestrator"
	"github.com/Malowking/mcp-sentinel/internal/rules"
	"github.com/Malowking/mcp-sentinel/internal/store"
	"go.uber.org/zap"
)

// Gate is the orchestrator surface the handlers consume.
type Gate interface {
	Process(ctx context.Context, req orchestrator.QueryRequest) (*orchestrator.QueryResponse, error)
	ProcessStream(ctx context.Context, req orchestrator.QueryRequest) <-chan orchestrator.ProgressEvent
	Confirm(ctx context.Context, req orchestrator.ConfirmRequest) (*orchestrator.ConfirmResult, error)
	RecordExecution(ctx context.Context, report orchestrator.ExecutionReport) error
}

// RuleAdmin is the rule-engine surface the handlers consume.
type RuleAdmin interface {
	AddRule(rule rules.Rule) error
	RemoveRule(ruleID string) bool
	Rules() []rules.Rule
	Reload() error
}

// HistoryReader lists a user's past decisions.
type HistoryReader interface {
	ListUserRecords(ctx context.Context, userID string, limit int) ([]*store.ToolCallRecord, error)
}

// PreferenceAdmin reads and writes per-user preferred tools.
type PreferenceAdmin interface {
	GetPreferredTools(ctx context.Context, userID string) ([]string, error)
	SetPreferredTools(ctx context.Context, userID string, tools []string) error
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Gate     Gate
	Registry *catalog.Registry
	Rules    RuleAdmin
	History  HistoryReader   // nil disables the history endpoint
	Prefs    PreferenceAdmin // nil disables preference endpoints
	Auth     auth.Authenticator
	Logger   *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Gating endpoints (auth required via Bearer msk_ token)
	mux.HandleFunc("POST /api/v1/query", deps.authMiddleware(deps.handleQuery))
	mux.HandleFunc("POST /api/v1/query/stream", deps.authMiddleware(deps.handleQueryStream))
	mux.HandleFunc("POST /api/v1/confirm", deps.authMiddleware(deps.handleConfirm))
	mux.HandleFunc("POST /api/v1/execution", deps.authMiddleware(deps.handleExecution))

	// Service catalog
	mux.HandleFunc("POST /api/v1/services/register", deps.authMiddleware(deps.handleRegisterService))
	mux.HandleFunc("GET /api/v1/services", deps.authMiddleware(deps.handleListServices))
	mux.HandleFunc("GET /api/v1/services/{name}/status", deps.authMiddleware(deps.handleServiceStatus))
	mux.HandleFunc("POST /api/v1/services/{name}/deactivate", deps.authMiddleware(deps.handleDeactivateService))

	// Rule administration
	mux.HandleFunc("GET /api/v1/rules", deps.authMiddleware(deps.handleListRules))
	mux.HandleFunc("POST /api/v1/rules", deps.authMiddleware(deps.handleAddRule))
	mux.HandleFunc("DELETE /api/v1/rules/{rule_id}", deps.authMiddleware(deps.handleRemoveRule))
	mux.HandleFunc("POST /api/v1/rules/reload", deps.authMiddleware(deps.handleReloadRules))

	// History and preferences
	mux.HandleFunc("GET /api/v1/history/{user_id}", deps.authMiddleware(deps.handleUserHistory))
	mux.HandleFunc("GET /api/v1/users/{user_id}/preferred-tools", deps.authMiddleware(deps.handleGetPreferredTools))
	mux.HandleFunc("PUT /api/v1/users/{user_id}/preferred-tools", deps.authMiddleware(deps.handleSetPreferredTools))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
