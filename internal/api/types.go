package api

import (
	"time"

	"github.com/Malowking/mcp-sentinel/internal/catalog"
)

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// --- Service catalog ---

// RegisterServiceReq is the JSON body for POST /api/v1/services/register.
type RegisterServiceReq struct {
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	Description string         `json:"description,omitempty"`
	Layer       string         `json:"layer"`
	Domain      string         `json:"domain,omitempty"`
	Tools       []catalog.Tool `json:"tools"`
}

// ServiceResp is one catalog entry as reported over the API.
type ServiceResp struct {
	Name         string              `json:"name"`
	URL          string              `json:"url"`
	Description  string              `json:"description,omitempty"`
	Layer        string              `json:"layer"`
	Domain       string              `json:"domain,omitempty"`
	Active       bool                `json:"active"`
	Health       string              `json:"health"`
	Breaker      string              `json:"breaker"`
	ToolCount    int                 `json:"tool_count"`
	Metrics      catalog.CallMetrics `json:"metrics"`
	RegisteredAt time.Time           `json:"registered_at"`
}

// ServiceStatusResp is the detailed view for one service.
type ServiceStatusResp struct {
	ServiceResp
	Tools []catalog.Tool `json:"tools"`
}

// ServiceListResp wraps the catalog listing.
type ServiceListResp struct {
	Services []ServiceResp `json:"services"`
	Total    int           `json:"total"`
}

// --- History ---

// HistoryEntryResp is one audit record as reported over the API.
type HistoryEntryResp struct {
	RecordID             string         `json:"record_id"`
	ToolName             string         `json:"tool_name"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RiskScore            float64        `json:"risk_score"`
	RiskLevel            string         `json:"risk_level"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	BlacklistHit         bool           `json:"blacklist_hit"`
	UserConfirmed        *bool          `json:"user_confirmed,omitempty"`
	ExecutionSuccess     *bool          `json:"execution_success,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// HistoryListResp wraps a user's decision history.
type HistoryListResp struct {
	UserID  string             `json:"user_id"`
	Entries []HistoryEntryResp `json:"entries"`
	Total   int                `json:"total"`
}

// --- Preferences ---

// PreferredToolsReq is the JSON body for PUT .../preferred-tools.
type PreferredToolsReq struct {
	Tools []string `json:"tools"`
}

// PreferredToolsResp reports a user's preferred tools.
type PreferredToolsResp struct {
	UserID string   `json:"user_id"`
	Tools  []string `json:"tools"`
}

func serviceResp(svc catalog.Service) ServiceResp {
	return ServiceResp{
		Name:         svc.Name,
		URL:          svc.URL,
		Description:  svc.Description,
		Layer:        string(svc.Layer),
		Domain:       svc.Domain,
		Active:       svc.Active,
		Health:       string(svc.Health),
		Breaker:      string(svc.Breaker),
		ToolCount:    len(svc.Tools),
		Metrics:      svc.Metrics,
		RegisteredAt: svc.RegisteredAt,
	}
}
