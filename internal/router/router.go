// Package router selects the minimal relevant tool set for a query.
//
// Routing is layered: core-layer tools are always offered, domain-layer
// tools are added when the question matches a domain's intent keywords,
// and explicitly named or user-preferred tools are merged in last.
// Services with an open circuit breaker never contribute tools.
package router

import (
	"context"
	"strings"

	"github.com/Malowking/mcp-sentinel/internal/catalog"
	"go.uber.org/zap"
)

// PreferenceStore resolves a user's persisted preferred tool names.
type PreferenceStore interface {
	GetPreferredTools(ctx context.Context, userID string) ([]string, error)
}

// intentEntry maps one domain to its trigger keywords. The table is ordered
// so detected intents are deterministic for a given question.
type intentEntry struct {
	domain   string
	keywords []string
}

// intentTable is the fixed domain → keyword mapping used for intent
// detection. Matching is case-insensitive substring containment.
var intentTable = []intentEntry{
	{"weather", []string{"weather", "temperature", "forecast", "rain", "sunny"}},
	{"email", []string{"email", "mail", "send", "inbox"}},
	{"file", []string{"file", "directory", "folder", "path"}},
	{"database", []string{"database", "query", "sql", "table"}},
	{"network", []string{"network", "request", "api", "http", "url"}},
	{"calculation", []string{"calculate", "math", "sum", "average"}},
}

// generalIntent is the synthetic intent used when nothing matches.
const generalIntent = "general"

// Routed is the outcome of routing one question.
type Routed struct {
	Tools           []catalog.Tool
	DetectedIntents []string
	ActiveDomains   []string
}

// Router builds tool sets from the service catalog.
type Router struct {
	registry *catalog.Registry
	prefs    PreferenceStore // nil disables user preferences
	logger   *zap.Logger
}

// New creates a Router. prefs may be nil.
func New(registry *catalog.Registry, prefs PreferenceStore, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{registry: registry, prefs: prefs, logger: logger}
}

// Route selects tools for the question. Core tools always lead; the result
// is deduplicated by tool name with first-seen order winning. Explicit tool
// names bypass intent-based domain collection but intents are still
// reported for explainability.
func (r *Router) Route(ctx context.Context, question, userID string, explicitTools []string) Routed {
	routable := r.registry.Routable()

	out := Routed{DetectedIntents: detectIntents(question)}

	var merged []catalog.Tool
	for _, svc := range routable {
		if svc.Layer == catalog.LayerCore {
			merged = append(merged, svc.Tools...)
		}
	}

	if len(explicitTools) > 0 {
		merged = append(merged, toolsByName(routable, explicitTools)...)
	} else {
		for _, intent := range out.DetectedIntents {
			domainTools := toolsForDomain(routable, intent)
			if len(domainTools) > 0 {
				out.ActiveDomains = append(out.ActiveDomains, intent)
				merged = append(merged, domainTools...)
			}
		}
	}

	if userID != "" && r.prefs != nil {
		preferred, err := r.prefs.GetPreferredTools(ctx, userID)
		if err != nil {
			r.logger.Warn("preferred tools lookup failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		} else if len(preferred) > 0 {
			merged = append(merged, toolsByName(routable, preferred)...)
		}
	}

	out.Tools = dedupeByName(merged)

	r.logger.Debug("tool routing complete",
		zap.Int("tools", len(out.Tools)),
		zap.Strings("intents", out.DetectedIntents),
		zap.Strings("domains", out.ActiveDomains),
	)
	return out
}

// detectIntents returns every domain whose keywords appear in the question,
// in table order. No match yields the synthetic general intent.
func detectIntents(question string) []string {
	q := strings.ToLower(question)
	var detected []string
	for _, entry := range intentTable {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				detected = append(detected, entry.domain)
				break
			}
		}
	}
	if len(detected) == 0 {
		detected = []string{generalIntent}
	}
	return detected
}

func toolsForDomain(services []catalog.Service, domain string) []catalog.Tool {
	var out []catalog.Tool
	for _, svc := range services {
		if svc.Layer == catalog.LayerDomain && svc.Domain == domain {
			out = append(out, svc.Tools...)
		}
	}
	return out
}

// toolsByName resolves explicit names against every routable service,
// including the high-risk layer: naming a tool is the only way it routes.
func toolsByName(services []catalog.Service, names []string) []catalog.Tool {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []catalog.Tool
	for _, svc := range services {
		for _, tool := range svc.Tools {
			if wanted[tool.Name] {
				out = append(out, tool)
			}
		}
	}
	return out
}

func dedupeByName(tools []catalog.Tool) []catalog.Tool {
	seen := make(map[string]bool, len(tools))
	out := make([]catalog.Tool, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == "" || seen[tool.Name] {
			continue
		}
		seen[tool.Name] = true
		out = append(out, tool)
	}
	return out
}
