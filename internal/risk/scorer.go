// Package risk scores proposed tool calls by combining name severity,
// parameter sensitivity, historical outcomes, and matched rule weights.
package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Malowking/mcp-sentinel/internal/history"
	"github.com/Malowking/mcp-sentinel/internal/rules"
)

// Risk levels in ascending order of required caution.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Component weights. They sum to 1 so the final score stays in [0, 1].
const (
	weightBase       = 0.3
	weightParameters = 0.2
	weightHistory    = 0.3
	weightRules      = 0.2
)

// Thresholds on the combined score.
const (
	ConfirmationThreshold = 0.6
	HighRiskThreshold     = 0.8
)

// severityEntry maps an operation keyword to its base severity.
type severityEntry struct {
	keyword  string
	severity float64
}

// Ordered by keyword, longest first, so the most specific operation wins
// when a tool name contains several keywords.
var severityTable = []severityEntry{
	{"truncate", 0.95},
	{"payment", 0.9},
	{"transfer", 0.9},
	{"execute", 0.85},
	{"format", 1.0},
	{"delete", 0.9},
	{"remove", 0.9},
	{"update", 0.6},
	{"modify", 0.6},
	{"insert", 0.5},
	{"search", 0.1},
	{"write", 0.5},
	{"query", 0.2},
	{"drop", 0.95},
	{"exec", 0.85},
	{"eval", 0.85},
	{"send", 0.5},
	{"post", 0.5},
	{"read", 0.1},
	{"list", 0.1},
	{"get", 0.1},
}

const defaultSeverity = 0.3

// Sensitive markers checked against parameter names and values.
var sensitiveMarkers = []string{
	"password", "secret", "token", "key", "credential",
	"root", "admin", "system", "sudo",
	"*", "all", "recursive", "force",
}

const sensitiveParamWeight = 0.3

// maxRuleReasons caps how many matched rules appear in the reason list.
const maxRuleReasons = 2

// Historical risk indications mapped onto the score scale.
var historyScores = map[string]float64{
	history.IndicationLow:     0.2,
	history.IndicationMedium:  0.5,
	history.IndicationHigh:    0.8,
	history.IndicationUnknown: 0.3,
}

// Assessment is the scored outcome for one proposed tool call.
type Assessment struct {
	Score                float64  `json:"score"`
	Level                string   `json:"level"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	BaseSeverity         float64  `json:"base_severity"`
	ParameterRisk        float64  `json:"parameter_risk"`
	HistoricalRisk       float64  `json:"historical_risk"`
	RuleRisk             float64  `json:"rule_risk"`
	Reasons              []string `json:"reasons"`
}

// Scorer combines the four risk components into one assessment.
type Scorer struct{}

// NewScorer returns a Scorer with the standard weights.
func NewScorer() *Scorer { return &Scorer{} }

// Score assesses a proposed call. The rule component takes the largest
// matched rule weight, or 1.0 outright when the blacklist fired.
func (s *Scorer) Score(toolName string, params map[string]any, analysis history.Analysis, check rules.CheckResult) Assessment {
	var reasons []string

	base, keyword := baseSeverity(toolName)
	if keyword != "" {
		reasons = append(reasons, fmt.Sprintf("operation %q carries base severity %.2f", keyword, base))
	}

	paramRisk, sensitive := parameterRisk(params)
	for _, name := range sensitive {
		reasons = append(reasons, fmt.Sprintf("sensitive parameter %q", name))
	}

	histRisk := historyScores[analysis.RiskIndication]
	if analysis.HasHistory {
		reasons = append(reasons, fmt.Sprintf("history of %d similar cases indicates %s risk", analysis.TotalCases, analysis.RiskIndication))
	} else {
		reasons = append(reasons, "no similar history found")
	}

	ruleRisk := 0.0
	if check.BlacklistHit {
		ruleRisk = 1.0
		reasons = append(reasons, "blacklist hit")
	} else {
		for _, m := range check.MatchedRules {
			if m.RiskWeight > ruleRisk {
				ruleRisk = m.RiskWeight
			}
		}
		// At most two rules are worth naming in the prompt.
		for i, m := range check.MatchedRules {
			if i == maxRuleReasons {
				break
			}
			reasons = append(reasons, fmt.Sprintf("matched rule %q (weight %.2f)", m.Name, m.RiskWeight))
		}
	}

	score := weightBase*base + weightParameters*paramRisk + weightHistory*histRisk + weightRules*ruleRisk
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	level := LevelLow
	switch {
	case score >= HighRiskThreshold:
		level = LevelHigh
	case score >= ConfirmationThreshold:
		level = LevelMedium
	}

	return Assessment{
		Score:                score,
		Level:                level,
		RequiresConfirmation: score >= ConfirmationThreshold || check.ForceConfirm || check.Blocked,
		BaseSeverity:         base,
		ParameterRisk:        paramRisk,
		HistoricalRisk:       histRisk,
		RuleRisk:             ruleRisk,
		Reasons:              reasons,
	}
}

// baseSeverity resolves the tool name to a base severity. The longest
// matching keyword wins so "execute_query" scores as execute, not query.
func baseSeverity(toolName string) (float64, string) {
	lower := strings.ToLower(toolName)
	best := ""
	severity := defaultSeverity
	for _, e := range severityTable {
		if strings.Contains(lower, e.keyword) && len(e.keyword) > len(best) {
			best = e.keyword
			severity = e.severity
		}
	}
	return severity, best
}

// parameterRisk adds a fixed increment for every parameter whose name or
// value carries a sensitive marker, capped at 1.0. Parameter names are
// walked in sorted order so reasons are deterministic.
func parameterRisk(params map[string]any) (float64, []string) {
	if len(params) == 0 {
		return 0, nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0.0
	var flagged []string
	for _, name := range names {
		if isSensitive(name) || isSensitive(fmt.Sprintf("%v", params[name])) {
			total += sensitiveParamWeight
			flagged = append(flagged, name)
		}
	}
	if total > 1 {
		total = 1
	}
	return total, flagged
}

func isSensitive(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
