package rules

// Action is what a matched rule does to the call.
type Action string

const (
	ActionLog          Action = "log"
	ActionForceConfirm Action = "force_confirm"
	ActionBlock        Action = "block"
)

// Condition describes when a rule matches. ToolNamePattern is a regex
// matched case-insensitively against the tool name; ParameterChecks maps a
// parameter name to a regex matched case-insensitively against its
// stringified value. A rule matches only when every declared check matches
// a parameter that is actually present.
type Condition struct {
	ToolNamePattern string            `json:"tool_name_pattern,omitempty"`
	ParameterChecks map[string]string `json:"parameter_check,omitempty"`
}

// Rule is a single conditional rule. RiskWeight feeds the risk scorer when
// the rule matches.
type Rule struct {
	ID         string    `json:"rule_id"`
	Name       string    `json:"name"`
	Condition  Condition `json:"condition"`
	Action     Action    `json:"action"`
	RiskWeight float64   `json:"risk_weight"`
	Message    string    `json:"message,omitempty"`
}

// MatchedRule is the closed record exposed for a rule that matched,
// consumed by the risk scorer and the confirmation prompt.
type MatchedRule struct {
	ID         string  `json:"rule_id"`
	Name       string  `json:"name"`
	Action     Action  `json:"action"`
	RiskWeight float64 `json:"risk_weight"`
	Message    string  `json:"message,omitempty"`
}

// BlockedTool is a blacklist entry matched against tool names. Pattern is
// tried as an exact name first, then as a regex.
type BlockedTool struct {
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
}

// BlockedParameter is a blacklist entry matched against "key=value"
// renderings of every parameter.
type BlockedParameter struct {
	Pattern       string `json:"pattern"`
	CaseSensitive bool   `json:"case_sensitive"`
	Reason        string `json:"reason"`
}

// Blacklist is the full set of terminal block patterns.
type Blacklist struct {
	BlockedTools      []BlockedTool      `json:"blocked_tools"`
	BlockedParameters []BlockedParameter `json:"blocked_parameters"`
}

// CheckResult is the outcome of evaluating one proposed call. A blacklist
// hit is terminal: Blocked is set, rule evaluation is skipped, and the call
// must never be offered for confirmation.
type CheckResult struct {
	BlacklistHit bool
	Blocked      bool
	ForceConfirm bool
	MatchedRules []MatchedRule
	Messages     []string
}
