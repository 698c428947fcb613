package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrInvalidRule is returned for rules missing an id or condition,
	// or carrying a pattern that does not compile.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrDuplicateRule is returned when a rule id is already present.
	ErrDuplicateRule = errors.New("duplicate rule id")
)

// Source supplies rule and blacklist definitions for Reload.
type Source interface {
	Load() ([]Rule, Blacklist, error)
}

type compiledRule struct {
	rule        Rule
	namePattern *regexp.Regexp // nil when the rule has no tool-name condition
	paramChecks map[string]*regexp.Regexp
}

type compiledBlockedTool struct {
	exact   string
	pattern *regexp.Regexp // nil when the entry is not a valid regex
	reason  string
}

type compiledBlockedParam struct {
	pattern *regexp.Regexp
	reason  string
}

// ruleSet is an immutable compiled snapshot. Engine swaps whole snapshots
// atomically so an in-flight Check never observes a partially built set.
type ruleSet struct {
	rules         []compiledRule
	blockedTools  []compiledBlockedTool
	blockedParams []compiledBlockedParam
}

// Engine evaluates the blacklist and conditional rules against proposed
// tool calls. Reads are lock-free; mutations build a new snapshot and
// publish it with a single atomic swap.
type Engine struct {
	current atomic.Pointer[ruleSet]
	mu      sync.Mutex // serializes mutations
	source  Source     // nil disables Reload
	logger  *zap.Logger
}

// NewEngine creates an engine with the given initial definitions.
func NewEngine(rules []Rule, blacklist Blacklist, source Source, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{source: source, logger: logger}
	e.current.Store(e.compile(rules, blacklist))
	logger.Info("rule engine initialized",
		zap.Int("rules", len(rules)),
		zap.Int("blocked_tools", len(blacklist.BlockedTools)),
		zap.Int("blocked_parameters", len(blacklist.BlockedParameters)),
	)
	return e
}

// Check evaluates one proposed call. The blacklist is tested first and a
// hit short-circuits with Blocked set; otherwise every rule is evaluated
// in definition order and accumulated.
func (e *Engine) Check(toolName string, parameters map[string]any) CheckResult {
	set := e.current.Load()
	result := CheckResult{}

	if reason, hit := set.checkBlacklist(toolName, parameters); hit {
		result.BlacklistHit = true
		result.Blocked = true
		result.Messages = append(result.Messages, reason)
		e.logger.Warn("tool call hit blacklist",
			zap.String("tool", toolName),
			zap.String("reason", reason),
		)
		return result
	}

	for _, cr := range set.rules {
		if !cr.matches(toolName, parameters) {
			continue
		}
		result.MatchedRules = append(result.MatchedRules, MatchedRule{
			ID:         cr.rule.ID,
			Name:       cr.rule.Name,
			Action:     cr.rule.Action,
			RiskWeight: cr.rule.RiskWeight,
			Message:    cr.rule.Message,
		})
		switch cr.rule.Action {
		case ActionBlock:
			result.Blocked = true
		case ActionForceConfirm:
			result.ForceConfirm = true
		}
		result.Messages = append(result.Messages, "matched rule: "+displayName(cr.rule))
	}

	if len(result.MatchedRules) > 0 {
		e.logger.Debug("rules matched",
			zap.String("tool", toolName),
			zap.Int("count", len(result.MatchedRules)),
		)
	}
	return result
}

// AddRule appends a rule to the live set. Rules missing an id or condition,
// or duplicating an existing id, are rejected.
func (e *Engine) AddRule(rule Rule) error {
	if rule.ID == "" || (rule.Condition.ToolNamePattern == "" && len(rule.Condition.ParameterChecks) == 0) {
		return fmt.Errorf("AddRule: %w: id and condition are required", ErrInvalidRule)
	}
	if _, err := compileRule(rule); err != nil {
		return fmt.Errorf("AddRule: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	set := e.current.Load()
	rules := make([]Rule, 0, len(set.rules)+1)
	for _, cr := range set.rules {
		if cr.rule.ID == rule.ID {
			return fmt.Errorf("AddRule: %w: %s", ErrDuplicateRule, rule.ID)
		}
		rules = append(rules, cr.rule)
	}
	rules = append(rules, rule)
	e.current.Store(e.compileWith(set, rules))

	e.logger.Info("rule added", zap.String("rule_id", rule.ID))
	return nil
}

// RemoveRule deletes a rule by id. Removing an absent rule reports false
// without error.
func (e *Engine) RemoveRule(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	set := e.current.Load()
	rules := make([]Rule, 0, len(set.rules))
	removed := false
	for _, cr := range set.rules {
		if cr.rule.ID == ruleID {
			removed = true
			continue
		}
		rules = append(rules, cr.rule)
	}
	if removed {
		e.current.Store(e.compileWith(set, rules))
		e.logger.Info("rule removed", zap.String("rule_id", ruleID))
	}
	return removed
}

// Rules returns the live rules in definition order.
func (e *Engine) Rules() []Rule {
	set := e.current.Load()
	out := make([]Rule, len(set.rules))
	for i, cr := range set.rules {
		out[i] = cr.rule
	}
	return out
}

// Reload rebuilds the rule and blacklist state from the source and swaps
// it in atomically. On source failure the previous set stays live.
func (e *Engine) Reload() error {
	if e.source == nil {
		return errors.New("Reload: no rule source configured")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rules, blacklist, err := e.source.Load()
	if err != nil {
		return fmt.Errorf("Reload: %w", err)
	}
	e.current.Store(e.compile(rules, blacklist))
	e.logger.Info("rules reloaded",
		zap.Int("rules", len(rules)),
		zap.Int("blocked_tools", len(blacklist.BlockedTools)),
	)
	return nil
}

// compile builds a snapshot, skipping entries whose patterns do not
// compile. Skips are logged, never fatal.
func (e *Engine) compile(rules []Rule, blacklist Blacklist) *ruleSet {
	set := &ruleSet{}
	for _, rule := range rules {
		cr, err := compileRule(rule)
		if err != nil {
			e.logger.Warn("skipping rule with invalid pattern",
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
			continue
		}
		set.rules = append(set.rules, cr)
	}
	for _, bt := range blacklist.BlockedTools {
		cbt := compiledBlockedTool{exact: bt.ToolName, reason: bt.Reason}
		if pat, err := regexp.Compile(bt.ToolName); err == nil {
			cbt.pattern = pat
		}
		set.blockedTools = append(set.blockedTools, cbt)
	}
	for _, bp := range blacklist.BlockedParameters {
		expr := bp.Pattern
		if !bp.CaseSensitive {
			expr = "(?i)" + expr
		}
		pat, err := regexp.Compile(expr)
		if err != nil {
			e.logger.Warn("skipping blacklist parameter with invalid pattern",
				zap.String("pattern", bp.Pattern),
				zap.Error(err),
			)
			continue
		}
		set.blockedParams = append(set.blockedParams, compiledBlockedParam{pattern: pat, reason: bp.Reason})
	}
	return set
}

// compileWith rebuilds the rule list while reusing the snapshot's compiled
// blacklist.
func (e *Engine) compileWith(prev *ruleSet, rules []Rule) *ruleSet {
	set := &ruleSet{
		blockedTools:  prev.blockedTools,
		blockedParams: prev.blockedParams,
	}
	for _, rule := range rules {
		cr, err := compileRule(rule)
		if err != nil {
			continue // validated on the way in
		}
		set.rules = append(set.rules, cr)
	}
	return set
}

func compileRule(rule Rule) (compiledRule, error) {
	cr := compiledRule{rule: rule}
	if p := rule.Condition.ToolNamePattern; p != "" {
		pat, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return cr, fmt.Errorf("%w: tool_name_pattern: %v", ErrInvalidRule, err)
		}
		cr.namePattern = pat
	}
	if len(rule.Condition.ParameterChecks) > 0 {
		cr.paramChecks = make(map[string]*regexp.Regexp, len(rule.Condition.ParameterChecks))
		for name, expr := range rule.Condition.ParameterChecks {
			pat, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return cr, fmt.Errorf("%w: parameter_check %q: %v", ErrInvalidRule, name, err)
			}
			cr.paramChecks[name] = pat
		}
	}
	return cr, nil
}

func (cr compiledRule) matches(toolName string, parameters map[string]any) bool {
	if cr.namePattern != nil && !cr.namePattern.MatchString(toolName) {
		return false
	}
	for name, pat := range cr.paramChecks {
		value, ok := parameters[name]
		if !ok {
			return false
		}
		if !pat.MatchString(fmt.Sprintf("%v", value)) {
			return false
		}
	}
	return true
}

func (s *ruleSet) checkBlacklist(toolName string, parameters map[string]any) (string, bool) {
	for _, bt := range s.blockedTools {
		if toolName == bt.exact || (bt.pattern != nil && bt.pattern.MatchString(toolName)) {
			return blockReason("blacklisted tool", bt.reason), true
		}
	}
	for _, bp := range s.blockedParams {
		for name, value := range parameters {
			if bp.pattern.MatchString(fmt.Sprintf("%s=%v", name, value)) {
				return blockReason("blocked parameter", bp.reason), true
			}
		}
	}
	return "", false
}

func blockReason(kind, reason string) string {
	if reason == "" {
		return kind
	}
	return kind + ": " + reason
}

func displayName(rule Rule) string {
	if rule.Name != "" {
		return rule.Name
	}
	return rule.ID
}
