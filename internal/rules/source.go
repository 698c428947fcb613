package rules

import (
	"encoding/json"
	"fmt"
	"os"
)

// FileSource loads rules and the blacklist from JSON files. Either path
// may be empty; the missing side loads as empty.
//
// rules file:     {"rules": [{"rule_id": ..., "condition": {...}, ...}]}
// blacklist file: {"blocked_tools": [...], "blocked_parameters": [...]}
type FileSource struct {
	RulesPath     string
	BlacklistPath string
}

type rulesFile struct {
	Rules []Rule `json:"rules"`
}

// Load implements Source.
func (s FileSource) Load() ([]Rule, Blacklist, error) {
	var rules []Rule
	if s.RulesPath != "" {
		data, err := os.ReadFile(s.RulesPath)
		if err != nil {
			return nil, Blacklist{}, fmt.Errorf("Load: rules file: %w", err)
		}
		var rf rulesFile
		if err := json.Unmarshal(data, &rf); err != nil {
			return nil, Blacklist{}, fmt.Errorf("Load: rules file: %w", err)
		}
		rules = rf.Rules
	}

	var blacklist Blacklist
	if s.BlacklistPath != "" {
		data, err := os.ReadFile(s.BlacklistPath)
		if err != nil {
			return nil, Blacklist{}, fmt.Errorf("Load: blacklist file: %w", err)
		}
		if err := json.Unmarshal(data, &blacklist); err != nil {
			return nil, Blacklist{}, fmt.Errorf("Load: blacklist file: %w", err)
		}
	}

	return rules, blacklist, nil
}
