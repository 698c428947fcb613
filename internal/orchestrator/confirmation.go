package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Malowking/mcp-sentinel/internal/catalog"
	"github.com/Malowking/mcp-sentinel/internal/history"
	"github.com/Malowking/mcp-sentinel/internal/risk"
	"github.com/Malowking/mcp-sentinel/internal/rules"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// maxRulesInPrompt caps how many matched rules the confirmation prompt
// names.
const maxRulesInPrompt = 2

// buildConfirmationMessage composes the plain-text prompt shown to the
// user before a risky call runs. Parameter order is sorted so the same
// decision always renders the same prompt.
func buildConfirmationMessage(toolName string, params map[string]any, assessment risk.Assessment, analysis history.Analysis, check rules.CheckResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tool call pending approval: %s\n", toolName)
	fmt.Fprintf(&b, "Parameters: %s\n", formatParameters(params))
	fmt.Fprintf(&b, "Risk level: %s (score %.2f)\n", strings.ToUpper(assessment.Level), assessment.Score)

	if len(assessment.Reasons) > 0 {
		b.WriteString("Risk analysis:\n")
		for _, reason := range assessment.Reasons {
			fmt.Fprintf(&b, "  - %s\n", reason)
		}
	}

	if analysis.HasHistory {
		b.WriteString("Based on your past usage:\n")
		for _, pattern := range analysis.CommonPatterns {
			fmt.Fprintf(&b, "  - %s\n", pattern)
		}
		for _, pref := range analysis.UserPreferences {
			fmt.Fprintf(&b, "  - %s\n", pref)
		}
	}

	if len(check.MatchedRules) > 0 {
		b.WriteString("Triggered rules:\n")
		for i, m := range check.MatchedRules {
			if i == maxRulesInPrompt {
				break
			}
			fmt.Fprintf(&b, "  - %s\n", m.Name)
		}
	}

	b.WriteString("Confirm this operation?")
	return b.String()
}

func formatParameters(params map[string]any) string {
	if len(params) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, params[name]))
	}
	return strings.Join(parts, ", ")
}

// parseArguments decodes the drafted arguments and validates them against
// the routed tool's declared schema. Issues never abort the decision;
// they surface on the decision and force confirmation.
func parseArguments(argsJSON, toolName string, routed []catalog.Tool) (map[string]any, []string) {
	var issues []string

	params := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &params); err != nil {
			return map[string]any{}, []string{fmt.Sprintf("arguments are not valid JSON: %v", err)}
		}
	}

	var tool *catalog.Tool
	for i := range routed {
		if routed[i].Name == toolName {
			tool = &routed[i]
			break
		}
	}
	if tool == nil {
		issues = append(issues, fmt.Sprintf("tool %q is not in the routed tool set", toolName))
		return params, issues
	}
	if len(tool.Parameters) == 0 {
		return params, issues
	}

	if issue := validateSchema(params, tool.Parameters); issue != "" {
		issues = append(issues, issue)
	}
	return params, issues
}

func validateSchema(args map[string]any, schema map[string]any) string {
	// Round-trip through JSON so the schema document contains only the
	// plain types the compiler accepts.
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Sprintf("invalid tool schema: %v", err)
	}
	var schemaObj any
	if err := json.Unmarshal(schemaBytes, &schemaObj); err != nil {
		return fmt.Sprintf("schema unmarshal error: %v", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return fmt.Sprintf("schema compile error: %v", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Sprintf("schema compile error: %v", err)
	}

	argsBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}
	var argsObj any
	if err := json.Unmarshal(argsBytes, &argsObj); err != nil {
		return fmt.Sprintf("arguments unmarshal error: %v", err)
	}

	if err := sch.Validate(argsObj); err != nil {
		return fmt.Sprintf("schema validation failed: %v", err)
	}
	return ""
}
