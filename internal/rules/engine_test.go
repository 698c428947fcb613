package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func newTestEngine(rules []Rule, blacklist Blacklist) *Engine {
	return NewEngine(rules, blacklist, nil, nil)
}

func TestCheck_BlacklistToolExactAndRegex(t *testing.T) {
	e := newTestEngine(nil, Blacklist{
		BlockedTools: []BlockedTool{
			{ToolName: "format_disk", Reason: "destructive"},
			{ToolName: "^drop_.*", Reason: "schema changes forbidden"},
		},
	})

	tests := []struct {
		tool    string
		blocked bool
	}{
		{"format_disk", true},
		{"drop_table", true},
		{"drop_index", true},
		{"read_file", false},
	}
	for _, tt := range tests {
		got := e.Check(tt.tool, nil)
		if got.Blocked != tt.blocked {
			t.Errorf("Check(%s).Blocked = %v, want %v", tt.tool, got.Blocked, tt.blocked)
		}
		if got.Blocked && !got.BlacklistHit {
			t.Errorf("Check(%s) blocked without BlacklistHit", tt.tool)
		}
	}
}

func TestCheck_BlacklistParameterPattern(t *testing.T) {
	e := newTestEngine(nil, Blacklist{
		BlockedParameters: []BlockedParameter{
			{Pattern: `path=/etc/.*`, Reason: "system paths forbidden"},
		},
	})

	got := e.Check("read_file", map[string]any{"path": "/etc/shadow"})
	if !got.Blocked || !got.BlacklistHit {
		t.Fatalf("expected parameter blacklist hit, got %+v", got)
	}

	got = e.Check("read_file", map[string]any{"path": "/tmp/x"})
	if got.Blocked {
		t.Fatalf("unexpected block for safe path: %+v", got)
	}
}

func TestCheck_BlacklistCaseSensitivity(t *testing.T) {
	insensitive := newTestEngine(nil, Blacklist{
		BlockedParameters: []BlockedParameter{{Pattern: `user=ROOT`}},
	})
	if got := insensitive.Check("login", map[string]any{"user": "root"}); !got.Blocked {
		t.Error("case-insensitive pattern did not match lowercase value")
	}

	sensitive := newTestEngine(nil, Blacklist{
		BlockedParameters: []BlockedParameter{{Pattern: `user=ROOT`, CaseSensitive: true}},
	})
	if got := sensitive.Check("login", map[string]any{"user": "root"}); got.Blocked {
		t.Error("case-sensitive pattern matched lowercase value")
	}
}

func TestCheck_BlacklistPrecedesRules(t *testing.T) {
	// A force-confirm rule also matches, but the blacklist hit must be
	// terminal and bypass rule evaluation entirely.
	e := newTestEngine(
		[]Rule{{
			ID:        "r1",
			Name:      "confirm deletes",
			Condition: Condition{ToolNamePattern: "delete"},
			Action:    ActionForceConfirm,
		}},
		Blacklist{BlockedTools: []BlockedTool{{ToolName: "delete_file"}}},
	)

	got := e.Check("delete_file", map[string]any{"path": "/tmp/x"})
	if !got.Blocked || !got.BlacklistHit {
		t.Fatalf("expected blacklist block, got %+v", got)
	}
	if got.ForceConfirm {
		t.Error("blocked call must not carry a confirmation path")
	}
	if len(got.MatchedRules) != 0 {
		t.Errorf("rules evaluated despite blacklist hit: %v", got.MatchedRules)
	}
}

func TestCheck_RulesAccumulateInOrder(t *testing.T) {
	e := newTestEngine([]Rule{
		{ID: "r1", Name: "first", Condition: Condition{ToolNamePattern: "send"}, Action: ActionLog, RiskWeight: 0.2},
		{ID: "r2", Name: "second", Condition: Condition{ToolNamePattern: "send"}, Action: ActionForceConfirm, RiskWeight: 0.7},
		{ID: "r3", Name: "unrelated", Condition: Condition{ToolNamePattern: "delete"}, Action: ActionBlock},
	}, Blacklist{})

	got := e.Check("send_mail", map[string]any{"to": "ops@example.com"})
	if got.Blocked {
		t.Fatal("unrelated block rule applied")
	}
	if !got.ForceConfirm {
		t.Fatal("force_confirm action not applied")
	}
	ids := make([]string, len(got.MatchedRules))
	for i, mr := range got.MatchedRules {
		ids[i] = mr.ID
	}
	if !reflect.DeepEqual(ids, []string{"r1", "r2"}) {
		t.Errorf("matched rules = %v, want [r1 r2] in definition order", ids)
	}
}

func TestCheck_ParameterChecksRequirePresence(t *testing.T) {
	e := newTestEngine([]Rule{{
		ID:   "r1",
		Name: "recursive delete",
		Condition: Condition{
			ToolNamePattern: "delete",
			ParameterChecks: map[string]string{"recursive": "true"},
		},
		Action: ActionForceConfirm,
	}}, Blacklist{})

	if got := e.Check("delete_file", map[string]any{"path": "/tmp"}); len(got.MatchedRules) != 0 {
		t.Error("rule matched with its checked parameter absent")
	}
	if got := e.Check("delete_file", map[string]any{"recursive": true}); len(got.MatchedRules) != 1 {
		t.Error("rule did not match stringified boolean parameter")
	}
}

func TestCheck_Idempotent(t *testing.T) {
	e := newTestEngine([]Rule{{
		ID: "r1", Name: "n", Condition: Condition{ToolNamePattern: "x"}, Action: ActionLog, RiskWeight: 0.4,
	}}, Blacklist{})

	params := map[string]any{"a": 1}
	first := e.Check("x_tool", params)
	second := e.Check("x_tool", params)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Check not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestAddRule_Validation(t *testing.T) {
	e := newTestEngine(nil, Blacklist{})

	if err := e.AddRule(Rule{Name: "no id", Condition: Condition{ToolNamePattern: "x"}}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("missing id: got %v, want ErrInvalidRule", err)
	}
	if err := e.AddRule(Rule{ID: "r1"}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("missing condition: got %v, want ErrInvalidRule", err)
	}
	if err := e.AddRule(Rule{ID: "r1", Condition: Condition{ToolNamePattern: "("}}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("bad pattern: got %v, want ErrInvalidRule", err)
	}

	ok := Rule{ID: "r1", Condition: Condition{ToolNamePattern: "x"}}
	if err := e.AddRule(ok); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := e.AddRule(ok); !errors.Is(err, ErrDuplicateRule) {
		t.Errorf("duplicate: got %v, want ErrDuplicateRule", err)
	}
}

func TestRemoveRule_PresenceBased(t *testing.T) {
	e := newTestEngine([]Rule{{ID: "r1", Condition: Condition{ToolNamePattern: "x"}}}, Blacklist{})

	if !e.RemoveRule("r1") {
		t.Error("RemoveRule(r1) = false, want true")
	}
	if e.RemoveRule("r1") {
		t.Error("second RemoveRule(r1) = true, want false")
	}
	if len(e.Rules()) != 0 {
		t.Errorf("rules remain after removal: %v", e.Rules())
	}
}

type stubSource struct {
	rules     []Rule
	blacklist Blacklist
	err       error
}

func (s *stubSource) Load() ([]Rule, Blacklist, error) {
	return s.rules, s.blacklist, s.err
}

func TestReload_SwapsAtomically(t *testing.T) {
	src := &stubSource{rules: []Rule{{ID: "new", Condition: Condition{ToolNamePattern: "y"}}}}
	e := NewEngine([]Rule{{ID: "old", Condition: Condition{ToolNamePattern: "x"}}}, Blacklist{}, src, nil)

	if err := e.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	rules := e.Rules()
	if len(rules) != 1 || rules[0].ID != "new" {
		t.Errorf("rules after reload = %v", rules)
	}
}

func TestReload_SourceFailureKeepsOldSet(t *testing.T) {
	src := &stubSource{err: errors.New("source down")}
	e := NewEngine([]Rule{{ID: "old", Condition: Condition{ToolNamePattern: "x"}}}, Blacklist{}, src, nil)

	if err := e.Reload(); err == nil {
		t.Fatal("expected Reload error")
	}
	if rules := e.Rules(); len(rules) != 1 || rules[0].ID != "old" {
		t.Errorf("old rules not preserved: %v", rules)
	}
}

func TestCheck_ConcurrentWithMutation(t *testing.T) {
	e := newTestEngine([]Rule{{ID: "r0", Condition: Condition{ToolNamePattern: "tool"}}}, Blacklist{})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			id := fmt.Sprintf("gen-%d", i)
			_ = e.AddRule(Rule{ID: id, Condition: Condition{ToolNamePattern: "tool"}})
			e.RemoveRule(id)
		}
	}()

	for i := 0; i < 1000; i++ {
		got := e.Check("tool_call", nil)
		// r0 always matches; a torn rule set would drop it.
		found := false
		for _, mr := range got.MatchedRules {
			if mr.ID == "r0" {
				found = true
			}
		}
		if !found {
			t.Fatal("Check observed a rule set missing the stable rule")
		}
	}
	close(stop)
	wg.Wait()
}

func TestFileSource_Load(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.json")
	blacklistPath := filepath.Join(dir, "blacklist.json")

	rulesJSON := `{"rules":[{"rule_id":"r1","name":"deletes","condition":{"tool_name_pattern":"delete"},"action":"force_confirm","risk_weight":0.8}]}`
	blacklistJSON := `{"blocked_tools":[{"tool_name":"format_disk","reason":"never"}],"blocked_parameters":[{"pattern":"token=.*","reason":"credentials"}]}`
	if err := os.WriteFile(rulesPath, []byte(rulesJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(blacklistPath, []byte(blacklistJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, blacklist, err := FileSource{RulesPath: rulesPath, BlacklistPath: blacklistPath}.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "r1" || rules[0].Action != ActionForceConfirm {
		t.Errorf("rules = %+v", rules)
	}
	if len(blacklist.BlockedTools) != 1 || len(blacklist.BlockedParameters) != 1 {
		t.Errorf("blacklist = %+v", blacklist)
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	_, _, err := FileSource{RulesPath: "/nonexistent/rules.json"}.Load()
	if err == nil {
		t.Fatal("expected error for missing rules file")
	}
}
