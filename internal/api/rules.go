package api

import (
	"errors"
	"net/http"

	"github.com/Malowking/mcp-sentinel/internal/rules"
	"go.uber.org/zap"
)

// handleListRules returns the active rule set.
func (d *Dependencies) handleListRules(w http.ResponseWriter, _ *http.Request) {
	active := d.Rules.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": active,
		"total": len(active),
	})
}

// handleAddRule adds a rule to the live engine.
func (d *Dependencies) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := readJSON(r, &rule); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid JSON body"})
		return
	}

	if err := d.Rules.AddRule(rule); err != nil {
		switch {
		case errors.Is(err, rules.ErrDuplicateRule):
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: "rule id already exists"})
		case errors.Is(err, rules.ErrInvalidRule):
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		default:
			d.Logger.Error("add rule failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "add rule failed"})
		}
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// handleRemoveRule removes a rule by id.
func (d *Dependencies) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	ruleID := r.PathValue("rule_id")
	if !d.Rules.RemoveRule(ruleID) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "rule not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "rule_id": ruleID})
}

// handleReloadRules re-reads rules and blacklist from their source.
func (d *Dependencies) handleReloadRules(w http.ResponseWriter, _ *http.Request) {
	if err := d.Rules.Reload(); err != nil {
		d.Logger.Error("rule reload failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "reload failed, previous rules remain active"})
		return
	}
	active := d.Rules.Rules()
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "total": len(active)})
}
