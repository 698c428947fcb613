package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// handleUserHistory lists a user's past decisions, newest first.
func (d *Dependencies) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	if d.History == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "history store not configured"})
		return
	}
	userID := r.PathValue("user_id")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	records, err := d.History.ListUserRecords(r.Context(), userID, limit)
	if err != nil {
		d.Logger.Error("history lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "history lookup failed"})
		return
	}

	resp := HistoryListResp{UserID: userID, Entries: make([]HistoryEntryResp, 0, len(records)), Total: len(records)}
	for _, rec := range records {
		resp.Entries = append(resp.Entries, HistoryEntryResp{
			RecordID:             rec.RequestID,
			ToolName:             rec.ToolName,
			Parameters:           rec.Parameters,
			RiskScore:            rec.RiskScore,
			RiskLevel:            rec.RiskLevel,
			RequiresConfirmation: rec.RequiresConfirmation,
			BlacklistHit:         rec.BlacklistHit,
			UserConfirmed:        rec.UserConfirmed,
			ExecutionSuccess:     rec.ExecutionSuccess,
			CreatedAt:            rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetPreferredTools reports a user's preferred tools.
func (d *Dependencies) handleGetPreferredTools(w http.ResponseWriter, r *http.Request) {
	if d.Prefs == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "preference store not configured"})
		return
	}
	userID := r.PathValue("user_id")

	tools, err := d.Prefs.GetPreferredTools(r.Context(), userID)
	if err != nil {
		d.Logger.Error("preference lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "preference lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, PreferredToolsResp{UserID: userID, Tools: tools})
}

// handleSetPreferredTools replaces a user's preferred tool list.
func (d *Dependencies) handleSetPreferredTools(w http.ResponseWriter, r *http.Request) {
	if d.Prefs == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "preference store not configured"})
		return
	}
	userID := r.PathValue("user_id")

	var req PreferredToolsReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid JSON body"})
		return
	}

	if err := d.Prefs.SetPreferredTools(r.Context(), userID, req.Tools); err != nil {
		d.Logger.Error("preference update failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "preference update failed"})
		return
	}
	writeJSON(w, http.StatusOK, PreferredToolsResp{UserID: userID, Tools: req.Tools})
}
