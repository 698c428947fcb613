package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Malowking/mcp-sentinel/internal/orchestrator"
	"go.uber.org/zap"
)

// handleQuery gates one question and returns the full decision set.
func (d *Dependencies) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.QueryRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid JSON body"})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "question is required"})
		return
	}
	if req.UserID == "" {
		if client := clientFromContext(r.Context()); client != nil {
			req.UserID = client.ClientID
		}
	}

	resp, err := d.Gate.Process(r.Context(), req)
	if err != nil {
		d.Logger.Error("query processing failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: "query processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQueryStream gates one question, reporting pipeline progress as
// newline-delimited JSON events.
func (d *Dependencies) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.QueryRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid JSON body"})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "question is required"})
		return
	}
	if req.UserID == "" {
		if client := clientFromContext(r.Context()); client != nil {
			req.UserID = client.ClientID
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for ev := range d.Gate.ProcessStream(r.Context(), req) {
		if ev.Err != nil {
			d.Logger.Error("streamed query failed", zap.Error(ev.Err))
			enc.Encode(map[string]string{"stage": ev.Stage, "error": "query processing failed"}) //nolint:errcheck
			return
		}
		enc.Encode(ev) //nolint:errcheck
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleConfirm records the user's verdict on a pending decision.
func (d *Dependencies) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ConfirmRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid JSON body"})
		return
	}
	if req.RecordID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "record_id is required"})
		return
	}

	res, err := d.Gate.Confirm(r.Context(), req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "record not found"})
			return
		}
		d.Logger.Error("confirmation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "confirmation failed"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleExecution records the outcome of running a confirmed tool call.
func (d *Dependencies) handleExecution(w http.ResponseWriter, r *http.Request) {
	var report orchestrator.ExecutionReport
	if err := readJSON(r, &report); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid JSON body"})
		return
	}
	if report.RecordID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "record_id is required"})
		return
	}

	if err := d.Gate.RecordExecution(r.Context(), report); err != nil {
		if errors.Is(err, orchestrator.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "record not found"})
			return
		}
		d.Logger.Error("execution report failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "execution report failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
