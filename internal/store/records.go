package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrRecordNotFound is returned for lookups of unknown request ids.
var ErrRecordNotFound = errors.New("tool call record not found")

// ToolCallRecord is one row of the append-only audit trail. A record is
// created at evaluation time, mutated once on confirmation and once on the
// execution report, and otherwise immutable.
type ToolCallRecord struct {
	ID        int64
	RequestID string
	UserID    string

	Question   string
	ToolName   string
	Parameters map[string]any

	RiskScore            float64
	RiskLevel            string
	RequiresConfirmation bool
	ConfirmationReason   string

	MatchedRuleIDs []string
	BlacklistHit   bool

	SimilarHistoryIDs []string

	UserConfirmed    *bool
	UserFeedback     string
	ExecutionSuccess *bool
	ExecutionResult  map[string]any

	CreatedAt   time.Time
	ConfirmedAt *time.Time
	ExecutedAt  *time.Time
}

// CreateRecord inserts a new audit record.
func (s *Store) CreateRecord(ctx context.Context, rec *ToolCallRecord) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("CreateRecord: %w", err)
	}
	ruleIDs, err := json.Marshal(rec.MatchedRuleIDs)
	if err != nil {
		return fmt.Errorf("CreateRecord: %w", err)
	}
	similarIDs, err := json.Marshal(rec.SimilarHistoryIDs)
	if err != nil {
		return fmt.Errorf("CreateRecord: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tool_call_records (
			request_id, user_id, question, tool_name, parameters,
			risk_score, risk_level, requires_confirmation, confirmation_reason,
			matched_rule_ids, blacklist_hit, similar_history_ids, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING id, created_at`,
		rec.RequestID, rec.UserID, rec.Question, rec.ToolName, params,
		rec.RiskScore, rec.RiskLevel, rec.RequiresConfirmation, rec.ConfirmationReason,
		ruleIDs, rec.BlacklistHit, similarIDs,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateRecord: %w", err)
	}
	return nil
}

// GetRecord fetches a record by request id.
func (s *Store) GetRecord(ctx context.Context, requestID string) (*ToolCallRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE request_id = $1`, requestID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("GetRecord: %w", err)
	}
	return rec, nil
}

// GetRecordsByRequestIDs fetches full records for a set of request ids.
// Unknown ids are silently absent from the result.
func (s *Store) GetRecordsByRequestIDs(ctx context.Context, requestIDs []string) ([]*ToolCallRecord, error) {
	if len(requestIDs) == 0 {
		return nil, nil
	}
	ids, err := json.Marshal(requestIDs)
	if err != nil {
		return nil, fmt.Errorf("GetRecordsByRequestIDs: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE request_id IN (SELECT jsonb_array_elements_text($1::jsonb))`, ids)
	if err != nil {
		return nil, fmt.Errorf("GetRecordsByRequestIDs: %w", err)
	}
	defer rows.Close()

	var out []*ToolCallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("GetRecordsByRequestIDs: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListUserRecords returns a user's records, newest first, bounded by limit.
func (s *Store) ListUserRecords(ctx context.Context, userID string, limit int) ([]*ToolCallRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListUserRecords: %w", err)
	}
	defer rows.Close()

	var out []*ToolCallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ListUserRecords: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateConfirmation records the user's confirmation outcome. Returns
// false when the request id is unknown.
func (s *Store) UpdateConfirmation(ctx context.Context, requestID string, confirmed bool, feedback string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_call_records
		SET user_confirmed = $2, user_feedback = $3, confirmed_at = NOW()
		WHERE request_id = $1`,
		requestID, confirmed, feedback)
	if err != nil {
		return false, fmt.Errorf("UpdateConfirmation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("UpdateConfirmation: %w", err)
	}
	return n > 0, nil
}

// UpdateExecution records the execution outcome. Returns false when the
// request id is unknown.
func (s *Store) UpdateExecution(ctx context.Context, requestID string, success bool, result map[string]any) (bool, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("UpdateExecution: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_call_records
		SET execution_success = $2, execution_result = $3, executed_at = NOW()
		WHERE request_id = $1`,
		requestID, success, resultJSON)
	if err != nil {
		return false, fmt.Errorf("UpdateExecution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("UpdateExecution: %w", err)
	}
	return n > 0, nil
}

const selectRecord = `
	SELECT id, request_id, user_id, question, tool_name, parameters,
	       risk_score, risk_level, requires_confirmation, confirmation_reason,
	       matched_rule_ids, blacklist_hit, similar_history_ids,
	       user_confirmed, user_feedback, execution_success, execution_result,
	       created_at, confirmed_at, executed_at
	FROM tool_call_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ToolCallRecord, error) {
	var (
		rec        ToolCallRecord
		params     []byte
		ruleIDs    []byte
		similarIDs []byte
		feedback   sql.NullString
		reason     sql.NullString
		level      sql.NullString
		confirmed  sql.NullBool
		execOK     sql.NullBool
		execResult []byte
		confirmedAt sql.NullTime
		executedAt  sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.RequestID, &rec.UserID, &rec.Question, &rec.ToolName, &params,
		&rec.RiskScore, &level, &rec.RequiresConfirmation, &reason,
		&ruleIDs, &rec.BlacklistHit, &similarIDs,
		&confirmed, &feedback, &execOK, &execResult,
		&rec.CreatedAt, &confirmedAt, &executedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &rec.Parameters); err != nil {
			return nil, fmt.Errorf("scanRecord: parameters: %w", err)
		}
	}
	if len(ruleIDs) > 0 {
		if err := json.Unmarshal(ruleIDs, &rec.MatchedRuleIDs); err != nil {
			return nil, fmt.Errorf("scanRecord: matched_rule_ids: %w", err)
		}
	}
	if len(similarIDs) > 0 {
		if err := json.Unmarshal(similarIDs, &rec.SimilarHistoryIDs); err != nil {
			return nil, fmt.Errorf("scanRecord: similar_history_ids: %w", err)
		}
	}
	if len(execResult) > 0 {
		if err := json.Unmarshal(execResult, &rec.ExecutionResult); err != nil {
			return nil, fmt.Errorf("scanRecord: execution_result: %w", err)
		}
	}
	rec.RiskLevel = level.String
	rec.ConfirmationReason = reason.String
	rec.UserFeedback = feedback.String
	if confirmed.Valid {
		rec.UserConfirmed = &confirmed.Bool
	}
	if execOK.Valid {
		rec.ExecutionSuccess = &execOK.Bool
	}
	if confirmedAt.Valid {
		rec.ConfirmedAt = &confirmedAt.Time
	}
	if executedAt.Valid {
		rec.ExecutedAt = &executedAt.Time
	}
	return &rec, nil
}
