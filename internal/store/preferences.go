package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// GetPreferredTools returns the user's persisted preferred tool names.
// An unknown user has no preferences.
func (s *Store) GetPreferredTools(ctx context.Context, userID string) ([]string, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT preferred_tools FROM user_preferences WHERE user_id = $1`,
		userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPreferredTools: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var tools []string
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("GetPreferredTools: %w", err)
	}
	return tools, nil
}

// SetPreferredTools upserts the user's preferred tool names.
func (s *Store) SetPreferredTools(ctx context.Context, userID string, tools []string) error {
	raw, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("SetPreferredTools: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, preferred_tools, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_tools = EXCLUDED.preferred_tools,
			updated_at = NOW()`,
		userID, raw)
	if err != nil {
		return fmt.Errorf("SetPreferredTools: %w", err)
	}
	return nil
}
