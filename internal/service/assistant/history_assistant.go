package assistant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"beepgenesis/internal/models"
)

// SaveHistory replaces the user's stored history with the supplied array.
// Only the messages column is written, so other user data is untouched
// (merge semantics at the storage layer, full-array replace for messages).
// A nil slice persists an empty array; that is how "new chat" clears state.
func (s *Service) SaveHistory(ctx context.Context, userID int64, messages []models.ChatMessage) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	now := time.Now().UTC()
	// insert-then-update avoids dialect-specific upsert syntax and stays
	// safe for concurrent writers: when the row already exists (or another
	// writer just created it) the insert fails on the primary key and the
	// update takes over
	_, insErr := s.db.ExecContext(ctx,
		`INSERT INTO chat_histories (user_id, messages, updated_at) VALUES (?, ?, ?)`,
		userID, string(payload), now,
	)
	if insErr == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_histories SET messages = ?, updated_at = ? WHERE user_id = ?`,
		string(payload), now, userID,
	)
	if err != nil {
		return fmt.Errorf("save history for user %d: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// nothing to update either, so the insert failure was the real error
		return fmt.Errorf("save history for user %d: %w", userID, insErr)
	}
	return nil
}

// GetHistory loads the stored history for the user. A user with no stored
// document gets an empty slice and a nil error; a failed read returns the
// error so callers can tell "empty" from "fetch failed".
func (s *Service) GetHistory(ctx context.Context, userID int64) ([]models.ChatMessage, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM chat_histories WHERE user_id = ?`, userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.ChatMessage{}, nil
		}
		return nil, fmt.Errorf("load history for user %d: %w", userID, err)
	}
	var messages []models.ChatMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("decode history for user %d: %w", userID, err)
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return messages, nil
}

// ClearHistory persists an empty array for the user.
func (s *Service) ClearHistory(ctx context.Context, userID int64) error {
	return s.SaveHistory(ctx, userID, []models.ChatMessage{})
}
