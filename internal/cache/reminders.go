package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/julianstephens/habitual/internal/constants"
)

// LoadRequestIDs returns the alarm request ids recorded for a habit.
func (s *Store) LoadRequestIDs(ctx context.Context, habitID string) ([]uint32, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT request_ids FROM scheduled_reminders WHERE habit_id = ?`, habitID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request ids for %s: %w", habitID, err)
	}
	return DecodeRequestIDs(raw), nil
}

// SaveRequestIDs replaces the recorded ids for a habit. An empty slice clears
// the entry.
func (s *Store) SaveRequestIDs(ctx context.Context, habitID string, ids []uint32) error {
	if len(ids) == 0 {
		return s.ClearRequestIDs(ctx, habitID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_reminders (habit_id, request_ids) VALUES (?, ?)
		ON CONFLICT(habit_id) DO UPDATE SET request_ids = excluded.request_ids`,
		habitID, EncodeRequestIDs(ids))
	if err != nil {
		return fmt.Errorf("failed to save request ids for %s: %w", habitID, err)
	}
	return nil
}

// ScheduledHabitIDs lists the habits that have recorded request ids.
func (s *Store) ScheduledHabitIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT habit_id FROM scheduled_reminders ORDER BY habit_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled habits: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled habit: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ClearRequestIDs(ctx context.Context, habitID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_reminders WHERE habit_id = ?`, habitID); err != nil {
		return fmt.Errorf("failed to clear request ids for %s: %w", habitID, err)
	}
	return nil
}

// EncodeRequestIDs joins ids with commas.
func EncodeRequestIDs(ids []uint32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, constants.RequestIDSeparator)
}

// DecodeRequestIDs parses a comma-joined id list, skipping malformed entries.
func DecodeRequestIDs(raw string) []uint32 {
	var ids []uint32
	for _, part := range strings.Split(raw, constants.RequestIDSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	return ids
}
