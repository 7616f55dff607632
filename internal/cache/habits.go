package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/habitual/internal/models"
)

const habitColumns = `id, name, icon, completed_dates, streak, weekly_goal, owner_id, reminders, notes`

const upsertHabitSQL = `
	INSERT INTO habits (id, name, icon, completed_dates, streak, weekly_goal, owner_id, reminders, notes, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		icon = excluded.icon,
		completed_dates = excluded.completed_dates,
		streak = excluded.streak,
		weekly_goal = excluded.weekly_goal,
		owner_id = excluded.owner_id,
		reminders = excluded.reminders,
		notes = excluded.notes,
		updated_at = excluded.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHabit(row rowScanner) (models.Habit, error) {
	var h models.Habit
	var dates, reminders string
	if err := row.Scan(&h.ID, &h.Name, &h.Icon, &dates, &h.Streak, &h.WeeklyGoal, &h.OwnerID, &reminders, &h.Notes); err != nil {
		return models.Habit{}, err
	}
	h.CompletedDates = models.DecodeDates(dates)
	h.Reminders = models.DecodeReminders(reminders)
	return h, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, db execer, h models.Habit) error {
	_, err := db.ExecContext(ctx, upsertHabitSQL,
		h.ID,
		h.Name,
		h.Icon,
		models.EncodeDates(h.CompletedDates),
		h.Streak,
		h.WeeklyGoal,
		h.OwnerID,
		models.EncodeReminders(h.Reminders),
		h.Notes,
		s.now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListHabits returns every cached habit ordered by name.
func (s *Store) ListHabits(ctx context.Context) ([]models.Habit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+habitColumns+` FROM habits ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	habits := []models.Habit{}
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan habit: %w", err)
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

// GetHabit returns the cached habit with the given id. The boolean is false
// when no such habit exists.
func (s *Store) GetHabit(ctx context.Context, id string) (models.Habit, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+habitColumns+` FROM habits WHERE id = ?`, id)
	h, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Habit{}, false, nil
	}
	if err != nil {
		return models.Habit{}, false, fmt.Errorf("failed to get habit %s: %w", id, err)
	}
	return h, true, nil
}

// UpsertHabit inserts the habit or overwrites the row with the same id.
func (s *Store) UpsertHabit(ctx context.Context, h models.Habit) error {
	if h.ID == "" {
		return errors.New("habit id cannot be empty")
	}
	if err := s.upsert(ctx, s.db, h); err != nil {
		return fmt.Errorf("failed to save habit %s: %w", h.ID, err)
	}
	return nil
}

// DeleteHabit removes the habit. Deleting an unknown id is not an error.
func (s *Store) DeleteHabit(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM habits WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete habit %s: %w", id, err)
	}
	return nil
}

// ReplaceHabits clears the table and inserts habits in a single transaction,
// stamping every row with ownerID.
func (s *Store) ReplaceHabits(ctx context.Context, habits []models.Habit, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM habits`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear habits: %w", err)
	}
	for _, h := range habits {
		h.OwnerID = ownerID
		if err := s.upsert(ctx, tx, h); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert habit %s: %w", h.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit habit replacement: %w", err)
	}
	return nil
}

// AnyOwnerID returns the owner id of some cached habit, or "" when the cache
// holds no owned habit.
func (s *Store) AnyOwnerID(ctx context.Context) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM habits WHERE owner_id != '' LIMIT 1`).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read owner id: %w", err)
	}
	return owner, nil
}
