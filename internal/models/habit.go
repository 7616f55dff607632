package models

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/julianstephens/habitual/internal/constants"
	apperrors "github.com/julianstephens/habitual/internal/errors"
	"github.com/julianstephens/habitual/internal/utils"
)

// Habit represents a recurring activity tracked by calendar-date completion.
type Habit struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Icon           string         `json:"icon"`
	CompletedDates []string       `json:"completed_dates"` // YYYY-MM-DD, sorted ascending
	Streak         int            `json:"streak"`          // cached at last write, see streak.Calculate
	WeeklyGoal     int            `json:"weekly_goal"`
	OwnerID        string         `json:"owner_id"`
	Reminders      []ReminderTime `json:"reminders,omitempty"`
	Notes          string         `json:"notes,omitempty"`
}

// Validate checks the user-editable fields. It does not check uniqueness,
// which needs the cache.
func (h *Habit) Validate() error {
	name := strings.TrimSpace(h.Name)
	if name == "" {
		return apperrors.Validation("habit name cannot be empty")
	}
	if utf8.RuneCountInString(name) > constants.MaxHabitNameLength {
		return apperrors.Validation("habit name cannot be longer than %d characters", constants.MaxHabitNameLength)
	}
	if utf8.RuneCountInString(h.Notes) > constants.MaxHabitNotesLength {
		return apperrors.Validation("notes cannot be longer than %d characters", constants.MaxHabitNotesLength)
	}
	if !IsPaletteIcon(h.Icon) {
		return apperrors.Validation("icon %q is not available", h.Icon)
	}
	for _, r := range h.Reminders {
		if err := r.Validate(); err != nil {
			return apperrors.Validation("invalid reminder: %v", err)
		}
	}
	return nil
}

// IsCompletedOn reports whether the habit has a completion on the given date.
func (h *Habit) IsCompletedOn(date string) bool {
	return slices.Contains(h.CompletedDates, date)
}

// CompletedIn counts how many of the given dates are completed.
func (h *Habit) CompletedIn(dates []string) int {
	count := 0
	for _, d := range dates {
		if h.IsCompletedOn(d) {
			count++
		}
	}
	return count
}

// ToggleDate returns the completion set with date added if absent or removed
// if present, sorted ascending. The receiver is not modified.
func (h *Habit) ToggleDate(date string) []string {
	dates := make([]string, 0, len(h.CompletedDates)+1)
	found := false
	for _, d := range h.CompletedDates {
		if d == date {
			found = true
			continue
		}
		dates = append(dates, d)
	}
	if !found {
		dates = append(dates, date)
	}
	return NormalizeDates(dates)
}

// Clone returns a deep copy of the habit.
func (h Habit) Clone() Habit {
	h.CompletedDates = slices.Clone(h.CompletedDates)
	if h.Reminders != nil {
		reminders := make([]ReminderTime, len(h.Reminders))
		for i, r := range h.Reminders {
			reminders[i] = ReminderTime{Time: r.Time, Days: slices.Clone(r.Days)}
		}
		h.Reminders = reminders
	}
	return h
}

// NormalizeDates drops invalid and duplicate dates and sorts the rest.
func NormalizeDates(dates []string) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if !utils.ValidateDate(d) {
			continue
		}
		out = append(out, d)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ClampWeeklyGoal forces a weekly goal into [1,7].
func ClampWeeklyGoal(goal int) int {
	return min(max(goal, constants.MinWeeklyGoal), constants.MaxWeeklyGoal)
}

// IsPaletteIcon reports whether icon belongs to the fixed icon palette.
func IsPaletteIcon(icon string) bool {
	return slices.Contains(constants.IconPalette, icon)
}

// SameName compares two habit names case-insensitively after trimming.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
