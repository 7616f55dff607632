package models

import (
	"encoding/json"
	"strings"

	"github.com/julianstephens/habitual/internal/constants"
)

// Document is the remote representation of a habit: a loosely typed field map,
// as read back from a JSON document store.
type Document map[string]interface{}

// Remote document field names.
const (
	FieldName           = "name"
	FieldCompletedDates = "completedDates"
	FieldStreak         = "streak"
	FieldIcon           = "icon"
	FieldWeeklyGoal     = "weeklyGoal"
	FieldOwnerID        = "ownerId"
	FieldReminders      = "reminders"
	FieldNotes          = "notes"
)

// ToDocument renders the full remote document for a habit. The id is the
// document key and is not part of the body.
func (h *Habit) ToDocument() Document {
	dates := h.CompletedDates
	if dates == nil {
		dates = []string{}
	}
	reminders := make([]map[string]interface{}, 0, len(h.Reminders))
	for _, r := range h.Reminders {
		days := r.Days
		if days == nil {
			days = []int{}
		}
		reminders = append(reminders, map[string]interface{}{"time": r.Time, "days": days})
	}
	return Document{
		FieldName:           h.Name,
		FieldCompletedDates: dates,
		FieldStreak:         h.Streak,
		FieldIcon:           h.Icon,
		FieldWeeklyGoal:     h.WeeklyGoal,
		FieldOwnerID:        h.OwnerID,
		FieldReminders:      reminders,
		FieldNotes:          h.Notes,
	}
}

// HabitFromDocument maps a remote document to a Habit. Documents without a
// name are rejected (ok is false); missing optional fields take defaults.
// Completion dates are normalized and the weekly goal is clamped.
func HabitFromDocument(id string, doc Document) (Habit, bool) {
	name, _ := doc[FieldName].(string)
	if strings.TrimSpace(name) == "" {
		return Habit{}, false
	}

	h := Habit{
		ID:             id,
		Name:           name,
		Icon:           constants.DefaultIcon,
		CompletedDates: NormalizeDates(toStrings(doc[FieldCompletedDates])),
		WeeklyGoal:     constants.DefaultWeeklyGoal,
	}
	if icon, ok := doc[FieldIcon].(string); ok && icon != "" {
		h.Icon = icon
	}
	if streak, ok := toInt(doc[FieldStreak]); ok {
		h.Streak = streak
	}
	if goal, ok := toInt(doc[FieldWeeklyGoal]); ok {
		h.WeeklyGoal = ClampWeeklyGoal(goal)
	}
	h.OwnerID, _ = doc[FieldOwnerID].(string)
	h.Notes, _ = doc[FieldNotes].(string)
	h.Reminders = toReminders(doc[FieldReminders])
	return h, true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func toStrings(v interface{}) []string {
	out := []string{}
	switch list := v.(type) {
	case []string:
		out = append(out, list...)
	case []interface{}:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func toInts(v interface{}) []int {
	var out []int
	switch list := v.(type) {
	case []int:
		out = append(out, list...)
	case []interface{}:
		for _, item := range list {
			if n, ok := toInt(item); ok {
				out = append(out, n)
			}
		}
	}
	return out
}

func toReminders(v interface{}) []ReminderTime {
	var entries []map[string]interface{}
	switch list := v.(type) {
	case []map[string]interface{}:
		entries = list
	case []interface{}:
		for _, item := range list {
			if m, ok := item.(map[string]interface{}); ok {
				entries = append(entries, m)
			}
		}
	}

	var reminders []ReminderTime
	for _, m := range entries {
		t, _ := m["time"].(string)
		if t == "" {
			continue
		}
		reminders = append(reminders, ReminderTime{Time: t, Days: toInts(m["days"])})
	}
	return reminders
}
