package models

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/utils"
)

// ReminderTime is a recurring reminder: a time of day plus an optional set of
// ISO weekdays (Monday=1 ... Sunday=7). No days means every day.
type ReminderTime struct {
	Time string `json:"time"` // HH:MM, 24-hour, zero padded
	Days []int  `json:"days,omitempty"`
}

// NewReminderTime builds a reminder from an hour and minute.
func NewReminderTime(hour, minute int, days ...int) ReminderTime {
	return ReminderTime{Time: fmt.Sprintf("%02d:%02d", hour, minute), Days: days}
}

// Validate checks the time format and the weekday range.
func (r ReminderTime) Validate() error {
	if !utils.ValidateTimeFormat(r.Time) {
		return fmt.Errorf("invalid time %q (expected HH:MM)", r.Time)
	}
	for _, d := range r.Days {
		if d < 1 || d > 7 {
			return fmt.Errorf("invalid weekday %d (expected 1-7)", d)
		}
	}
	return nil
}

// IsDaily reports whether the reminder fires every day.
func (r ReminderTime) IsDaily() bool {
	return len(r.Days) == 0
}

// SortedDays returns the weekdays sorted and deduplicated.
func (r ReminderTime) SortedDays() []int {
	days := slices.Clone(r.Days)
	slices.Sort(days)
	return slices.Compact(days)
}

// Key is the scheduling identity of the reminder for a habit:
// habit id, time and the comma-joined sorted weekdays.
func (r ReminderTime) Key(habitID string) string {
	return habitID + r.Time + joinInts(r.SortedDays(), constants.ReminderDaySeparator)
}

// Encode renders the reminder in the cache encoding "HH:MM##d,d,...".
func (r ReminderTime) Encode() string {
	return r.Time + constants.ReminderTimeDaysSep + joinInts(r.Days, constants.ReminderDaySeparator)
}

// String renders the reminder for display, e.g. "08:00 (Mon, Wed)".
func (r ReminderTime) String() string {
	if r.IsDaily() {
		return r.Time + " (daily)"
	}
	names := make([]string, 0, len(r.Days))
	for _, d := range r.SortedDays() {
		names = append(names, WeekdayName(d))
	}
	return fmt.Sprintf("%s (%s)", r.Time, strings.Join(names, ", "))
}

// WeekdayName returns the short English name for an ISO weekday number.
func WeekdayName(isoDay int) string {
	names := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	if isoDay < 1 || isoDay > 7 {
		return strconv.Itoa(isoDay)
	}
	return names[isoDay-1]
}

// ParseReminderTime decodes a single "HH:MM##d,d" entry. A bare "HH:MM" is
// accepted as a daily reminder.
func ParseReminderTime(s string) (ReminderTime, error) {
	s = strings.TrimSpace(s)
	timePart, daysPart, _ := strings.Cut(s, constants.ReminderTimeDaysSep)
	r := ReminderTime{Time: strings.TrimSpace(timePart)}
	if r.Time == "" {
		return ReminderTime{}, fmt.Errorf("reminder %q has no time", s)
	}
	for _, part := range strings.Split(daysPart, constants.ReminderDaySeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		day, err := strconv.Atoi(part)
		if err != nil {
			return ReminderTime{}, fmt.Errorf("reminder %q has invalid weekday %q: %w", s, part, err)
		}
		r.Days = append(r.Days, day)
	}
	return r, nil
}

// EncodeReminders joins reminders with "||" for the cache column.
func EncodeReminders(reminders []ReminderTime) string {
	parts := make([]string, 0, len(reminders))
	for _, r := range reminders {
		parts = append(parts, r.Encode())
	}
	return strings.Join(parts, constants.ReminderSeparator)
}

// DecodeReminders parses the cache column back into reminders. Unparseable
// entries are skipped.
func DecodeReminders(value string) []ReminderTime {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var reminders []ReminderTime
	for _, entry := range strings.Split(value, constants.ReminderSeparator) {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		r, err := ParseReminderTime(entry)
		if err != nil {
			continue
		}
		reminders = append(reminders, r)
	}
	return reminders
}

// EncodeDates joins completion dates with "|" for the cache column.
func EncodeDates(dates []string) string {
	return strings.Join(dates, constants.DateSeparator)
}

// DecodeDates splits the cache column, trimming and dropping empty entries.
func DecodeDates(value string) []string {
	if value == "" {
		return []string{}
	}
	dates := []string{}
	for _, d := range strings.Split(value, constants.DateSeparator) {
		d = strings.TrimSpace(d)
		if d != "" {
			dates = append(dates, d)
		}
	}
	return dates
}

// ParseDays parses a comma-separated list of weekdays given as ISO numbers
// (1-7) or names ("mon", "tuesday").
func ParseDays(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	dayMap := map[string]int{
		"mon": 1, "monday": 1,
		"tue": 2, "tuesday": 2,
		"wed": 3, "wednesday": 3,
		"thu": 4, "thursday": 4,
		"fri": 5, "friday": 5,
		"sat": 6, "saturday": 6,
		"sun": 7, "sunday": 7,
	}

	var days []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if d, ok := dayMap[part]; ok {
			days = append(days, d)
			continue
		}
		num, err := strconv.Atoi(part)
		if err != nil || num < 1 || num > 7 {
			return nil, fmt.Errorf("invalid weekday: %s", part)
		}
		days = append(days, num)
	}
	return days, nil
}

func joinInts(values []int, sep string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, sep)
}
