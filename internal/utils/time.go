package utils

import (
	"fmt"
	"time"

	"github.com/julianstephens/habitual/internal/constants"
)

// LoadLocation loads a timezone location from an IANA timezone name.
// If the timezone is "Local" or empty, it returns the system's local timezone.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(timezone)
}

// ValidateTimezone checks if the timezone name is valid.
func ValidateTimezone(timezone string) bool {
	_, err := LoadLocation(timezone)
	return err == nil
}

// ClockInTimezone returns a clock function that reports the current time in
// the given timezone.
func ClockInTimezone(timezone string) (func() time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return func() time.Time { return time.Now().In(loc) }, nil
}

// ParseTime parses a zero-padded time string in the standard format (HH:MM).
func ParseTime(timeStr string) (time.Time, error) {
	// time.Parse accepts a single-digit hour for "15"
	if len(timeStr) != len(constants.TimeFormat) {
		return time.Time{}, fmt.Errorf("invalid time %q: expected HH:MM", timeStr)
	}
	return time.Parse(constants.TimeFormat, timeStr)
}

// ValidateTimeFormat checks if the string matches the standard time format.
func ValidateTimeFormat(timeStr string) bool {
	_, err := ParseTime(timeStr)
	return err == nil
}

// FormatDate renders t as YYYY-MM-DD in t's own location.
func FormatDate(t time.Time) string {
	return t.Format(constants.DateFormat)
}

// ValidateDate checks if the string is a real calendar date (YYYY-MM-DD).
func ValidateDate(dateStr string) bool {
	_, err := time.Parse(constants.DateFormat, dateStr)
	return err == nil
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AtTimeOfDay returns the instant on day's calendar date at the given time of day,
// in day's location.
func AtTimeOfDay(day time.Time, timeOfDay time.Time) time.Time {
	return time.Date(
		day.Year(), day.Month(), day.Day(),
		timeOfDay.Hour(), timeOfDay.Minute(), 0, 0,
		day.Location(),
	)
}

// ISOWeekday returns the ISO-8601 weekday number of t (Monday=1 ... Sunday=7).
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// LastNDays returns the calendar dates of the n days ending on today, oldest first.
func LastNDays(today time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	days := make([]string, 0, n)
	start := StartOfDay(today).AddDate(0, 0, -(n - 1))
	for i := 0; i < n; i++ {
		days = append(days, FormatDate(start.AddDate(0, 0, i)))
	}
	return days
}
