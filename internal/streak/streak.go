// Package streak computes consecutive-day completion streaks.
package streak

import (
	"time"

	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/utils"
)

// Calculate returns the number of consecutive calendar days, ending today,
// present in completedDates. A missing today yields 0 even if yesterday ends a
// long run. Dates are compared as YYYY-MM-DD strings in today's location.
func Calculate(completedDates []string, today time.Time) int {
	if len(completedDates) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(completedDates))
	for _, d := range completedDates {
		set[d] = struct{}{}
	}

	count := 0
	cursor := utils.StartOfDay(today)
	for {
		if _, ok := set[utils.FormatDate(cursor)]; !ok {
			return count
		}
		count++
		cursor = cursor.AddDate(0, 0, -1)
	}
}

// Longest returns the longest run of consecutive days anywhere in
// completedDates, regardless of today.
func Longest(completedDates []string) int {
	set := make(map[string]struct{}, len(completedDates))
	for _, d := range completedDates {
		set[d] = struct{}{}
	}

	longest := 0
	for d := range set {
		day, err := time.Parse(constants.DateFormat, d)
		if err != nil {
			continue
		}
		// Only start counting at the first day of a run.
		if _, ok := set[utils.FormatDate(day.AddDate(0, 0, -1))]; ok {
			continue
		}
		run := 0
		for {
			if _, ok := set[utils.FormatDate(day)]; !ok {
				break
			}
			run++
			day = day.AddDate(0, 0, 1)
		}
		longest = max(longest, run)
	}
	return longest
}
