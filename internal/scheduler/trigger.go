package scheduler

import (
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"time"

	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/models"
	"github.com/julianstephens/habitual/internal/utils"
)

var (
	// ErrNoTrigger means no qualifying day exists within the horizon.
	ErrNoTrigger = errors.New("no trigger time within horizon")

	// ErrNoRemindersScheduled is returned by Schedule when a habit has
	// reminders but none of them could be armed.
	ErrNoRemindersScheduled = errors.New("no reminders could be scheduled")
)

// InvalidTimeError reports a reminder whose time of day cannot be parsed.
type InvalidTimeError struct {
	Time string
	Err  error
}

func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf("invalid reminder time %q: %v", e.Time, e.Err)
}

func (e *InvalidTimeError) Unwrap() error {
	return e.Err
}

// RequestID hashes a scheduling key into an alarm request id (32-bit FNV-1a).
func RequestID(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

// NextTrigger returns the first occurrence of the reminder strictly after
// now. Days are scanned from now's calendar date, in now's location.
func NextTrigger(r models.ReminderTime, now time.Time) (time.Time, error) {
	tod, err := utils.ParseTime(r.Time)
	if err != nil {
		return time.Time{}, &InvalidTimeError{Time: r.Time, Err: err}
	}

	today := utils.StartOfDay(now)
	for i := 0; i < constants.TriggerHorizonDays; i++ {
		day := today.AddDate(0, 0, i)
		if !r.IsDaily() && !slices.Contains(r.Days, utils.ISOWeekday(day)) {
			continue
		}
		candidate := utils.AtTimeOfDay(day, tod)
		if candidate.After(now) {
			return candidate, nil
		}
	}
	return time.Time{}, ErrNoTrigger
}
