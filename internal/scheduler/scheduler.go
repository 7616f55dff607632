// Package scheduler arms reminder alarms for habits and keeps track of the
// request ids it handed out so they can be cancelled after a restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/julianstephens/habitual/internal/alarm"
	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/logger"
	"github.com/julianstephens/habitual/internal/metrics"
	"github.com/julianstephens/habitual/internal/models"
	"github.com/julianstephens/habitual/internal/notifier"
	"github.com/julianstephens/habitual/internal/utils"
)

// Bookkeeper persists the request ids scheduled for each habit.
type Bookkeeper interface {
	LoadRequestIDs(ctx context.Context, habitID string) ([]uint32, error)
	SaveRequestIDs(ctx context.Context, habitID string, ids []uint32) error
	ClearRequestIDs(ctx context.Context, habitID string) error
	ScheduledHabitIDs(ctx context.Context) ([]string, error)
}

// AlarmManager arms and disarms one-shot alarms.
type AlarmManager interface {
	Set(a alarm.Alarm) error
	Cancel(requestID uint32) bool
}

// Skip records a reminder that could not be armed.
type Skip struct {
	Reminder models.ReminderTime
	Err      error
}

// Result describes one Schedule call.
type Result struct {
	Scheduled []alarm.Alarm
	Skipped   []Skip
}

type Scheduler struct {
	alarms      AlarmManager
	book        Bookkeeper
	notifier    notifier.Notifier
	now         func() time.Time
	snoozeDelay time.Duration
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSnoozeDelay sets the delay used when ScheduleSnooze gets no delay.
func WithSnoozeDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.snoozeDelay = d
		}
	}
}

func New(alarms AlarmManager, book Bookkeeper, n notifier.Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		alarms:      alarms,
		book:        book,
		notifier:    n,
		now:         time.Now,
		snoozeDelay: constants.DefaultSnoozeMinutes * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule replaces every alarm of the habit with one alarm per reminder at
// its next trigger. Reminders that cannot be armed are reported in
// Result.Skipped; if none could be armed the error wraps
// ErrNoRemindersScheduled and each cause.
func (s *Scheduler) Schedule(ctx context.Context, habitID, habitName string, streak int, reminders []models.ReminderTime) (Result, error) {
	var result Result
	if err := s.Cancel(ctx, habitID); err != nil {
		return result, err
	}
	if len(reminders) == 0 {
		return result, nil
	}

	now := s.now()
	ids := make([]uint32, 0, len(reminders))
	for _, r := range reminders {
		at, err := NextTrigger(r, now)
		if err != nil {
			result.Skipped = append(result.Skipped, Skip{Reminder: r, Err: err})
			continue
		}

		a := alarm.Alarm{
			RequestID: RequestID(r.Key(habitID)),
			At:        at,
			Payload: alarm.Payload{
				HabitID:   habitID,
				HabitName: habitName,
				Streak:    streak,
				Time:      r.Time,
				Days:      r.SortedDays(),
			},
		}
		if err := s.alarms.Set(a); err != nil {
			result.Skipped = append(result.Skipped, Skip{Reminder: r, Err: fmt.Errorf("failed to set alarm: %w", err)})
			continue
		}

		result.Scheduled = append(result.Scheduled, a)
		if !slices.Contains(ids, a.RequestID) {
			ids = append(ids, a.RequestID)
		}
		metrics.RemindersScheduled.WithLabelValues("recurring").Inc()
	}

	for _, skip := range result.Skipped {
		logger.Warn("Reminder skipped", "habit", habitID, "time", skip.Reminder.Time, "error", skip.Err)
	}

	if len(result.Scheduled) == 0 {
		causes := make([]error, 0, len(result.Skipped))
		for _, skip := range result.Skipped {
			causes = append(causes, skip.Err)
		}
		return result, fmt.Errorf("%w for habit %s: %w", ErrNoRemindersScheduled, habitID, errors.Join(causes...))
	}

	if err := s.book.SaveRequestIDs(ctx, habitID, ids); err != nil {
		return result, fmt.Errorf("failed to record scheduled reminders: %w", err)
	}
	logger.Debug("Reminders scheduled", "habit", habitID, "count", len(result.Scheduled))
	return result, nil
}

// Cancel disarms every recorded alarm of the habit and forgets them. Snooze
// alarms are not recorded and survive.
func (s *Scheduler) Cancel(ctx context.Context, habitID string) error {
	ids, err := s.book.LoadRequestIDs(ctx, habitID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		s.alarms.Cancel(id)
	}
	return s.book.ClearRequestIDs(ctx, habitID)
}

// ScheduleSnooze arms a single alarm delay from now. A zero delay uses the
// configured default. The payload time is the reminder time shifted by the
// delay.
func (s *Scheduler) ScheduleSnooze(ctx context.Context, habitID, habitName string, streak int, reminder models.ReminderTime, delay time.Duration) (alarm.Alarm, error) {
	if delay <= 0 {
		delay = s.snoozeDelay
	}
	at := s.now().Add(delay)

	shifted := at.Format(constants.TimeFormat)
	if tod, err := utils.ParseTime(reminder.Time); err == nil {
		shifted = tod.Add(delay).Format(constants.TimeFormat)
	}

	a := alarm.Alarm{
		RequestID: RequestID(habitID + constants.SnoozeKeySuffix),
		At:        at,
		Payload: alarm.Payload{
			HabitID:   habitID,
			HabitName: habitName,
			Streak:    streak,
			Time:      shifted,
			Days:      reminder.SortedDays(),
			Snooze:    true,
		},
	}
	if err := s.alarms.Set(a); err != nil {
		return a, fmt.Errorf("failed to set snooze alarm: %w", err)
	}
	metrics.RemindersScheduled.WithLabelValues("snooze").Inc()
	logger.Info("Reminder snoozed", "habit", habitID, "until", at.Format(time.RFC3339))
	return a, nil
}

// HandleFire delivers the reminder and, for recurring alarms, re-arms the
// same request id at the next occurrence. It matches alarm.Receiver.
func (s *Scheduler) HandleFire(ctx context.Context, a alarm.Alarm) {
	p := a.Payload
	text := fmt.Sprintf("Time for %s! Current streak: %d days", p.HabitName, p.Streak)
	if err := s.notifier.Notify(ctx, text); err != nil {
		metrics.RemindersFired.WithLabelValues("failed").Inc()
		logger.Warn("Failed to deliver reminder", "habit", p.HabitID, "error", err)
	} else {
		metrics.RemindersFired.WithLabelValues("delivered").Inc()
	}

	if p.Snooze || p.Time == "" {
		return
	}

	next, err := NextTrigger(models.ReminderTime{Time: p.Time, Days: p.Days}, s.now())
	if err != nil {
		logger.Warn("Cannot re-arm reminder", "habit", p.HabitID, "time", p.Time, "error", err)
		return
	}
	rearmed := alarm.Alarm{RequestID: a.RequestID, At: next, Payload: p}
	if err := s.alarms.Set(rearmed); err != nil {
		logger.Warn("Failed to re-arm reminder", "habit", p.HabitID, "error", err)
		return
	}
	metrics.RemindersScheduled.WithLabelValues("rearm").Inc()
}

// RescheduleAll schedules every habit, logging per-habit failures, and
// cancels bookkeeping left behind by habits that no longer exist. It returns
// the number of alarms armed.
func (s *Scheduler) RescheduleAll(ctx context.Context, habits []models.Habit) int {
	total := 0
	present := make(map[string]bool, len(habits))
	for _, h := range habits {
		present[h.ID] = true
		res, err := s.Schedule(ctx, h.ID, h.Name, h.Streak, h.Reminders)
		total += len(res.Scheduled)
		if err != nil {
			logger.Warn("Failed to schedule reminders", "habit", h.ID, "error", err)
		}
	}

	recorded, err := s.book.ScheduledHabitIDs(ctx)
	if err != nil {
		logger.Warn("Failed to list scheduled habits", "error", err)
		return total
	}
	for _, id := range recorded {
		if present[id] {
			continue
		}
		if err := s.Cancel(ctx, id); err != nil {
			logger.Warn("Failed to drop stale reminders", "habit", id, "error", err)
			continue
		}
		logger.Debug("Dropped stale reminders", "habit", id)
	}
	return total
}
