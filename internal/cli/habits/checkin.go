package habits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/julianstephens/habitual/internal/alarm"
	"github.com/julianstephens/habitual/internal/cli"
	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/models"
	"github.com/julianstephens/habitual/internal/utils"
)

type ToggleCmd struct {
	Habit string `arg:"" help:"Habit id or name."`
	Date  string `help:"Date in YYYY-MM-DD format (default: today)." default:""`
}

func (c *ToggleCmd) Run(ctx *cli.Context) error {
	if c.Date != "" && !utils.ValidateDate(c.Date) {
		return fmt.Errorf("invalid date format: %s (expected YYYY-MM-DD)", c.Date)
	}
	t, err := ctx.ScheduledTracker()
	if err != nil {
		return err
	}
	habit, err := cli.ResolveHabit(t, c.Habit)
	if err != nil {
		return err
	}

	updated, err := t.ToggleCompletion(ctx.Ctx, habit.ID, c.Date)
	if err != nil {
		return err
	}
	date := c.Date
	if date == "" {
		date = utils.FormatDate(ctx.Clock()())
	}
	printToggle(ctx, updated, date)
	printWarning(ctx, t)
	return nil
}

type CheckinCmd struct {
	Habit string `arg:"" help:"Habit id or name."`
}

func (c *CheckinCmd) Run(ctx *cli.Context) error {
	t, err := ctx.ScheduledTracker()
	if err != nil {
		return err
	}
	habit, err := cli.ResolveHabit(t, c.Habit)
	if err != nil {
		return err
	}
	updated, err := t.CheckIn(ctx.Ctx, habit.ID)
	if err != nil {
		return err
	}
	printToggle(ctx, updated, utils.FormatDate(ctx.Clock()()))
	printWarning(ctx, t)
	return nil
}

func printToggle(ctx *cli.Context, h models.Habit, date string) {
	if h.IsCompletedOn(date) {
		fmt.Fprintf(ctx.Out, "%s %s done on %s. Streak: %d\n", cli.DoneStyle.Render("✓"), h.Name, date, h.Streak)
		return
	}
	fmt.Fprintf(ctx.Out, "%s %s not done on %s. Streak: %d\n", cli.MutedStyle.Render("·"), h.Name, date, h.Streak)
}

type SnoozeCmd struct {
	Habit string        `arg:"" help:"Habit id or name."`
	Delay time.Duration `help:"Snooze delay (default: reminders.snooze_minutes)." default:"0s"`
	Time  string        `help:"Reminder time being snoozed, HH:MM (default: first reminder or now)." default:""`
}

// Run arms the snooze and blocks until it has been delivered, since alarms
// live in this process.
func (c *SnoozeCmd) Run(ctx *cli.Context) error {
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Time != "" && !utils.ValidateTimeFormat(c.Time) {
		return fmt.Errorf("invalid time %q (expected HH:MM)", c.Time)
	}
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	habit, err := cli.ResolveHabit(t, c.Habit)
	if err != nil {
		return err
	}

	reminder := models.ReminderTime{Time: c.Time}
	if reminder.Time == "" {
		if len(habit.Reminders) > 0 {
			reminder = habit.Reminders[0]
		} else {
			now := ctx.Clock()()
			reminder = models.NewReminderTime(now.Hour(), now.Minute())
		}
	}

	sched, alarms, err := ctx.Reminders()
	if err != nil {
		return err
	}
	delivered := make(chan struct{})
	var once sync.Once
	alarms.SetReceiver(func(fireCtx context.Context, a alarm.Alarm) {
		sched.HandleFire(fireCtx, a)
		if a.Payload.Snooze && a.Payload.HabitID == habit.ID {
			once.Do(func() { close(delivered) })
		}
	})

	a, err := sched.ScheduleSnooze(ctx.Ctx, habit.ID, habit.Name, habit.Streak, reminder, c.Delay)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "Snoozed %s until %s\n", habit.Name, a.At.Format(constants.TimeFormat))

	select {
	case <-delivered:
		return nil
	case <-ctx.Ctx.Done():
		return ctx.Ctx.Err()
	}
}
