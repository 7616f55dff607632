package habits

import (
	"fmt"
	"strings"

	"github.com/julianstephens/habitual/internal/cli"
	"github.com/julianstephens/habitual/internal/streak"
	"github.com/julianstephens/habitual/internal/tracker"
)

type HabitCmd struct {
	Add       AddCmd       `cmd:"" help:"Add a new habit."`
	List      ListCmd      `cmd:"" help:"List habits with today's status." default:"1"`
	Show      ShowCmd      `cmd:"" help:"Show one habit in detail."`
	Edit      EditCmd      `cmd:"" help:"Edit an existing habit."`
	Delete    DeleteCmd    `cmd:"" help:"Delete a habit and its reminders."`
	Toggle    ToggleCmd    `cmd:"" help:"Toggle completion for a day."`
	Checkin   CheckinCmd   `cmd:"" help:"Toggle today's completion."`
	Snooze    SnoozeCmd    `cmd:"" help:"Snooze a reminder and wait for it."`
	Analytics AnalyticsCmd `cmd:"" help:"Show completion statistics."`
}

type AddCmd struct {
	Name   string   `arg:"" help:"Habit name."`
	Icon   string   `help:"Icon from the palette (asked for on a terminal when omitted)." default:""`
	Goal   int      `help:"Weekly goal (1-7)." default:"5"`
	Remind []string `help:"Reminder as HH:MM or HH:MM@mon,wed. Repeatable." sep:"none"`
	Notes  string   `help:"Free-form notes." default:""`
}

func (c *AddCmd) Run(ctx *cli.Context) error {
	reminders, err := cli.ParseReminders(c.Remind)
	if err != nil {
		return err
	}
	icon := c.Icon
	if icon == "" && ctx.Prompts != nil {
		if icon, err = ctx.Prompts.SelectIcon(fmt.Sprintf("Icon for %s", strings.TrimSpace(c.Name))); err != nil {
			return err
		}
	}
	t, err := ctx.ScheduledTracker()
	if err != nil {
		return err
	}

	habit, err := t.AddHabit(ctx.Ctx, tracker.Details{
		Name:       c.Name,
		Icon:       icon,
		WeeklyGoal: c.Goal,
		Reminders:  reminders,
		Notes:      c.Notes,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "Added habit: %s %s (%s)\n", habit.Icon, habit.Name, habit.ID)
	printWarning(ctx, t)
	return nil
}

type EditCmd struct {
	Habit          string   `arg:"" help:"Habit id or name."`
	Name           string   `help:"New name." default:""`
	Icon           string   `help:"New icon." default:""`
	Goal           int      `help:"New weekly goal (1-7)." default:"0"`
	Remind         []string `help:"Replace reminders with these. Repeatable." sep:"none"`
	ClearReminders bool     `help:"Remove all reminders."`
	Notes          string   `help:"Replace notes." default:""`
	ClearNotes     bool     `help:"Remove notes."`
}

func (c *EditCmd) Run(ctx *cli.Context) error {
	if c.ClearReminders && len(c.Remind) > 0 {
		return fmt.Errorf("--remind and --clear-reminders cannot be combined")
	}
	t, err := ctx.ScheduledTracker()
	if err != nil {
		return err
	}
	habit, err := cli.ResolveHabit(t, c.Habit)
	if err != nil {
		return err
	}

	d := tracker.Details{
		Name:       habit.Name,
		Icon:       habit.Icon,
		WeeklyGoal: habit.WeeklyGoal,
		Reminders:  habit.Reminders,
		Notes:      habit.Notes,
	}
	if c.Name != "" {
		d.Name = c.Name
	}
	if c.Icon != "" {
		d.Icon = c.Icon
	}
	if c.Goal != 0 {
		d.WeeklyGoal = c.Goal
	}
	switch {
	case c.ClearReminders:
		d.Reminders = nil
	case len(c.Remind) > 0:
		if d.Reminders, err = cli.ParseReminders(c.Remind); err != nil {
			return err
		}
	}
	switch {
	case c.ClearNotes:
		d.Notes = ""
	case c.Notes != "":
		d.Notes = c.Notes
	}

	updated, err := t.UpdateHabitDetails(ctx.Ctx, habit.ID, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "Updated habit: %s %s\n", updated.Icon, updated.Name)
	printWarning(ctx, t)
	return nil
}

type DeleteCmd struct {
	Habit string `arg:"" help:"Habit id or name."`
	Yes   bool   `help:"Delete without asking for confirmation." short:"y"`
}

func (c *DeleteCmd) Run(ctx *cli.Context) error {
	t, err := ctx.ScheduledTracker()
	if err != nil {
		return err
	}
	habit, err := cli.ResolveHabit(t, c.Habit)
	if err != nil {
		return err
	}
	ok, err := ctx.Confirm(fmt.Sprintf("Delete %s %s and all its check-ins?", habit.Icon, habit.Name), c.Yes)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(ctx.Out, "Cancelled.")
		return nil
	}
	if err := t.DeleteHabit(ctx.Ctx, habit.ID); err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "Deleted habit: %s\n", habit.Name)
	return nil
}

// printWarning reports, once, what the tracker recorded but did not fail on,
// such as reminders that could not be armed.
func printWarning(ctx *cli.Context, t *tracker.Tracker) {
	if msg := t.Err(); msg != "" {
		fmt.Fprintln(ctx.Out, cli.WarningStyle.Render(msg))
		t.ClearErr()
	}
}

type ListCmd struct{}

func (c *ListCmd) Run(ctx *cli.Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	habits := t.Habits()
	if len(habits) == 0 {
		fmt.Fprintln(ctx.Out, "No habits yet. Add one with 'habitual habit add <name>'.")
		return nil
	}

	today := ctx.Clock()()
	fmt.Fprintln(ctx.Out, cli.TitleStyle.Render(fmt.Sprintf("Habits for %s", today.Format("Monday, Jan 2"))))
	for _, h := range habits {
		fmt.Fprintln(ctx.Out, cli.FormatHabit(h, today))
	}
	printWarning(ctx, t)
	return nil
}

type ShowCmd struct {
	Habit string `arg:"" help:"Habit id or name."`
}

func (c *ShowCmd) Run(ctx *cli.Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	h, err := cli.ResolveHabit(t, c.Habit)
	if err != nil {
		return err
	}

	fmt.Fprintln(ctx.Out, cli.TitleStyle.Render(h.Icon+" "+h.Name))
	fmt.Fprintf(ctx.Out, "ID:          %s\n", h.ID)
	fmt.Fprintf(ctx.Out, "Streak:      %d days\n", h.Streak)
	fmt.Fprintf(ctx.Out, "Best streak: %d days\n", streak.Longest(h.CompletedDates))
	fmt.Fprintf(ctx.Out, "Weekly goal: %d\n", h.WeeklyGoal)
	fmt.Fprintf(ctx.Out, "Check-ins:   %d\n", len(h.CompletedDates))
	if len(h.Reminders) > 0 {
		names := make([]string, len(h.Reminders))
		for i, r := range h.Reminders {
			names[i] = r.String()
		}
		fmt.Fprintf(ctx.Out, "Reminders:   %s\n", strings.Join(names, ", "))
	}
	if h.Notes != "" {
		fmt.Fprintf(ctx.Out, "Notes:       %s\n", h.Notes)
	}
	return nil
}
