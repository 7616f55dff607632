package habits

import (
	"encoding/json"
	"fmt"

	"github.com/julianstephens/habitual/internal/analytics"
	"github.com/julianstephens/habitual/internal/cli"
	"github.com/julianstephens/habitual/internal/constants"
)

type AnalyticsCmd struct {
	Days int  `help:"Days shown in the trend." default:"14"`
	JSON bool `help:"Print the statistics as JSON." name:"json"`
}

func (c *AnalyticsCmd) Run(ctx *cli.Context) error {
	if c.Days < 1 {
		c.Days = constants.TrendWindowDays
	}
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	stats := t.Analytics()
	trend := t.Trend(c.Days)

	if c.JSON {
		enc := json.NewEncoder(ctx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			analytics.HabitAnalytics
			Trend []analytics.TrendDay `json:"trend"`
		}{stats, trend})
	}

	out := ctx.Out
	fmt.Fprintln(out, cli.TitleStyle.Render("Analytics"))
	fmt.Fprintf(out, "Check-ins (7 days):       %d\n", stats.TotalCheckinsLast7Days)
	fmt.Fprintf(out, "Check-ins (30 days):      %d\n", stats.TotalCheckinsLast30Days)
	fmt.Fprintf(out, "Weekly goal progress:     %s %.0f%%\n", cli.ProgressBar(stats.AverageWeeklyGoalProgress, 10), stats.AverageWeeklyGoalProgress*100)
	fmt.Fprintf(out, "Monthly completion:       %s %.0f%%\n", cli.ProgressBar(stats.AverageMonthlyCompletion, 10), stats.AverageMonthlyCompletion*100)
	fmt.Fprintf(out, "Longest streak:           %d days\n", stats.LongestStreak)
	for _, h := range stats.LongestStreakHabits {
		fmt.Fprintf(out, "  %s %s\n", h.Icon, h.Name)
	}

	if len(stats.HabitsNeedingAttention) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, cli.WarningStyle.Render("Needs attention"))
		for _, a := range stats.HabitsNeedingAttention {
			fmt.Fprintf(out, "  %s %s %.0f%% of weekly goal\n", a.Habit.Icon, a.Habit.Name, a.WeeklyProgress*100)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, cli.TitleStyle.Render(fmt.Sprintf("Last %d days", c.Days)))
	for _, day := range trend {
		mark := cli.MutedStyle.Render("·")
		if day.Completed {
			mark = cli.DoneStyle.Render("✓")
		}
		fmt.Fprintf(out, "  %s %s %d\n", day.Date, mark, day.Count)
	}
	return nil
}
