package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/habitual/internal/analytics"
	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/models"
	"github.com/julianstephens/habitual/internal/tracker"
	"github.com/julianstephens/habitual/internal/utils"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	DoneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	DangerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)
)

// ParseReminders parses reminder flags of the form "HH:MM" (daily) or
// "HH:MM@mon,wed".
func ParseReminders(values []string) ([]models.ReminderTime, error) {
	reminders := make([]models.ReminderTime, 0, len(values))
	for _, v := range values {
		timePart, daysPart, _ := strings.Cut(strings.TrimSpace(v), "@")
		if _, err := utils.ParseTime(timePart); err != nil {
			return nil, fmt.Errorf("invalid reminder %q: expected HH:MM or HH:MM@mon,wed", v)
		}
		days, err := models.ParseDays(daysPart)
		if err != nil {
			return nil, fmt.Errorf("invalid reminder %q: %w", v, err)
		}
		reminders = append(reminders, models.ReminderTime{Time: timePart, Days: days})
	}
	return reminders, nil
}

// ResolveHabit finds a habit by id, falling back to a case-insensitive name
// match.
func ResolveHabit(t *tracker.Tracker, ref string) (models.Habit, error) {
	if h, ok := t.Habit(ref); ok {
		return h, nil
	}
	if h, ok := t.FindByName(ref); ok {
		return h, nil
	}
	return models.Habit{}, fmt.Errorf("habit %q not found", ref)
}

// ProgressBar renders a fraction in [0, 1] as a fixed-width bar.
func ProgressBar(fraction float64, width int) string {
	fraction = min(1, max(0, fraction))
	filled := int(fraction*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// FormatHabit renders one list line: done marker, icon, name, streak and
// weekly progress.
func FormatHabit(h models.Habit, today time.Time) string {
	mark := MutedStyle.Render("·")
	if h.IsCompletedOn(utils.FormatDate(today)) {
		mark = DoneStyle.Render("✓")
	}
	progress := analytics.WeeklyProgress(h, today)
	done := h.CompletedIn(utils.LastNDays(today, constants.WeeklyWindowDays))
	line := fmt.Sprintf("%s %s %s  %s %d/%d  streak %d",
		mark, h.Icon, h.Name, ProgressBar(progress, constants.WeeklyWindowDays), done, h.WeeklyGoal, h.Streak)
	return line + MutedStyle.Render("  "+h.ID)
}
