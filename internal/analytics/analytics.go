// Package analytics derives summary statistics from a set of habits. Nothing
// here is persisted; results are recomputed whenever the habit set changes.
package analytics

import (
	"sort"
	"time"

	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/models"
	"github.com/julianstephens/habitual/internal/utils"
)

// Attention pairs a habit that is behind on its weekly goal with its progress.
type Attention struct {
	Habit          models.Habit `json:"habit"`
	WeeklyProgress float64      `json:"weekly_progress"`
}

// HabitAnalytics is the zero value for an empty habit set.
type HabitAnalytics struct {
	TotalCheckinsLast7Days    int            `json:"total_checkins_last_7_days"`
	TotalCheckinsLast30Days   int            `json:"total_checkins_last_30_days"`
	AverageWeeklyGoalProgress float64        `json:"average_weekly_goal_progress"`
	AverageMonthlyCompletion  float64        `json:"average_monthly_completion"`
	LongestStreak             int            `json:"longest_streak"`
	LongestStreakHabits       []models.Habit `json:"longest_streak_habits,omitempty"`
	HabitsNeedingAttention    []Attention    `json:"habits_needing_attention,omitempty"`
}

// TrendDay is one day of the shared check-in timeline.
type TrendDay struct {
	Date      string `json:"date"`
	Completed bool   `json:"completed"` // at least one habit was done
	Count     int    `json:"count"`
}

// WeeklyProgress is min(1, done in the last 7 days / max(1, weekly goal)).
func WeeklyProgress(h models.Habit, today time.Time) float64 {
	done := h.CompletedIn(utils.LastNDays(today, constants.WeeklyWindowDays))
	return weeklyProgress(done, h.WeeklyGoal)
}

func weeklyProgress(done, goal int) float64 {
	return min(1.0, float64(done)/float64(max(1, goal)))
}

// Compute aggregates the habits. Both windows end on and include today.
func Compute(habits []models.Habit, today time.Time) HabitAnalytics {
	var a HabitAnalytics
	if len(habits) == 0 {
		return a
	}

	week := utils.LastNDays(today, constants.WeeklyWindowDays)
	month := utils.LastNDays(today, constants.MonthlyWindowDays)

	var weeklySum, monthlySum float64
	for _, h := range habits {
		done7 := h.CompletedIn(week)
		done30 := h.CompletedIn(month)
		a.TotalCheckinsLast7Days += done7
		a.TotalCheckinsLast30Days += done30

		progress := weeklyProgress(done7, h.WeeklyGoal)
		weeklySum += progress
		monthlySum += clamp01(float64(done30) / float64(constants.MonthlyWindowDays))

		if progress < constants.AttentionThreshold {
			a.HabitsNeedingAttention = append(a.HabitsNeedingAttention, Attention{Habit: h, WeeklyProgress: progress})
		}

		switch {
		case h.Streak < 1:
		case h.Streak > a.LongestStreak:
			a.LongestStreak = h.Streak
			a.LongestStreakHabits = []models.Habit{h}
		case h.Streak == a.LongestStreak:
			a.LongestStreakHabits = append(a.LongestStreakHabits, h)
		}
	}

	n := float64(len(habits))
	a.AverageWeeklyGoalProgress = weeklySum / n
	a.AverageMonthlyCompletion = monthlySum / n

	// Furthest behind first.
	sort.SliceStable(a.HabitsNeedingAttention, func(i, j int) bool {
		return a.HabitsNeedingAttention[i].WeeklyProgress < a.HabitsNeedingAttention[j].WeeklyProgress
	})
	return a
}

// Trend returns the last n days, oldest first, with how many habits were
// completed on each.
func Trend(habits []models.Habit, today time.Time, n int) []TrendDay {
	days := utils.LastNDays(today, n)
	out := make([]TrendDay, 0, len(days))
	for _, d := range days {
		count := 0
		for _, h := range habits {
			if h.IsCompletedOn(d) {
				count++
			}
		}
		out = append(out, TrendDay{Date: d, Completed: count > 0, Count: count})
	}
	return out
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
