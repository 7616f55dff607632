package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/julianstephens/habitual/internal/models"
)

func TestParseReminders(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    []models.ReminderTime
		wantErr bool
	}{
		{name: "none", input: nil, want: []models.ReminderTime{}},
		{name: "daily", input: []string{"08:00"}, want: []models.ReminderTime{{Time: "08:00"}}},
		{name: "weekdays by name", input: []string{"21:30@mon,wed"}, want: []models.ReminderTime{{Time: "21:30", Days: []int{1, 3}}}},
		{name: "weekdays by number", input: []string{"07:05@7"}, want: []models.ReminderTime{{Time: "07:05", Days: []int{7}}}},
		{name: "missing zero padding", input: []string{"8:00"}, wantErr: true},
		{name: "bad time", input: []string{"25:00"}, wantErr: true},
		{name: "bad day", input: []string{"08:00@someday"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReminders(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReminders() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseReminders() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i].Time != tt.want[i].Time || len(got[i].Days) != len(tt.want[i].Days) {
					t.Errorf("reminder %d = %+v, want %+v", i, got[i], tt.want[i])
					continue
				}
				for j := range got[i].Days {
					if got[i].Days[j] != tt.want[i].Days[j] {
						t.Errorf("reminder %d days = %v, want %v", i, got[i].Days, tt.want[i].Days)
					}
				}
			}
		})
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		fraction float64
		want     string
	}{
		{0, "░░░░"},
		{0.5, "██░░"},
		{1, "████"},
		{3, "████"},
		{-1, "░░░░"},
	}
	for _, tt := range tests {
		if got := ProgressBar(tt.fraction, 4); got != tt.want {
			t.Errorf("ProgressBar(%v) = %q, want %q", tt.fraction, got, tt.want)
		}
	}
}

func TestFormatHabit(t *testing.T) {
	today := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)
	h := models.Habit{
		ID:             "h1",
		Name:           "Read",
		Icon:           "📚",
		WeeklyGoal:     2,
		Streak:         3,
		CompletedDates: []string{"2024-05-18", "2024-05-19", "2024-05-20"},
	}
	line := FormatHabit(h, today)
	for _, want := range []string{"✓", "📚", "Read", "3/2", "streak 3", "h1"} {
		if !strings.Contains(line, want) {
			t.Errorf("FormatHabit() = %q, missing %q", line, want)
		}
	}
}
