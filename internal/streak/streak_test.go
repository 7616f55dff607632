package streak

import (
	"testing"
	"time"
)

func days(today time.Time, offsets ...int) []string {
	out := make([]string, 0, len(offsets))
	for _, o := range offsets {
		out = append(out, today.AddDate(0, 0, -o).Format("2006-01-02"))
	}
	return out
}

func TestCalculate(t *testing.T) {
	today := time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		dates []string
		want  int
	}{
		{name: "empty", dates: nil, want: 0},
		{name: "today only", dates: days(today, 0), want: 1},
		{name: "three consecutive", dates: days(today, 0, 1, 2), want: 3},
		{name: "today missing", dates: days(today, 1), want: 0},
		{name: "gap after today", dates: days(today, 0, 2), want: 1},
		{name: "long run ending yesterday", dates: days(today, 1, 2, 3, 4, 5, 6, 7), want: 0},
		{name: "unordered input", dates: days(today, 2, 0, 1), want: 3},
		{name: "across leap day", dates: []string{"2024-02-28", "2024-02-29", "2024-03-01"}, want: 3},
		{name: "invalid strings ignored", dates: []string{"not-a-date", "2024-03-01"}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Calculate(tt.dates, today); got != tt.want {
				t.Errorf("Calculate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCalculate_UsesTodaysLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// 2024-03-01 23:00 UTC is already 2024-03-02 in UTC+10.
	today := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC).In(loc)

	if got := Calculate([]string{"2024-03-02"}, today); got != 1 {
		t.Errorf("Calculate() = %d, want 1", got)
	}
	if got := Calculate([]string{"2024-03-01"}, today); got != 0 {
		t.Errorf("Calculate() = %d, want 0", got)
	}
}

func TestLongest(t *testing.T) {
	tests := []struct {
		name  string
		dates []string
		want  int
	}{
		{name: "empty", dates: nil, want: 0},
		{name: "single", dates: []string{"2024-01-10"}, want: 1},
		{name: "two runs", dates: []string{"2024-01-01", "2024-01-02", "2024-01-05", "2024-01-06", "2024-01-07"}, want: 3},
		{name: "month boundary", dates: []string{"2024-01-31", "2024-02-01"}, want: 2},
		{name: "duplicates", dates: []string{"2024-01-01", "2024-01-01", "2024-01-02"}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Longest(tt.dates); got != tt.want {
				t.Errorf("Longest() = %d, want %d", got, tt.want)
			}
		})
	}
}
