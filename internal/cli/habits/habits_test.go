package habits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/julianstephens/habitual/internal/analytics"
	"github.com/julianstephens/habitual/internal/cli"
	"github.com/julianstephens/habitual/internal/config"
	apperrors "github.com/julianstephens/habitual/internal/errors"
)

var testNow = time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func setupTestContext(t *testing.T) (*cli.Context, *syncBuffer) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Timezone = "UTC"
	cfg.Remote.Driver = config.DriverMemory
	cfg.Reminders.Notifier = config.NotifierStdout

	out := &syncBuffer{}
	ctx := cli.New(context.Background(), cfg, false)
	ctx.Prompts = nil
	ctx.Out = out
	ctx.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { ctx.Close() })
	return ctx, out
}

func addHabit(t *testing.T, ctx *cli.Context, cmd AddCmd) {
	t.Helper()
	if err := cmd.Run(ctx); err != nil {
		t.Fatalf("add %q failed: %v", cmd.Name, err)
	}
}

func TestAddAndList(t *testing.T) {
	ctx, out := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Icon: "📚", Goal: 3, Remind: []string{"08:00@mon,wed"}})
	addHabit(t, ctx, AddCmd{Name: "Water", Goal: 7})

	out.Reset()
	if err := (&ListCmd{}).Run(ctx); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Read", "📚", "0/3", "Water", "🔥", "0/7"} {
		if !strings.Contains(got, want) {
			t.Errorf("list output missing %q:\n%s", want, got)
		}
	}

	tr, _ := ctx.Tracker()
	h, ok := tr.FindByName("read")
	if !ok {
		t.Fatal("Read not found")
	}
	if len(h.Reminders) != 1 || h.Reminders[0].Time != "08:00" || len(h.Reminders[0].Days) != 2 {
		t.Errorf("Reminders = %+v", h.Reminders)
	}
}

func TestListEmpty(t *testing.T) {
	ctx, out := setupTestContext(t)
	if err := (&ListCmd{}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No habits yet") {
		t.Errorf("output = %q", out.String())
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	ctx, _ := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5})

	tests := []struct {
		name       string
		cmd        AddCmd
		validation bool
	}{
		{name: "duplicate name", cmd: AddCmd{Name: " read ", Icon: "📚", Goal: 5}, validation: true},
		{name: "unknown icon", cmd: AddCmd{Name: "Run", Icon: "🦄", Goal: 5}, validation: true},
		{name: "empty name", cmd: AddCmd{Name: "  ", Goal: 5}, validation: true},
		{name: "bad reminder", cmd: AddCmd{Name: "Run", Goal: 5, Remind: []string{"8am"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Run(ctx)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.validation && !apperrors.IsValidation(err) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}
}

func TestEditKeepsUnsetFields(t *testing.T) {
	ctx, _ := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Icon: "📚", Goal: 3, Remind: []string{"08:00"}, Notes: "ten pages"})

	if err := (&EditCmd{Habit: "Read", Name: "Reading", Goal: 4}).Run(ctx); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	tr, _ := ctx.Tracker()
	h, ok := tr.FindByName("Reading")
	if !ok {
		t.Fatal("renamed habit not found")
	}
	if h.Icon != "📚" || h.WeeklyGoal != 4 || h.Notes != "ten pages" || len(h.Reminders) != 1 {
		t.Errorf("habit = %+v", h)
	}

	if err := (&EditCmd{Habit: h.ID, ClearReminders: true, ClearNotes: true}).Run(ctx); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	h, _ = tr.Habit(h.ID)
	if len(h.Reminders) != 0 || h.Notes != "" {
		t.Errorf("habit = %+v", h)
	}

	if err := (&EditCmd{Habit: h.ID, ClearReminders: true, Remind: []string{"09:00"}}).Run(ctx); err == nil {
		t.Error("conflicting reminder flags should fail")
	}
}

func TestToggleAndCheckin(t *testing.T) {
	ctx, out := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5})

	if err := (&ToggleCmd{Habit: "Read", Date: "2024-05-19"}).Run(ctx); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	out.Reset()
	if err := (&CheckinCmd{Habit: "Read"}).Run(ctx); err != nil {
		t.Fatalf("checkin failed: %v", err)
	}
	if !strings.Contains(out.String(), "done on 2024-05-20. Streak: 2") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := (&CheckinCmd{Habit: "Read"}).Run(ctx); err != nil {
		t.Fatalf("second checkin failed: %v", err)
	}
	if !strings.Contains(out.String(), "not done on 2024-05-20") {
		t.Errorf("output = %q", out.String())
	}

	if err := (&ToggleCmd{Habit: "Read", Date: "20-05-2024"}).Run(ctx); err == nil {
		t.Error("invalid date should fail")
	}
	if err := (&ToggleCmd{Habit: "Nope"}).Run(ctx); err == nil {
		t.Error("unknown habit should fail")
	}
}

func TestDeleteAndShow(t *testing.T) {
	ctx, out := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5, Remind: []string{"21:00@sun"}, Notes: "before bed"})

	out.Reset()
	if err := (&ShowCmd{Habit: "Read"}).Run(ctx); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	for _, want := range []string{"Weekly goal: 5", "21:00 (Sun)", "before bed"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("show output missing %q:\n%s", want, out.String())
		}
	}

	if err := (&DeleteCmd{Habit: "Read", Yes: true}).Run(ctx); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	tr, _ := ctx.Tracker()
	if len(tr.Habits()) != 0 {
		t.Errorf("Habits() = %v, want empty", tr.Habits())
	}
	if err := (&ShowCmd{Habit: "Read"}).Run(ctx); err == nil {
		t.Error("show after delete should fail")
	}
}

func TestAnalyticsJSON(t *testing.T) {
	ctx, out := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 2})
	if err := (&CheckinCmd{Habit: "Read"}).Run(ctx); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := (&AnalyticsCmd{Days: 3, JSON: true}).Run(ctx); err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	var got struct {
		analytics.HabitAnalytics
		Trend []analytics.TrendDay `json:"trend"`
	}
	if err := json.Unmarshal([]byte(out.String()), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out.String())
	}
	if got.TotalCheckinsLast7Days != 1 || got.LongestStreak != 1 {
		t.Errorf("analytics = %+v", got.HabitAnalytics)
	}
	if len(got.Trend) != 3 || got.Trend[len(got.Trend)-1].Count != 1 {
		t.Errorf("trend = %+v", got.Trend)
	}
}

func TestAnalyticsText(t *testing.T) {
	ctx, out := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5})

	out.Reset()
	if err := (&AnalyticsCmd{Days: 7}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Check-ins (7 days):       0", "Needs attention", "Last 7 days"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestSnoozeWaitsForDelivery(t *testing.T) {
	ctx, out := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5, Remind: []string{"08:00"}})

	done := make(chan error, 1)
	go func() { done <- (&SnoozeCmd{Habit: "Read", Delay: 10 * time.Millisecond}).Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("snooze failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("snooze never delivered")
	}
	if !strings.Contains(out.String(), "Time for Read! Current streak: 0 days") {
		t.Errorf("output = %q", out.String())
	}
}

func TestSnoozeRejectsBadTime(t *testing.T) {
	ctx, _ := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5})
	if err := (&SnoozeCmd{Habit: "Read", Time: "7:5"}).Run(ctx); err == nil {
		t.Error("expected error for bad time")
	}
	if err := (&SnoozeCmd{Habit: "Read", Delay: -time.Second}).Run(ctx); err == nil {
		t.Error("expected error for negative delay")
	}
}

type stubPrompter struct {
	confirm bool
	icon    string
	asked   []string
}

func (p *stubPrompter) Confirm(title string) (bool, error) {
	p.asked = append(p.asked, title)
	return p.confirm, nil
}

func (p *stubPrompter) SelectIcon(title string) (string, error) {
	p.asked = append(p.asked, title)
	return p.icon, nil
}

func TestShowReportsBestStreak(t *testing.T) {
	ctx, out := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5})
	for _, date := range []string{"2024-05-17", "2024-05-18", "2024-05-20"} {
		if err := (&ToggleCmd{Habit: "Read", Date: date}).Run(ctx); err != nil {
			t.Fatalf("toggle %s failed: %v", date, err)
		}
	}

	out.Reset()
	if err := (&ShowCmd{Habit: "Read"}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Streak:      1 days", "Best streak: 2 days", "Check-ins:   3"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("show output missing %q:\n%s", want, out.String())
		}
	}
}

func TestAddAsksForIconWhenOmitted(t *testing.T) {
	ctx, _ := setupTestContext(t)
	prompts := &stubPrompter{icon: "🧘"}
	ctx.Prompts = prompts

	addHabit(t, ctx, AddCmd{Name: "Meditate", Goal: 7})
	addHabit(t, ctx, AddCmd{Name: "Read", Icon: "📚", Goal: 3})

	if len(prompts.asked) != 1 || !strings.Contains(prompts.asked[0], "Meditate") {
		t.Errorf("asked = %q, want one icon prompt for Meditate", prompts.asked)
	}
	tr, _ := ctx.Tracker()
	got := map[string]string{}
	for _, h := range tr.Habits() {
		got[h.Name] = h.Icon
	}
	if got["Meditate"] != "🧘" || got["Read"] != "📚" {
		t.Errorf("icons = %v", got)
	}
}

func TestDeleteConfirmation(t *testing.T) {
	ctx, out := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5})
	tr, _ := ctx.Tracker()

	ctx.Prompts = &stubPrompter{confirm: false}
	out.Reset()
	if err := (&DeleteCmd{Habit: "Read"}).Run(ctx); err != nil {
		t.Fatalf("declined delete failed: %v", err)
	}
	if !strings.Contains(out.String(), "Cancelled.") || len(tr.Habits()) != 1 {
		t.Errorf("declined delete removed the habit: output %q, habits %v", out.String(), tr.Habits())
	}

	ctx.Prompts = nil
	if err := (&DeleteCmd{Habit: "Read"}).Run(ctx); !errors.Is(err, cli.ErrNotInteractive) {
		t.Errorf("delete without a terminal = %v, want ErrNotInteractive", err)
	}
	if len(tr.Habits()) != 1 {
		t.Errorf("habit deleted without confirmation")
	}

	ctx.Prompts = &stubPrompter{confirm: true}
	if err := (&DeleteCmd{Habit: "Read"}).Run(ctx); err != nil {
		t.Fatalf("confirmed delete failed: %v", err)
	}
	if len(tr.Habits()) != 0 {
		t.Errorf("Habits() = %v, want empty", tr.Habits())
	}
}

func TestWritesKeepReminderBookkeeping(t *testing.T) {
	ctx, _ := setupTestContext(t)
	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5, Remind: []string{"08:00"}})

	tr, _ := ctx.Tracker()
	id := tr.Habits()[0].ID
	store, err := ctx.Cache()
	if err != nil {
		t.Fatal(err)
	}
	ids, err := store.LoadRequestIDs(ctx.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) == 0 {
		t.Fatal("add with a reminder recorded no request ids")
	}

	if err := (&DeleteCmd{Habit: "Read", Yes: true}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if ids, _ := store.LoadRequestIDs(ctx.Ctx, id); len(ids) != 0 {
		t.Errorf("request ids after delete = %v, want none", ids)
	}
}

func TestStaleBookkeepingDroppedOnStart(t *testing.T) {
	ctx, _ := setupTestContext(t)
	store, err := ctx.Cache()
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRequestIDs(ctx.Ctx, "ghost", []uint32{11, 12}); err != nil {
		t.Fatal(err)
	}

	addHabit(t, ctx, AddCmd{Name: "Read", Goal: 5, Remind: []string{"08:00"}})

	scheduled, err := store.ScheduledHabitIDs(ctx.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	tr, _ := ctx.Tracker()
	if len(scheduled) != 1 || scheduled[0] != tr.Habits()[0].ID {
		t.Errorf("ScheduledHabitIDs() = %v, want only the live habit", scheduled)
	}
}
