package scheduler

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/julianstephens/habitual/internal/alarm"
	"github.com/julianstephens/habitual/internal/cache"
	"github.com/julianstephens/habitual/internal/models"
)

type fakeAlarms struct {
	mu      sync.Mutex
	pending map[uint32]alarm.Alarm
	setErr  error
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{pending: make(map[uint32]alarm.Alarm)}
}

func (f *fakeAlarms) Set(a alarm.Alarm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.pending[a.RequestID] = a
	return nil
}

func (f *fakeAlarms) Cancel(id uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[id]
	delete(f.pending, id)
	return ok
}

func (f *fakeAlarms) get(id uint32) (alarm.Alarm, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.pending[id]
	return a, ok
}

func (f *fakeAlarms) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

type memoryBook struct {
	ids map[string][]uint32
}

func newMemoryBook() *memoryBook {
	return &memoryBook{ids: make(map[string][]uint32)}
}

func (b *memoryBook) LoadRequestIDs(_ context.Context, habitID string) ([]uint32, error) {
	return b.ids[habitID], nil
}

func (b *memoryBook) SaveRequestIDs(_ context.Context, habitID string, ids []uint32) error {
	if len(ids) == 0 {
		delete(b.ids, habitID)
		return nil
	}
	b.ids[habitID] = ids
	return nil
}

func (b *memoryBook) ScheduledHabitIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(b.ids))
	for id := range b.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (b *memoryBook) ClearRequestIDs(_ context.Context, habitID string) error {
	delete(b.ids, habitID)
	return nil
}

type recordingNotifier struct {
	texts []string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.texts = append(n.texts, text)
	return n.err
}

// Monday 2024-01-01 09:00 UTC.
var monday = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestScheduler(now time.Time) (*Scheduler, *fakeAlarms, *memoryBook, *recordingNotifier) {
	alarms := newFakeAlarms()
	book := newMemoryBook()
	n := &recordingNotifier{}
	s := New(alarms, book, n, WithClock(func() time.Time { return now }))
	return s, alarms, book, n
}

func TestNextTrigger(t *testing.T) {
	tests := []struct {
		name     string
		reminder models.ReminderTime
		now      time.Time
		want     time.Time
	}{
		{
			name:     "daily already passed today",
			reminder: models.ReminderTime{Time: "08:00"},
			now:      monday,
			want:     time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "daily later today",
			reminder: models.ReminderTime{Time: "20:30"},
			now:      monday,
			want:     time.Date(2024, 1, 1, 20, 30, 0, 0, time.UTC),
		},
		{
			name:     "exactly now is not strictly after",
			reminder: models.ReminderTime{Time: "09:00"},
			now:      monday,
			want:     time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "wednesday from monday",
			reminder: models.ReminderTime{Time: "08:00", Days: []int{3}},
			now:      monday,
			want:     time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "monday already passed rolls a week",
			reminder: models.ReminderTime{Time: "08:00", Days: []int{1}},
			now:      monday,
			want:     time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "sunday",
			reminder: models.ReminderTime{Time: "07:15", Days: []int{7}},
			now:      monday,
			want:     time.Date(2024, 1, 7, 7, 15, 0, 0, time.UTC),
		},
		{
			name:     "picks earliest listed day",
			reminder: models.ReminderTime{Time: "10:00", Days: []int{5, 1}},
			now:      monday,
			want:     time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "crosses month end",
			reminder: models.ReminderTime{Time: "06:00"},
			now:      time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC),
			want:     time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextTrigger(tt.reminder, tt.now)
			if err != nil {
				t.Fatalf("NextTrigger() failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextTrigger() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextTriggerUsesNowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, loc)
	got, err := NextTrigger(models.ReminderTime{Time: "10:00"}, now)
	if err != nil {
		t.Fatalf("NextTrigger() failed: %v", err)
	}
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("NextTrigger() = %v, want %v", got, want)
	}
}

func TestNextTriggerErrors(t *testing.T) {
	if _, err := NextTrigger(models.ReminderTime{Time: "08:00", Days: []int{0, 9}}, monday); !errors.Is(err, ErrNoTrigger) {
		t.Errorf("out of range days error = %v, want %v", err, ErrNoTrigger)
	}

	for _, bad := range []string{"8:00", "25:00", "", "noon"} {
		_, err := NextTrigger(models.ReminderTime{Time: bad}, monday)
		var invalid *InvalidTimeError
		if !errors.As(err, &invalid) {
			t.Errorf("NextTrigger(%q) error = %v, want *InvalidTimeError", bad, err)
			continue
		}
		if invalid.Time != bad {
			t.Errorf("InvalidTimeError.Time = %q, want %q", invalid.Time, bad)
		}
	}
}

func TestRequestID(t *testing.T) {
	h := fnv.New32a()
	h.Write([]byte("habit-108:001,3"))
	if got := RequestID("habit-108:001,3"); got != h.Sum32() {
		t.Errorf("RequestID() = %d, want %d", got, h.Sum32())
	}

	a := models.ReminderTime{Time: "08:00", Days: []int{3, 1}}
	b := models.ReminderTime{Time: "08:00", Days: []int{1, 3}}
	if RequestID(a.Key("h")) != RequestID(b.Key("h")) {
		t.Error("day order changed the request id")
	}
	if RequestID(a.Key("h")) == RequestID(a.Key("other")) {
		t.Error("different habits share a request id")
	}
}

func TestSchedule(t *testing.T) {
	ctx := context.Background()
	s, alarms, book, _ := newTestScheduler(monday)

	reminders := []models.ReminderTime{
		{Time: "08:00"},
		{Time: "18:00", Days: []int{3, 5}},
	}
	res, err := s.Schedule(ctx, "h1", "Water", 4, reminders)
	if err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}
	if len(res.Scheduled) != 2 || len(res.Skipped) != 0 {
		t.Fatalf("Schedule() = %+v", res)
	}
	if alarms.count() != 2 {
		t.Errorf("armed %d alarms, want 2", alarms.count())
	}
	if len(book.ids["h1"]) != 2 {
		t.Errorf("bookkeeping = %v", book.ids["h1"])
	}

	id := RequestID(reminders[0].Key("h1"))
	a, ok := alarms.get(id)
	if !ok {
		t.Fatalf("no alarm under request id %d", id)
	}
	if !a.At.Equal(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("alarm at %v", a.At)
	}
	if a.Payload.HabitName != "Water" || a.Payload.Streak != 4 || a.Payload.Time != "08:00" || a.Payload.Snooze {
		t.Errorf("payload = %+v", a.Payload)
	}
}

func TestScheduleReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	s, alarms, book, _ := newTestScheduler(monday)

	old := models.ReminderTime{Time: "07:00"}
	if _, err := s.Schedule(ctx, "h1", "Water", 0, []models.ReminderTime{old, {Time: "12:00"}}); err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}

	fresh := models.ReminderTime{Time: "21:00"}
	if _, err := s.Schedule(ctx, "h1", "Water", 0, []models.ReminderTime{fresh}); err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}

	if alarms.count() != 1 {
		t.Errorf("armed %d alarms after reschedule, want 1", alarms.count())
	}
	if _, ok := alarms.get(RequestID(old.Key("h1"))); ok {
		t.Error("old alarm still armed")
	}
	if got := book.ids["h1"]; len(got) != 1 || got[0] != RequestID(fresh.Key("h1")) {
		t.Errorf("bookkeeping = %v", got)
	}
}

func TestScheduleEmptyCancelsAll(t *testing.T) {
	ctx := context.Background()
	s, alarms, book, _ := newTestScheduler(monday)

	if _, err := s.Schedule(ctx, "h1", "Water", 0, []models.ReminderTime{{Time: "07:00"}}); err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}
	res, err := s.Schedule(ctx, "h1", "Water", 0, nil)
	if err != nil {
		t.Fatalf("Schedule(nil) failed: %v", err)
	}
	if len(res.Scheduled) != 0 || alarms.count() != 0 {
		t.Errorf("alarms left: %d", alarms.count())
	}
	if _, ok := book.ids["h1"]; ok {
		t.Error("bookkeeping entry not cleared")
	}
}

func TestSchedulePartialFailure(t *testing.T) {
	ctx := context.Background()
	s, alarms, _, _ := newTestScheduler(monday)

	res, err := s.Schedule(ctx, "h1", "Water", 0, []models.ReminderTime{
		{Time: "08:00"},
		{Time: "8:00"},
	})
	if err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}
	if len(res.Scheduled) != 1 || len(res.Skipped) != 1 {
		t.Fatalf("Schedule() = %+v", res)
	}
	if alarms.count() != 1 {
		t.Errorf("armed %d alarms, want 1", alarms.count())
	}
}

func TestScheduleAllFail(t *testing.T) {
	ctx := context.Background()
	s, alarms, book, _ := newTestScheduler(monday)

	_, err := s.Schedule(ctx, "h1", "Water", 0, []models.ReminderTime{
		{Time: "bad"},
		{Time: "08:00", Days: []int{9}},
	})
	if !errors.Is(err, ErrNoRemindersScheduled) {
		t.Fatalf("Schedule() error = %v, want %v", err, ErrNoRemindersScheduled)
	}
	if !errors.Is(err, ErrNoTrigger) {
		t.Errorf("error does not carry ErrNoTrigger: %v", err)
	}
	var invalid *InvalidTimeError
	if !errors.As(err, &invalid) {
		t.Errorf("error does not carry *InvalidTimeError: %v", err)
	}
	if alarms.count() != 0 || len(book.ids) != 0 {
		t.Error("failed schedule left state behind")
	}

	alarms.setErr = errors.New("alarm service down")
	if _, err := s.Schedule(ctx, "h1", "Water", 0, []models.ReminderTime{{Time: "08:00"}}); !errors.Is(err, ErrNoRemindersScheduled) {
		t.Errorf("Schedule() with failing alarms error = %v", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	s, alarms, book, _ := newTestScheduler(monday)

	if err := s.Cancel(ctx, "missing"); err != nil {
		t.Errorf("Cancel() with nothing scheduled = %v", err)
	}

	if _, err := s.Schedule(ctx, "h1", "Water", 0, []models.ReminderTime{{Time: "08:00"}, {Time: "09:30"}}); err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}
	if _, err := s.ScheduleSnooze(ctx, "h1", "Water", 0, models.ReminderTime{Time: "08:00"}, 0); err != nil {
		t.Fatalf("ScheduleSnooze() failed: %v", err)
	}

	if err := s.Cancel(ctx, "h1"); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	if alarms.count() != 1 {
		t.Fatalf("expected only the snooze alarm to survive, %d armed", alarms.count())
	}
	if _, ok := alarms.get(RequestID("h1#snooze")); !ok {
		t.Error("snooze alarm was cancelled")
	}
	if _, ok := book.ids["h1"]; ok {
		t.Error("bookkeeping entry not cleared")
	}
}

func TestScheduleSnooze(t *testing.T) {
	ctx := context.Background()
	s, alarms, book, _ := newTestScheduler(monday)

	a, err := s.ScheduleSnooze(ctx, "h1", "Water", 2, models.ReminderTime{Time: "08:45", Days: []int{1}}, 0)
	if err != nil {
		t.Fatalf("ScheduleSnooze() failed: %v", err)
	}
	if !a.At.Equal(monday.Add(30 * time.Minute)) {
		t.Errorf("snooze at %v, want %v", a.At, monday.Add(30*time.Minute))
	}
	if a.Payload.Time != "09:15" || !a.Payload.Snooze {
		t.Errorf("payload = %+v", a.Payload)
	}
	if a.RequestID != RequestID("h1#snooze") {
		t.Errorf("request id = %d", a.RequestID)
	}
	if _, ok := alarms.get(a.RequestID); !ok {
		t.Error("snooze alarm not armed")
	}
	if len(book.ids) != 0 {
		t.Errorf("snooze written to bookkeeping: %v", book.ids)
	}

	custom := New(alarms, book, &recordingNotifier{}, WithClock(func() time.Time { return monday }), WithSnoozeDelay(10*time.Minute))
	b, err := custom.ScheduleSnooze(ctx, "h2", "Read", 0, models.ReminderTime{}, 0)
	if err != nil {
		t.Fatalf("ScheduleSnooze() failed: %v", err)
	}
	if !b.At.Equal(monday.Add(10*time.Minute)) || b.Payload.Time != "09:10" {
		t.Errorf("custom snooze = %+v", b)
	}
}

func TestHandleFireRearms(t *testing.T) {
	ctx := context.Background()
	s, alarms, _, n := newTestScheduler(monday)

	r := models.ReminderTime{Time: "08:00", Days: []int{1, 3}}
	fired := alarm.Alarm{
		RequestID: RequestID(r.Key("h1")),
		At:        monday,
		Payload:   alarm.Payload{HabitID: "h1", HabitName: "Water", Streak: 3, Time: r.Time, Days: r.Days},
	}
	s.HandleFire(ctx, fired)

	if len(n.texts) != 1 || n.texts[0] != "Time for Water! Current streak: 3 days" {
		t.Errorf("notifications = %v", n.texts)
	}
	next, ok := alarms.get(fired.RequestID)
	if !ok {
		t.Fatal("alarm not re-armed under the same request id")
	}
	if !next.At.Equal(time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("re-armed at %v", next.At)
	}
}

func TestHandleFireSnoozeDoesNotRearm(t *testing.T) {
	ctx := context.Background()
	s, alarms, _, n := newTestScheduler(monday)

	s.HandleFire(ctx, alarm.Alarm{
		RequestID: RequestID("h1#snooze"),
		At:        monday,
		Payload:   alarm.Payload{HabitID: "h1", HabitName: "Water", Time: "09:00", Snooze: true},
	})
	if len(n.texts) != 1 {
		t.Errorf("notifications = %v", n.texts)
	}
	if alarms.count() != 0 {
		t.Errorf("snooze fire armed %d alarms", alarms.count())
	}
}

func TestHandleFireNotifierFailureStillRearms(t *testing.T) {
	ctx := context.Background()
	s, alarms, _, n := newTestScheduler(monday)
	n.err = errors.New("tray not running")

	s.HandleFire(ctx, alarm.Alarm{
		RequestID: 7,
		At:        monday,
		Payload:   alarm.Payload{HabitID: "h1", HabitName: "Water", Time: "08:00"},
	})
	if _, ok := alarms.get(7); !ok {
		t.Error("alarm not re-armed after delivery failure")
	}
}

func TestRescheduleAll(t *testing.T) {
	ctx := context.Background()
	s, alarms, _, _ := newTestScheduler(monday)

	habits := []models.Habit{
		{ID: "h1", Name: "Water", Reminders: []models.ReminderTime{{Time: "08:00"}, {Time: "14:00"}}},
		{ID: "h2", Name: "Read"},
		{ID: "h3", Name: "Broken", Reminders: []models.ReminderTime{{Time: "x"}}},
	}
	if got := s.RescheduleAll(ctx, habits); got != 2 {
		t.Errorf("RescheduleAll() = %d, want 2", got)
	}
	if alarms.count() != 2 {
		t.Errorf("armed %d alarms, want 2", alarms.count())
	}
}

func TestRescheduleAllDropsStaleBookkeeping(t *testing.T) {
	ctx := context.Background()
	store, err := cache.Open(ctx, filepath.Join(t.TempDir(), "habitual.db"))
	if err != nil {
		t.Fatalf("cache.Open() failed: %v", err)
	}
	defer store.Close()

	// Left behind by a habit deleted while no daemon was running.
	if err := store.SaveRequestIDs(ctx, "gone", []uint32{7, 8}); err != nil {
		t.Fatal(err)
	}

	alarms := newFakeAlarms()
	s := New(alarms, store, &recordingNotifier{}, WithClock(func() time.Time { return monday }))
	habits := []models.Habit{{ID: "h1", Name: "Water", Reminders: []models.ReminderTime{{Time: "08:00"}}}}
	if got := s.RescheduleAll(ctx, habits); got != 1 {
		t.Errorf("RescheduleAll() = %d, want 1", got)
	}

	ids, err := store.ScheduledHabitIDs(ctx)
	if err != nil {
		t.Fatalf("ScheduledHabitIDs() failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "h1" {
		t.Errorf("ScheduledHabitIDs() = %v, want [h1]", ids)
	}
}

func TestScheduleWithCacheBookkeeping(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "habitual.db")
	store, err := cache.Open(ctx, path)
	if err != nil {
		t.Fatalf("cache.Open() failed: %v", err)
	}

	alarms := newFakeAlarms()
	s := New(alarms, store, &recordingNotifier{}, WithClock(func() time.Time { return monday }))
	if _, err := s.Schedule(ctx, "h1", "Water", 0, []models.ReminderTime{{Time: "08:00"}, {Time: "19:00"}}); err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}
	store.Close()

	// A restarted process can still cancel what the previous one armed.
	reopened, err := cache.Open(ctx, path)
	if err != nil {
		t.Fatalf("cache.Open() failed: %v", err)
	}
	defer reopened.Close()

	restarted := New(alarms, reopened, &recordingNotifier{}, WithClock(func() time.Time { return monday }))
	if err := restarted.Cancel(ctx, "h1"); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	if alarms.count() != 0 {
		t.Errorf("%d alarms left after cancel", alarms.count())
	}
	ids, err := reopened.LoadRequestIDs(ctx, "h1")
	if err != nil || len(ids) != 0 {
		t.Errorf("LoadRequestIDs() = %v, %v", ids, err)
	}
}

func TestScheduleWithAlarmService(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	svc := alarm.NewService()
	defer svc.Close()

	n := &syncNotifier{ch: make(chan string, 1)}
	s := New(svc, newMemoryBook(), n)
	svc.SetReceiver(s.HandleFire)

	// A snooze with a tiny delay fires through the real service.
	if _, err := s.ScheduleSnooze(ctx, "h1", "Stretch", 1, models.ReminderTime{Time: now.Format("15:04")}, 10*time.Millisecond); err != nil {
		t.Fatalf("ScheduleSnooze() failed: %v", err)
	}
	select {
	case text := <-n.ch:
		if text != "Time for Stretch! Current streak: 1 days" {
			t.Errorf("notification = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snooze alarm never fired")
	}
}

type syncNotifier struct {
	ch chan string
}

func (n *syncNotifier) Notify(_ context.Context, text string) error {
	n.ch <- text
	return nil
}
