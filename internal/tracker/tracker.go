// Package tracker owns the in-memory habit collection. It applies user
// intents through the repository, replaces its state on every remote
// snapshot, keeps analytics current and tells the scheduler when reminders
// need re-arming.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/julianstephens/habitual/internal/analytics"
	"github.com/julianstephens/habitual/internal/constants"
	apperrors "github.com/julianstephens/habitual/internal/errors"
	"github.com/julianstephens/habitual/internal/logger"
	"github.com/julianstephens/habitual/internal/metrics"
	"github.com/julianstephens/habitual/internal/models"
	"github.com/julianstephens/habitual/internal/remote"
	"github.com/julianstephens/habitual/internal/repository"
	"github.com/julianstephens/habitual/internal/scheduler"
	"github.com/julianstephens/habitual/internal/utils"
)

// ErrClosed is returned by intents after Close.
var ErrClosed = errors.New("tracker closed")

// Repository is the subset of *repository.Repository the tracker drives.
type Repository interface {
	Today() time.Time
	CalculateStreak(completedDates []string) int
	EnsureUserID(ctx context.Context) string
	ListenToHabits(ctx context.Context, userID string, onChange func([]models.Habit), onError func(error)) (remote.Subscription, error)
	AddHabit(ctx context.Context, userID string, habit models.Habit) (models.Habit, error)
	UpdateHabit(ctx context.Context, userID string, habit models.Habit) error
	DeleteHabit(ctx context.Context, userID, id string) error
	ValidateUniqueness(ctx context.Context, name, icon, excludeID string) (string, error)
	ReplaceCache(ctx context.Context, habits []models.Habit, ownerID string) error
	LoadCachedHabits(ctx context.Context) ([]models.Habit, error)
	ToggleDate(ctx context.Context, userID string, habit models.Habit, date string) (models.Habit, error)
	ToggleCompletionByID(ctx context.Context, userID, id string) (models.Habit, bool, error)
}

// Scheduler arms and cancels reminder alarms.
type Scheduler interface {
	Schedule(ctx context.Context, habitID, habitName string, streak int, reminders []models.ReminderTime) (scheduler.Result, error)
	Cancel(ctx context.Context, habitID string) error
	RescheduleAll(ctx context.Context, habits []models.Habit) int
}

// Details are the user-editable fields of a habit.
type Details struct {
	Name       string
	Icon       string
	WeeklyGoal int
	Reminders  []models.ReminderTime
	Notes      string
}

// armed is what was last handed to the scheduler for a habit.
type armed struct {
	name      string
	streak    int
	reminders []models.ReminderTime
}

type Tracker struct {
	repo  Repository
	sched Scheduler

	mu          sync.Mutex
	habits      []models.Habit
	analytics   analytics.HabitAnalytics
	lastErr     string
	userID      string
	sub         remote.Subscription
	subscribers map[int]chan []models.Habit
	nextSubID   int
	closed      bool

	schedMu sync.Mutex
	armed   map[string]armed
}

type Option func(*Tracker)

// WithScheduler enables reminder scheduling. Without it reminders are stored
// but never armed.
func WithScheduler(s Scheduler) Option {
	return func(t *Tracker) { t.sched = s }
}

func New(repo Repository, opts ...Option) *Tracker {
	t := &Tracker{
		repo:        repo,
		habits:      []models.Habit{},
		subscribers: make(map[int]chan []models.Habit),
		armed:       make(map[string]armed),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Bootstrap loads the cache for an instant start, resolves the user and
// subscribes to remote changes. Only a cache failure is returned; a failed
// subscription is recorded in Err and the cached state stays usable.
func (t *Tracker) Bootstrap(ctx context.Context) error {
	cached, err := t.repo.LoadCachedHabits(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.habits = sortHabits(cached)
	t.recomputeLocked()
	t.publishLocked()
	t.mu.Unlock()
	t.rescheduleAll(ctx, cached)

	userID := t.repo.EnsureUserID(ctx)
	t.mu.Lock()
	t.userID = userID
	t.mu.Unlock()

	// Snapshots outlive the bootstrap call.
	listenCtx := context.WithoutCancel(ctx)
	sub, err := t.repo.ListenToHabits(listenCtx, userID, func(habits []models.Habit) {
		t.applySnapshot(listenCtx, habits)
	}, func(err error) {
		t.setErr(fmt.Sprintf("Sync problem: %v", err))
	})
	if err != nil {
		logger.Warn("Working from cache only", "error", err)
		t.setErr(fmt.Sprintf("Could not connect to sync: %v", err))
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		sub.Remove()
		return ErrClosed
	}
	t.sub = sub
	return nil
}

func (t *Tracker) applySnapshot(ctx context.Context, habits []models.Habit) {
	t.mu.Lock()
	userID := t.userID
	t.mu.Unlock()

	if err := t.repo.ReplaceCache(ctx, habits, userID); err != nil {
		logger.Error("Failed to refresh cache from snapshot", "error", err)
		t.setErr(fmt.Sprintf("Could not update local cache: %v", err))
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.habits = sortHabits(habits)
	for i := range t.habits {
		t.habits[i].OwnerID = userID
	}
	t.recomputeLocked()
	t.publishLocked()
	t.mu.Unlock()

	t.syncReminders(ctx, habits)
}

// AddHabit validates and stores a new habit, shows it immediately and arms
// its reminders. A reminder failure is recorded in Err but the habit is
// still returned.
func (t *Tracker) AddHabit(ctx context.Context, d Details) (models.Habit, error) {
	userID, err := t.currentUser()
	if err != nil {
		return models.Habit{}, err
	}

	habit := models.Habit{
		Name:           strings.TrimSpace(d.Name),
		Icon:           d.Icon,
		CompletedDates: []string{},
		WeeklyGoal:     d.WeeklyGoal,
		Reminders:      d.Reminders,
		Notes:          strings.TrimSpace(d.Notes),
	}
	if habit.Icon == "" {
		habit.Icon = constants.DefaultIcon
	}
	if habit.WeeklyGoal == 0 {
		habit.WeeklyGoal = constants.DefaultWeeklyGoal
	}
	habit.WeeklyGoal = models.ClampWeeklyGoal(habit.WeeklyGoal)

	if err := t.validate(ctx, &habit, ""); err != nil {
		return models.Habit{}, err
	}

	created, err := t.repo.AddHabit(ctx, userID, habit)
	if err != nil {
		t.setErr(err.Error())
		return created, err
	}

	t.upsertLocal(created)
	t.scheduleHabit(ctx, created)
	logger.Info("Habit added", "id", created.ID, "name", created.Name)
	return created, nil
}

// UpdateHabitDetails rewrites the editable fields of an existing habit and
// re-arms its reminders.
func (t *Tracker) UpdateHabitDetails(ctx context.Context, id string, d Details) (models.Habit, error) {
	userID, err := t.currentUser()
	if err != nil {
		return models.Habit{}, err
	}
	existing, ok := t.Habit(id)
	if !ok {
		return models.Habit{}, repository.ErrHabitNotFound
	}

	updated := existing.Clone()
	updated.Name = strings.TrimSpace(d.Name)
	updated.Icon = d.Icon
	if updated.Icon == "" {
		updated.Icon = existing.Icon
	}
	updated.WeeklyGoal = models.ClampWeeklyGoal(d.WeeklyGoal)
	updated.Reminders = d.Reminders
	updated.Notes = strings.TrimSpace(d.Notes)
	updated.Streak = t.repo.CalculateStreak(updated.CompletedDates)

	if err := t.validate(ctx, &updated, id); err != nil {
		return existing, err
	}

	if err := t.repo.UpdateHabit(ctx, userID, updated); err != nil {
		t.setErr(err.Error())
		return existing, err
	}
	updated.OwnerID = userID

	t.upsertLocal(updated)
	t.scheduleHabit(ctx, updated)
	return updated, nil
}

// ToggleCompletion flips completion of date (today when empty) and recomputes
// the streak.
func (t *Tracker) ToggleCompletion(ctx context.Context, id, date string) (models.Habit, error) {
	userID, err := t.currentUser()
	if err != nil {
		return models.Habit{}, err
	}
	habit, ok := t.Habit(id)
	if !ok {
		return models.Habit{}, repository.ErrHabitNotFound
	}
	if date == "" {
		date = utils.FormatDate(t.repo.Today())
	}

	updated, err := t.repo.ToggleDate(ctx, userID, habit, date)
	if err != nil {
		t.setErr(err.Error())
		return habit, err
	}

	t.upsertLocal(updated)
	t.scheduleHabit(ctx, updated)
	return updated, nil
}

// CheckIn toggles today's completion of a cached habit, the quick action
// offered from a reminder.
func (t *Tracker) CheckIn(ctx context.Context, id string) (models.Habit, error) {
	userID, err := t.currentUser()
	if err != nil {
		return models.Habit{}, err
	}
	updated, ok, err := t.repo.ToggleCompletionByID(ctx, userID, id)
	if err != nil {
		t.setErr(err.Error())
		return updated, err
	}
	if !ok {
		return models.Habit{}, repository.ErrHabitNotFound
	}

	t.upsertLocal(updated)
	t.scheduleHabit(ctx, updated)
	return updated, nil
}

// DeleteHabit cancels the habit's alarms and removes it everywhere. The
// in-memory copy is dropped even when the remote delete fails.
func (t *Tracker) DeleteHabit(ctx context.Context, id string) error {
	userID, err := t.currentUser()
	if err != nil {
		return err
	}

	t.cancelHabit(ctx, id)

	err = t.repo.DeleteHabit(ctx, userID, id)

	t.mu.Lock()
	t.habits = slices.DeleteFunc(t.habits, func(h models.Habit) bool { return h.ID == id })
	t.recomputeLocked()
	t.publishLocked()
	t.mu.Unlock()

	if err != nil {
		t.setErr(err.Error())
		return err
	}
	logger.Info("Habit deleted", "id", id)
	return nil
}

// Habits returns a copy of the current collection.
func (t *Tracker) Habits() []models.Habit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneHabits(t.habits)
}

// Habit looks up a habit by id.
func (t *Tracker) Habit(id string) (models.Habit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.habits {
		if h.ID == id {
			return h.Clone(), true
		}
	}
	return models.Habit{}, false
}

// FindByName returns the habit whose trimmed name matches case-insensitively.
func (t *Tracker) FindByName(name string) (models.Habit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.habits {
		if models.SameName(h.Name, name) {
			return h.Clone(), true
		}
	}
	return models.Habit{}, false
}

func (t *Tracker) Analytics() analytics.HabitAnalytics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.analytics
}

// Trend returns the shared check-in timeline for the last n days.
func (t *Tracker) Trend(n int) []analytics.TrendDay {
	t.mu.Lock()
	defer t.mu.Unlock()
	return analytics.Trend(t.habits, t.repo.Today(), n)
}

// Err returns the last recorded problem, or "".
func (t *Tracker) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Tracker) ClearErr() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = ""
}

func (t *Tracker) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

// Subscribe returns a feed of the collection. The channel holds at most one
// pending state and always receives the latest; the current state is sent
// immediately. Received slices must not be modified.
func (t *Tracker) Subscribe() (<-chan []models.Habit, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan []models.Habit, 1)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	t.nextSubID++
	id := t.nextSubID
	t.subscribers[id] = ch
	ch <- cloneHabits(t.habits)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subscribers[id]; ok {
				delete(t.subscribers, id)
				close(c)
			}
		})
	}
}

// Close releases the remote subscription and closes subscriber channels.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.sub != nil {
		t.sub.Remove()
		t.sub = nil
	}
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
}

func (t *Tracker) currentUser() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrClosed
	}
	if t.userID == "" {
		return "", errors.New("tracker not bootstrapped")
	}
	return t.userID, nil
}

func (t *Tracker) validate(ctx context.Context, habit *models.Habit, excludeID string) error {
	if err := habit.Validate(); err != nil {
		t.setErr(err.Error())
		return err
	}
	reason, err := t.repo.ValidateUniqueness(ctx, habit.Name, habit.Icon, excludeID)
	if err != nil {
		t.setErr(err.Error())
		return err
	}
	if reason != "" {
		t.setErr(reason)
		return apperrors.Validation("%s", reason)
	}
	return nil
}

func (t *Tracker) setErr(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = msg
}

// upsertLocal applies a write before the snapshot echoes it back.
func (t *Tracker) upsertLocal(h models.Habit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	idx := slices.IndexFunc(t.habits, func(x models.Habit) bool { return x.ID == h.ID })
	if idx >= 0 {
		t.habits[idx] = h.Clone()
	} else {
		t.habits = append(t.habits, h.Clone())
	}
	t.habits = sortHabits(t.habits)
	t.recomputeLocked()
	t.publishLocked()
}

func (t *Tracker) recomputeLocked() {
	t.analytics = analytics.Compute(t.habits, t.repo.Today())
	metrics.HabitsTracked.Set(float64(len(t.habits)))
	metrics.CheckinsLast7Days.Set(float64(t.analytics.TotalCheckinsLast7Days))
}

func (t *Tracker) publishLocked() {
	if len(t.subscribers) == 0 {
		return
	}
	state := cloneHabits(t.habits)
	for _, ch := range t.subscribers {
		select {
		case ch <- state:
			continue
		default:
		}
		// Drop the stale pending state.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- state:
		default:
		}
	}
}

// scheduleHabit arms the habit's reminders when they differ from what was
// last armed. Failures are recorded, never returned.
func (t *Tracker) scheduleHabit(ctx context.Context, h models.Habit) {
	if t.sched == nil {
		return
	}
	want := armed{name: h.Name, streak: h.Streak, reminders: slices.Clone(h.Reminders)}

	t.schedMu.Lock()
	defer t.schedMu.Unlock()
	if prev, ok := t.armed[h.ID]; ok && sameArmed(prev, want) {
		return
	}
	if _, ok := t.armed[h.ID]; !ok && len(h.Reminders) == 0 {
		t.armed[h.ID] = want
		return
	}

	_, err := t.sched.Schedule(ctx, h.ID, h.Name, h.Streak, h.Reminders)
	t.armed[h.ID] = want
	if err != nil {
		logger.Warn("Reminders not scheduled", "habit", h.ID, "error", err)
		t.setErr(fmt.Sprintf("Habit saved, but reminders could not be scheduled: %v", err))
	}
}

func (t *Tracker) cancelHabit(ctx context.Context, id string) {
	if t.sched == nil {
		return
	}
	t.schedMu.Lock()
	defer t.schedMu.Unlock()
	if err := t.sched.Cancel(ctx, id); err != nil {
		logger.Warn("Failed to cancel reminders", "habit", id, "error", err)
	}
	delete(t.armed, id)
}

// rescheduleAll re-arms every habit from scratch, as on process start, and
// records what was armed.
func (t *Tracker) rescheduleAll(ctx context.Context, habits []models.Habit) {
	if t.sched == nil {
		return
	}
	t.schedMu.Lock()
	defer t.schedMu.Unlock()
	n := t.sched.RescheduleAll(ctx, habits)
	for _, h := range habits {
		t.armed[h.ID] = armed{name: h.Name, streak: h.Streak, reminders: slices.Clone(h.Reminders)}
	}
	logger.Debug("Reminders rescheduled", "habits", len(habits), "alarms", n)
}

// syncReminders reconciles armed alarms with a full habit list.
func (t *Tracker) syncReminders(ctx context.Context, habits []models.Habit) {
	if t.sched == nil {
		return
	}
	present := make(map[string]bool, len(habits))
	for _, h := range habits {
		present[h.ID] = true
		t.scheduleHabit(ctx, h)
	}

	t.schedMu.Lock()
	var gone []string
	for id := range t.armed {
		if !present[id] {
			gone = append(gone, id)
		}
	}
	t.schedMu.Unlock()

	for _, id := range gone {
		t.cancelHabit(ctx, id)
	}
}

func sameArmed(a, b armed) bool {
	return a.name == b.name && a.streak == b.streak &&
		slices.EqualFunc(a.reminders, b.reminders, func(x, y models.ReminderTime) bool {
			return x.Time == y.Time && slices.Equal(x.SortedDays(), y.SortedDays())
		})
}

func sortHabits(habits []models.Habit) []models.Habit {
	out := cloneHabits(habits)
	slices.SortStableFunc(out, func(a, b models.Habit) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func cloneHabits(habits []models.Habit) []models.Habit {
	out := make([]models.Habit, len(habits))
	for i, h := range habits {
		out[i] = h.Clone()
	}
	return out
}
