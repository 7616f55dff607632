// Package repository reconciles the local habit cache with the remote
// document store. Writes go to the remote first and are mirrored into the
// cache; remote snapshots replace the cache wholesale.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/habitual/internal/constants"
	apperrors "github.com/julianstephens/habitual/internal/errors"
	"github.com/julianstephens/habitual/internal/logger"
	"github.com/julianstephens/habitual/internal/metrics"
	"github.com/julianstephens/habitual/internal/models"
	"github.com/julianstephens/habitual/internal/remote"
	"github.com/julianstephens/habitual/internal/streak"
	"github.com/julianstephens/habitual/internal/utils"
)

// ErrHabitNotFound is returned when an id is unknown.
var ErrHabitNotFound = errors.New("habit not found")

// Cache is the local habit mirror.
type Cache interface {
	ListHabits(ctx context.Context) ([]models.Habit, error)
	GetHabit(ctx context.Context, id string) (models.Habit, bool, error)
	UpsertHabit(ctx context.Context, h models.Habit) error
	DeleteHabit(ctx context.Context, id string) error
	ReplaceHabits(ctx context.Context, habits []models.Habit, ownerID string) error
	AnyOwnerID(ctx context.Context) (string, error)
}

// Sessions resolves and records the signed-in identity.
type Sessions interface {
	UserID() (string, error)
	Issue(userID string, anonymous bool) (string, error)
}

type Repository struct {
	remote   remote.Store
	cache    Cache
	sessions Sessions
	now      func() time.Time
}

type Option func(*Repository)

// WithClock sets the source of "today" for streaks and check-ins.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithSessions enables session-based identity. Without it EnsureUserID starts
// from the cache.
func WithSessions(s Sessions) Option {
	return func(r *Repository) { r.sessions = s }
}

func New(store remote.Store, cache Cache, opts ...Option) *Repository {
	r := &Repository{
		remote: store,
		cache:  cache,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Today returns the repository clock's current time.
func (r *Repository) Today() time.Time {
	return r.now()
}

// EnsureUserID returns a stable identity. It tries the stored session, then
// the owner of any cached habit, then an anonymous remote sign-in, and finally
// a random local id. It never fails.
func (r *Repository) EnsureUserID(ctx context.Context) string {
	if r.sessions != nil {
		id, err := r.sessions.UserID()
		if err == nil && id != "" {
			return id
		}
		logger.Debug("No usable session", "error", err)
	}

	owner, err := r.cache.AnyOwnerID(ctx)
	if err != nil {
		logger.Warn("Failed to read cached owner", "error", err)
	} else if owner != "" {
		r.issueSession(owner)
		return owner
	}

	start := time.Now()
	id, err := r.remote.SignInAnonymously(ctx)
	metrics.ObserveRemote("sign_in", start, err)
	if err == nil && id != "" {
		r.issueSession(id)
		logger.Info("Signed in anonymously", "user", id)
		return id
	}

	id = uuid.NewString()
	metrics.IncrementFallback("sign_in")
	logger.Warn("Anonymous sign-in failed, using local identity", "user", id, "error", err)
	return id
}

// issueSession stores an anonymous session for userID so the next start
// resolves it from the session store.
func (r *Repository) issueSession(userID string) {
	if r.sessions == nil {
		return
	}
	if _, err := r.sessions.Issue(userID, true); err != nil {
		logger.Warn("Failed to store session", "user", userID, "error", err)
	}
}

// ListenToHabits subscribes to the user's collection. Every snapshot is
// mapped to habits, dropping documents without a name, and handed to onChange
// as the complete list.
func (r *Repository) ListenToHabits(ctx context.Context, userID string, onChange func([]models.Habit), onError func(error)) (remote.Subscription, error) {
	sub, err := r.remote.Listen(ctx, userID, func(docs []remote.DocumentSnapshot) {
		metrics.SnapshotsReceived.Inc()
		onChange(MapSnapshot(docs))
	}, func(err error) {
		logger.Warn("Remote listener error", "user", userID, "error", err)
		if onError != nil {
			onError(err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to listen to habits: %w", err)
	}
	return sub, nil
}

// MapSnapshot converts remote documents to habits.
func MapSnapshot(docs []remote.DocumentSnapshot) []models.Habit {
	habits := make([]models.Habit, 0, len(docs))
	for _, d := range docs {
		h, ok := models.HabitFromDocument(d.ID, d.Data)
		if !ok {
			logger.Debug("Dropping document without a name", "id", d.ID)
			continue
		}
		habits = append(habits, h)
	}
	return habits
}

// AddHabit stores a new habit. The weekly goal is clamped and the owner
// stamped. When the remote write fails the habit gets a local id and is
// still cached, so callers can proceed.
func (r *Repository) AddHabit(ctx context.Context, userID string, habit models.Habit) (models.Habit, error) {
	habit = habit.Clone()
	habit.WeeklyGoal = models.ClampWeeklyGoal(habit.WeeklyGoal)
	habit.OwnerID = userID
	if habit.Icon == "" {
		habit.Icon = constants.DefaultIcon
	}
	if habit.CompletedDates == nil {
		habit.CompletedDates = []string{}
	}

	start := time.Now()
	id, err := r.remote.Create(ctx, userID, habit.ToDocument())
	metrics.ObserveRemote("create", start, err)
	if err != nil {
		id = uuid.NewString()
		metrics.IncrementFallback("create")
		logger.Warn("Remote create failed, keeping habit locally", "habit", habit.Name, "id", id, "error", err)
	}
	habit.ID = id

	if err := r.cache.UpsertHabit(ctx, habit); err != nil {
		return habit, fmt.Errorf("failed to cache habit: %w", err)
	}
	return habit, nil
}

// DeleteHabit removes the habit from the cache, then from the remote. A
// remote failure is returned after the local removal has happened.
func (r *Repository) DeleteHabit(ctx context.Context, userID, id string) error {
	if err := r.cache.DeleteHabit(ctx, id); err != nil {
		return fmt.Errorf("failed to delete cached habit: %w", err)
	}

	start := time.Now()
	err := r.remote.Delete(ctx, userID, id)
	metrics.ObserveRemote("delete", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete remote habit %s: %w", id, err)
	}
	return nil
}

// UpdateHabit overwrites the whole remote document, then mirrors it into the
// cache.
func (r *Repository) UpdateHabit(ctx context.Context, userID string, habit models.Habit) error {
	habit.OwnerID = userID
	habit.WeeklyGoal = models.ClampWeeklyGoal(habit.WeeklyGoal)

	start := time.Now()
	err := r.remote.Set(ctx, userID, habit.ID, habit.ToDocument())
	metrics.ObserveRemote("update", start, err)
	if err != nil {
		return fmt.Errorf("failed to update remote habit %s: %w", habit.ID, err)
	}

	if err := r.cache.UpsertHabit(ctx, habit); err != nil {
		return fmt.Errorf("failed to cache habit: %w", err)
	}
	return nil
}

// ValidateUniqueness checks the cache for another habit (other than
// excludeID) with the same trimmed, case-insensitive name or the same icon.
// It returns a human-readable reason, or "" when the pair is free.
func (r *Repository) ValidateUniqueness(ctx context.Context, name, icon, excludeID string) (string, error) {
	habits, err := r.cache.ListHabits(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read cached habits: %w", err)
	}
	for _, h := range habits {
		if h.ID == excludeID {
			continue
		}
		if models.SameName(h.Name, name) {
			return fmt.Sprintf("A habit named %q already exists", h.Name), nil
		}
		if icon != "" && h.Icon == icon {
			return fmt.Sprintf("Icon %s is already used by %q", icon, h.Name), nil
		}
	}
	return "", nil
}

// ReplaceCache swaps the cache contents for habits, stamping ownerID.
func (r *Repository) ReplaceCache(ctx context.Context, habits []models.Habit, ownerID string) error {
	if err := r.cache.ReplaceHabits(ctx, habits, ownerID); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}

// LoadCachedHabits reads the cache for an instant start before the first
// snapshot arrives.
func (r *Repository) LoadCachedHabits(ctx context.Context) ([]models.Habit, error) {
	habits, err := r.cache.ListHabits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached habits: %w", err)
	}
	return habits, nil
}

// CalculateStreak counts consecutive completed days ending today.
func (r *Repository) CalculateStreak(completedDates []string) int {
	return streak.Calculate(completedDates, r.now())
}

// ToggleDate flips completion of date for habit, recomputes the streak and
// writes the result through UpdateHabit.
func (r *Repository) ToggleDate(ctx context.Context, userID string, habit models.Habit, date string) (models.Habit, error) {
	if !utils.ValidateDate(date) {
		return habit, apperrors.Validation("invalid date %q (expected YYYY-MM-DD)", date)
	}
	updated := habit.Clone()
	updated.CompletedDates = habit.ToggleDate(date)
	updated.Streak = r.CalculateStreak(updated.CompletedDates)
	if err := r.UpdateHabit(ctx, userID, updated); err != nil {
		return habit, err
	}
	updated.OwnerID = userID
	updated.WeeklyGoal = models.ClampWeeklyGoal(updated.WeeklyGoal)
	return updated, nil
}

// ToggleCompletionByID toggles today's completion of a cached habit. The
// boolean is false when the habit is unknown.
func (r *Repository) ToggleCompletionByID(ctx context.Context, userID, id string) (models.Habit, bool, error) {
	habit, ok, err := r.cache.GetHabit(ctx, id)
	if err != nil {
		return models.Habit{}, false, err
	}
	if !ok {
		return models.Habit{}, false, nil
	}
	updated, err := r.ToggleDate(ctx, userID, habit, utils.FormatDate(r.now()))
	if err != nil {
		return habit, true, err
	}
	return updated, true, nil
}
