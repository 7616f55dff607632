package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/julianstephens/habitual/internal/alarm"
	"github.com/julianstephens/habitual/internal/cache"
	"github.com/julianstephens/habitual/internal/config"
	"github.com/julianstephens/habitual/internal/logger"
	"github.com/julianstephens/habitual/internal/notifier"
	"github.com/julianstephens/habitual/internal/remote"
	"github.com/julianstephens/habitual/internal/remote/memory"
	"github.com/julianstephens/habitual/internal/remote/postgres"
	"github.com/julianstephens/habitual/internal/repository"
	"github.com/julianstephens/habitual/internal/scheduler"
	"github.com/julianstephens/habitual/internal/session"
	"github.com/julianstephens/habitual/internal/tracker"
	"github.com/julianstephens/habitual/internal/utils"
)

// Context is handed to every command. Stores are opened on first use and
// released by Close.
type Context struct {
	Ctx     context.Context
	Config  config.Config
	Offline bool
	Out     io.Writer
	// Prompts is nil when there is no terminal to ask on.
	Prompts Prompter

	clock    func() time.Time
	cache    *cache.Store
	remote   remote.Store
	sessions *session.Manager
	repo     *repository.Repository
	tracker  *tracker.Tracker
	sched    *scheduler.Scheduler
	alarms   *alarm.Service
	closers  []func() error
}

func New(ctx context.Context, cfg config.Config, offline bool) *Context {
	return &Context{
		Ctx:     ctx,
		Config:  cfg,
		Offline: offline,
		Out:     os.Stdout,
		Prompts: terminalPrompter(),
	}
}

// Clock returns "now" in the configured timezone.
func (c *Context) Clock() func() time.Time {
	if c.clock != nil {
		return c.clock
	}
	clock, err := utils.ClockInTimezone(c.Config.Timezone)
	if err != nil {
		logger.Warn("Falling back to local time", "timezone", c.Config.Timezone, "error", err)
		clock = time.Now
	}
	c.clock = clock
	return clock
}

// SetClock overrides the clock. Call it before the repository is built.
func (c *Context) SetClock(now func() time.Time) {
	c.clock = now
}

func (c *Context) Cache() (*cache.Store, error) {
	if c.cache != nil {
		return c.cache, nil
	}
	store, err := cache.Open(c.Ctx, c.Config.CachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	c.cache = store
	c.closers = append(c.closers, store.Close)
	return store, nil
}

// Remote opens the configured remote. The memory driver and offline mode
// start from a copy of the cache. An unreachable PostgreSQL server yields a
// store that fails every call so the cache stays usable.
func (c *Context) Remote() (remote.Store, error) {
	if c.remote != nil {
		return c.remote, nil
	}

	var store remote.Store
	switch {
	case c.Offline || c.Config.Remote.Driver == config.DriverMemory:
		mem, err := c.seededMemory()
		if err != nil {
			return nil, err
		}
		store = mem
	default:
		pg, err := postgres.Connect(c.Ctx, c.Config.Remote.ConnectionString)
		switch {
		case err == nil:
			store = pg
		case errors.Is(err, remote.ErrUnavailable):
			logger.Warn("Remote unreachable, working from cache", "error", err)
			mem := memory.New()
			mem.SetFailure(err)
			store = mem
		default:
			return nil, err
		}
	}

	c.remote = store
	c.closers = append(c.closers, store.Close)
	return store, nil
}

func (c *Context) seededMemory() (*memory.Store, error) {
	store, err := c.Cache()
	if err != nil {
		return nil, err
	}
	habits, err := store.ListHabits(c.Ctx)
	if err != nil {
		return nil, err
	}
	mem := memory.New()
	for _, h := range habits {
		if h.OwnerID == "" {
			continue
		}
		if err := mem.Put(h.OwnerID, h.ID, h.ToDocument()); err != nil {
			return nil, fmt.Errorf("failed to seed habit %s: %w", h.ID, err)
		}
	}
	return mem, nil
}

// Sessions returns the session manager, or nil when sessions do not apply.
// Only a PostgreSQL remote issues sessions.
func (c *Context) Sessions() *session.Manager {
	if c.sessions != nil || c.Offline || c.Config.Remote.Driver != config.DriverPostgres {
		return c.sessions
	}
	secret, err := session.LoadOrCreateSecret()
	if err != nil {
		logger.Warn("Sessions disabled, keyring unavailable", "error", err)
		return nil
	}
	c.sessions = session.NewManager(session.KeyringStore{}, secret, session.WithClock(c.Clock()))
	return c.sessions
}

func (c *Context) Repository() (*repository.Repository, error) {
	if c.repo != nil {
		return c.repo, nil
	}
	store, err := c.Cache()
	if err != nil {
		return nil, err
	}
	rem, err := c.Remote()
	if err != nil {
		return nil, err
	}

	opts := []repository.Option{repository.WithClock(c.Clock())}
	if s := c.Sessions(); s != nil {
		opts = append(opts, repository.WithSessions(s))
	}
	c.repo = repository.New(rem, store, opts...)
	return c.repo, nil
}

// Tracker returns a bootstrapped tracker. Options only apply to the call that
// builds it.
func (c *Context) Tracker(opts ...tracker.Option) (*tracker.Tracker, error) {
	if c.tracker != nil {
		return c.tracker, nil
	}
	repo, err := c.Repository()
	if err != nil {
		return nil, err
	}
	t := tracker.New(repo, opts...)
	if err := t.Bootstrap(c.Ctx); err != nil {
		t.Close()
		return nil, err
	}
	c.tracker = t
	c.closers = append(c.closers, func() error {
		t.Close()
		return nil
	})
	return t, nil
}

// Notifier returns the configured reminder sink.
func (c *Context) Notifier() notifier.Notifier {
	if c.Config.Reminders.Notifier == config.NotifierStdout {
		return notifier.NewDryRun(c.Out)
	}
	return notifier.NewTray()
}

// Bookkeeper stores armed request ids in Redis when configured and reachable,
// otherwise in the cache.
func (c *Context) Bookkeeper() (scheduler.Bookkeeper, error) {
	if c.Config.Redis.Addr != "" {
		book := scheduler.NewRedisBookkeeper(scheduler.NewRedisClient(scheduler.RedisConfig{
			Addr:     c.Config.Redis.Addr,
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		}))
		err := book.Ping(c.Ctx)
		if err == nil {
			c.closers = append(c.closers, book.Close)
			return book, nil
		}
		logger.Warn("Redis unavailable, keeping reminder ids in cache", "addr", c.Config.Redis.Addr, "error", err)
		book.Close()
	}
	store, err := c.Cache()
	if err != nil {
		return nil, err
	}
	return store, nil
}

// ScheduledTracker returns the tracker with reminder scheduling attached, so
// writes re-arm or cancel alarms and keep bookkeeping current.
func (c *Context) ScheduledTracker() (*tracker.Tracker, error) {
	sched, _, err := c.Reminders()
	if err != nil {
		return nil, err
	}
	return c.Tracker(tracker.WithScheduler(sched))
}

// Reminders builds an alarm service whose alarms are delivered through the
// returned scheduler. The service is closed with the context.
func (c *Context) Reminders() (*scheduler.Scheduler, *alarm.Service, error) {
	if c.sched != nil {
		return c.sched, c.alarms, nil
	}
	book, err := c.Bookkeeper()
	if err != nil {
		return nil, nil, err
	}
	alarms := alarm.NewService(alarm.WithClock(c.Clock()))
	sched := scheduler.New(alarms, book, c.Notifier(),
		scheduler.WithClock(c.Clock()),
		scheduler.WithSnoozeDelay(time.Duration(c.Config.Reminders.SnoozeMinutes)*time.Minute),
	)
	alarms.SetReceiver(sched.HandleFire)
	c.sched, c.alarms = sched, alarms
	c.closers = append(c.closers, func() error {
		alarms.Close()
		return nil
	})
	return sched, alarms, nil
}

// Close releases everything opened, newest first.
func (c *Context) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	c.cache, c.remote, c.repo, c.tracker, c.sessions = nil, nil, nil, nil, nil
	c.sched, c.alarms = nil, nil
	return errors.Join(errs...)
}
