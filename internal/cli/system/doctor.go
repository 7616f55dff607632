package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/habitual/internal/cli"
	"github.com/julianstephens/habitual/internal/config"
	"github.com/julianstephens/habitual/internal/keyring"
	"github.com/julianstephens/habitual/internal/migration"
	"github.com/julianstephens/habitual/internal/notifier"
	"github.com/julianstephens/habitual/internal/remote/postgres"
	"github.com/julianstephens/habitual/internal/scheduler"
	"github.com/julianstephens/habitual/internal/utils"
	"github.com/julianstephens/habitual/migrations"
)

const doctorTimeout = 10 * time.Second

type DoctorCmd struct{}

type checkLevel int

const (
	levelFail checkLevel = iota
	levelWarn
)

type check struct {
	name string
	// needsCache checks are skipped when the cache cannot be opened.
	needsCache bool
	level      checkLevel
	run        func(ctx *cli.Context) (skip string, err error)
}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	fmt.Fprintln(ctx.Out, "Running diagnostics...")
	fmt.Fprintln(ctx.Out)

	checks := []check{
		{name: "Configuration", run: checkConfig},
		{name: "Clock/timezone", run: checkClockTimezone},
		{name: "Cache reachable", run: checkCacheReachable},
		{name: "Cache schema version", needsCache: true, run: checkSchemaVersion},
		{name: "Habit integrity", needsCache: true, run: checkHabitsIntegrity},
		{name: "Remote reachable", run: checkRemote},
		{name: "Reminder bookkeeping", run: checkRedis},
		{name: "OS keyring", level: levelWarn, run: checkKeyring},
		{name: "Tray notifier", level: levelWarn, run: checkTray},
	}

	hasError := false
	cacheOK := true
	for _, c := range checks {
		if c.needsCache && !cacheOK {
			fmt.Fprintf(ctx.Out, "⊘ %s: SKIPPED (cache not reachable)\n", c.name)
			continue
		}
		skip, err := c.run(ctx)
		switch {
		case skip != "":
			fmt.Fprintf(ctx.Out, "⊘ %s: SKIPPED (%s)\n", c.name, skip)
		case err == nil:
			fmt.Fprintf(ctx.Out, "✓ %s: OK\n", c.name)
		case c.level == levelWarn:
			fmt.Fprintf(ctx.Out, "⚠ %s: WARNING\n", c.name)
			fmt.Fprintf(ctx.Out, "   %v\n", err)
		default:
			fmt.Fprintf(ctx.Out, "❌ %s: FAIL\n", c.name)
			fmt.Fprintf(ctx.Out, "   Error: %v\n", err)
			hasError = true
			if c.name == "Cache reachable" {
				cacheOK = false
			}
		}
	}

	fmt.Fprintln(ctx.Out)
	if hasError {
		fmt.Fprintln(ctx.Out, "Diagnostics completed with errors.")
		return fmt.Errorf("one or more health checks failed")
	}
	fmt.Fprintln(ctx.Out, "All diagnostics passed!")
	return nil
}

func checkConfig(ctx *cli.Context) (string, error) {
	return "", ctx.Config.Validate()
}

func checkClockTimezone(ctx *cli.Context) (string, error) {
	if _, err := utils.LoadLocation(ctx.Config.Timezone); err != nil {
		return "", err
	}
	now := ctx.Clock()()
	if now.Year() < 2020 {
		return "", fmt.Errorf("system clock looks wrong: %s", now.Format(time.RFC3339))
	}
	return "", nil
}

func checkCacheReachable(ctx *cli.Context) (string, error) {
	store, err := ctx.Cache()
	if err != nil {
		return "", err
	}
	var result int
	if err := store.DB().QueryRowContext(ctx.Ctx, "SELECT 1").Scan(&result); err != nil {
		return "", fmt.Errorf("failed to query cache: %w", err)
	}
	return "", nil
}

func checkSchemaVersion(ctx *cli.Context) (string, error) {
	store, err := ctx.Cache()
	if err != nil {
		return "", err
	}
	subFS, err := migrations.SQLite()
	if err != nil {
		return "", err
	}
	runner := migration.NewRunner(store.DB(), subFS, migration.SQLite)
	if err := runner.ValidateVersion(ctx.Ctx); err != nil {
		return "", err
	}
	current, err := runner.CurrentVersion(ctx.Ctx)
	if err != nil {
		return "", err
	}
	latest, err := runner.LatestVersion()
	if err != nil {
		return "", err
	}
	if current < latest {
		return "", fmt.Errorf("cache is at version %d, latest is %d", current, latest)
	}
	return "", nil
}

func checkHabitsIntegrity(ctx *cli.Context) (string, error) {
	store, err := ctx.Cache()
	if err != nil {
		return "", err
	}
	habits, err := store.ListHabits(ctx.Ctx)
	if err != nil {
		return "", err
	}

	var problems []error
	for _, h := range habits {
		if err := h.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("habit %s: %w", h.ID, err))
		}
		for _, d := range h.CompletedDates {
			if !utils.ValidateDate(d) {
				problems = append(problems, fmt.Errorf("habit %s: invalid date %q", h.ID, d))
			}
		}
	}
	return "", errors.Join(problems...)
}

func checkRemote(ctx *cli.Context) (string, error) {
	if ctx.Offline || ctx.Config.Remote.Driver == config.DriverMemory {
		return "in-memory remote", nil
	}
	checkCtx, cancel := context.WithTimeout(ctx.Ctx, doctorTimeout)
	defer cancel()
	store, err := postgres.Connect(checkCtx, ctx.Config.Remote.ConnectionString)
	if err != nil {
		return "", err
	}
	return "", store.Close()
}

func checkRedis(ctx *cli.Context) (string, error) {
	if ctx.Config.Redis.Addr == "" {
		return "stored in cache", nil
	}
	book := scheduler.NewRedisBookkeeper(scheduler.NewRedisClient(scheduler.RedisConfig{
		Addr:     ctx.Config.Redis.Addr,
		Password: ctx.Config.Redis.Password,
		DB:       ctx.Config.Redis.DB,
	}))
	defer book.Close()

	checkCtx, cancel := context.WithTimeout(ctx.Ctx, doctorTimeout)
	defer cancel()
	return "", book.Ping(checkCtx)
}

func checkKeyring(ctx *cli.Context) (string, error) {
	if !keyring.IsAvailable() {
		return "", keyring.ErrKeyringUnavailable
	}
	return "", nil
}

func checkTray(ctx *cli.Context) (string, error) {
	if ctx.Config.Reminders.Notifier != config.NotifierTray {
		return "reminders print to stdout", nil
	}
	return "", notifier.CheckTray()
}
