package system

import (
	"errors"
	"fmt"
	"os"

	"github.com/julianstephens/habitual/internal/backup"
	"github.com/julianstephens/habitual/internal/cli"
	"github.com/julianstephens/habitual/internal/config"
)

type InitCmd struct {
	Force  bool   `help:"Back up and delete the existing cache, then rewrite the config file."`
	Driver string `help:"Remote driver to record in a new config (postgres or memory)." enum:"postgres,memory" default:"postgres"`
}

func (c *InitCmd) Run(ctx *cli.Context) error {
	cfgPath := config.Path(ctx.Config.Dir)
	_, statErr := os.Stat(cfgPath)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return fmt.Errorf("failed to access config: %w", statErr)
	}

	if c.Force {
		if err := ctx.Close(); err != nil {
			return fmt.Errorf("failed to close existing cache: %w", err)
		}
		if info, err := backupManager(ctx).Create(ctx.Ctx); err == nil {
			fmt.Fprintf(ctx.Out, "Backed up existing cache to: %s\n", info.Path)
		} else if !errors.Is(err, backup.ErrNoCache) {
			return fmt.Errorf("failed to back up existing cache: %w", err)
		}
		if err := os.Remove(ctx.Config.CachePath); err == nil {
			fmt.Fprintf(ctx.Out, "Deleted existing cache at: %s\n", ctx.Config.CachePath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete existing cache: %w", err)
		}
	}

	if !exists || c.Force {
		ctx.Config.Remote.Driver = c.Driver
		if err := ctx.Config.Save(); err != nil {
			return err
		}
		fmt.Fprintf(ctx.Out, "Wrote config: %s\n", cfgPath)
	}

	store, err := ctx.Cache()
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "Initialized habitual cache at: %s\n", store.Path())
	if ctx.Config.Remote.Driver == config.DriverPostgres && ctx.Config.Remote.ConnectionString == "" {
		fmt.Fprintln(ctx.Out, "Store the remote connection string with 'habitual remote set <conn>'.")
	}
	return nil
}
