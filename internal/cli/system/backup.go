package system

import (
	"fmt"
	"path/filepath"

	"github.com/julianstephens/habitual/internal/backup"
	"github.com/julianstephens/habitual/internal/cli"
)

type BackupCmd struct {
	Create  BackupCreateCmd  `cmd:"" help:"Snapshot the local cache." default:"1"`
	List    BackupListCmd    `cmd:"" help:"List cache snapshots."`
	Restore BackupRestoreCmd `cmd:"" help:"Replace the cache with a snapshot."`
}

func backupManager(ctx *cli.Context) *backup.Manager {
	return backup.NewManager(ctx.Config.CachePath, backup.WithClock(ctx.Clock()))
}

type BackupCreateCmd struct{}

func (cmd *BackupCreateCmd) Run(ctx *cli.Context) error {
	info, err := backupManager(ctx).Create(ctx.Ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "✓ Backup created: %s\n", info.Path)
	return nil
}

type BackupListCmd struct{}

func (cmd *BackupListCmd) Run(ctx *cli.Context) error {
	mgr := backupManager(ctx)
	backups, err := mgr.List()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Fprintln(ctx.Out, "No backups found.")
		return nil
	}
	fmt.Fprintf(ctx.Out, "Backups in %s:\n", mgr.Dir())
	for _, b := range backups {
		fmt.Fprintf(ctx.Out, "  %s  %s  %d KB\n", b.Timestamp.Format("2006-01-02 15:04:05"), filepath.Base(b.Path), (b.Size+1023)/1024)
	}
	return nil
}

type BackupRestoreCmd struct {
	File string `arg:"" help:"Backup file name or path."`
	Yes  bool   `help:"Restore without asking for confirmation." short:"y"`
}

func (cmd *BackupRestoreCmd) Run(ctx *cli.Context) error {
	mgr := backupManager(ctx)
	path := cmd.File
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
		path = filepath.Join(mgr.Dir(), path)
	}
	ok, err := ctx.Confirm(fmt.Sprintf("Replace the cache with %s?", filepath.Base(path)), cmd.Yes)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(ctx.Out, "Cancelled.")
		return nil
	}

	if err := ctx.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	previous, err := mgr.Restore(ctx.Ctx, path)
	if err != nil {
		return err
	}
	if previous.Path != "" {
		fmt.Fprintf(ctx.Out, "Created backup of current cache: %s\n", filepath.Base(previous.Path))
	}
	fmt.Fprintf(ctx.Out, "✓ Cache restored from %s\n", filepath.Base(path))
	return nil
}
