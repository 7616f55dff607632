package system

import (
	"errors"
	"fmt"
	"strings"

	"github.com/julianstephens/habitual/internal/cli"
	"github.com/julianstephens/habitual/internal/keyring"
	"github.com/julianstephens/habitual/internal/remote/postgres"
)

type RemoteCmd struct {
	Set    RemoteSetCmd    `cmd:"" help:"Store the PostgreSQL connection string in the OS keyring."`
	Show   RemoteShowCmd   `cmd:"" help:"Show where the connection string comes from." default:"1"`
	Clear  RemoteClearCmd  `cmd:"" help:"Remove the connection string from the OS keyring."`
	Status RemoteStatusCmd `cmd:"" help:"Check the availability of the OS keyring."`
}

// RemoteSetCmd stores the connection string in the OS keyring
type RemoteSetCmd struct {
	ConnectionString string `arg:"" help:"PostgreSQL connection string to store in keyring."`
}

func (cmd *RemoteSetCmd) Run(ctx *cli.Context) error {
	if !strings.HasPrefix(cmd.ConnectionString, "postgres://") &&
		!strings.HasPrefix(cmd.ConnectionString, "postgresql://") &&
		!strings.Contains(cmd.ConnectionString, "host=") {
		return errors.New("connection string must be a valid PostgreSQL connection string")
	}

	if _, err := postgres.ValidateConnString(cmd.ConnectionString); err != nil {
		if !errors.Is(err, postgres.ErrEmbeddedCredentials) {
			return fmt.Errorf("invalid connection string: %w", err)
		}
		// The keyring is encrypted, so a password is acceptable here.
		fmt.Fprintln(ctx.Out, "⚠️  Warning: Connection string contains embedded credentials.")
		fmt.Fprintln(ctx.Out, "   It will be stored as-is in the encrypted OS keyring.")
	}

	if err := keyring.SetConnectionString(cmd.ConnectionString); err != nil {
		return fmt.Errorf("failed to store connection string in keyring: %w", err)
	}

	fmt.Fprintln(ctx.Out, "✓ Connection string stored successfully in OS keyring")
	return nil
}

// RemoteShowCmd reports the connection string that would be used
type RemoteShowCmd struct{}

func (cmd *RemoteShowCmd) Run(ctx *cli.Context) error {
	connStr, err := postgres.ResolveConnString(ctx.Config.Remote.ConnectionString)
	if err != nil {
		if errors.Is(err, postgres.ErrNoConnectionString) {
			return fmt.Errorf("no connection string configured. Use 'habitual remote set' to store one or set %s", postgres.ConnStringEnv)
		}
		return err
	}
	fmt.Fprintf(ctx.Out, "Driver: %s\n", ctx.Config.Remote.Driver)
	fmt.Fprintf(ctx.Out, "Connection string: %s\n", MaskPassword(connStr))
	return nil
}

// RemoteClearCmd removes the connection string from the OS keyring
type RemoteClearCmd struct{}

func (cmd *RemoteClearCmd) Run(ctx *cli.Context) error {
	if err := keyring.DeleteConnectionString(); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return errors.New("no connection string found in keyring")
		}
		return fmt.Errorf("failed to delete connection string from keyring: %w", err)
	}
	fmt.Fprintln(ctx.Out, "✓ Connection string deleted from OS keyring")
	return nil
}

// RemoteStatusCmd checks the availability of the OS keyring
type RemoteStatusCmd struct{}

func (cmd *RemoteStatusCmd) Run(ctx *cli.Context) error {
	if !keyring.IsAvailable() {
		fmt.Fprintln(ctx.Out, "❌ OS keyring is not available on this system")
		return errors.New("keyring unavailable")
	}
	fmt.Fprintln(ctx.Out, "✓ OS keyring is available")
	if _, err := keyring.GetConnectionString(); err == nil {
		fmt.Fprintln(ctx.Out, "✓ Connection string is stored in keyring")
	} else if errors.Is(err, keyring.ErrNotFound) {
		fmt.Fprintln(ctx.Out, "ℹ No connection string stored in keyring")
	}
	return nil
}

// MaskPassword masks passwords in connection strings for display.
func MaskPassword(connStr string) string {
	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		if idx := strings.Index(connStr, "://"); idx != -1 {
			remaining := connStr[idx+3:]
			// The last @ separates user info from host.
			if atIdx := strings.LastIndex(remaining, "@"); atIdx != -1 {
				userInfo := remaining[:atIdx]
				if colonIdx := strings.Index(userInfo, ":"); colonIdx != -1 {
					return connStr[:idx+3] + userInfo[:colonIdx] + ":****" + connStr[idx+3+atIdx:]
				}
			}
		}
	}

	if strings.Contains(connStr, "password=") {
		parts := strings.Fields(connStr)
		masked := make([]string, 0, len(parts))
		for _, part := range parts {
			if strings.HasPrefix(part, "password=") {
				masked = append(masked, "password=****")
			} else {
				masked = append(masked, part)
			}
		}
		return strings.Join(masked, " ")
	}

	return connStr
}
