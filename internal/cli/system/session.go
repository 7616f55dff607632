package system

import (
	"errors"
	"fmt"

	"github.com/julianstephens/habitual/internal/cli"
	"github.com/julianstephens/habitual/internal/session"
)

type SessionCmd struct {
	Show  SessionShowCmd  `cmd:"" help:"Show the signed-in identity." default:"1"`
	Clear SessionClearCmd `cmd:"" help:"Forget the stored session."`
}

type SessionShowCmd struct{}

func (cmd *SessionShowCmd) Run(ctx *cli.Context) error {
	mgr := ctx.Sessions()
	if mgr == nil {
		fmt.Fprintf(ctx.Out, "Sessions are not used with the %s driver.\n", ctx.Config.Remote.Driver)
		return nil
	}
	claims, err := mgr.Current()
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			fmt.Fprintln(ctx.Out, "No active session. One is created on the next sync.")
			return nil
		}
		return err
	}

	kind := "account"
	if claims.Anonymous {
		kind = "anonymous"
	}
	fmt.Fprintf(ctx.Out, "User:    %s (%s)\n", claims.Subject, kind)
	if claims.IssuedAt != nil {
		fmt.Fprintf(ctx.Out, "Issued:  %s\n", claims.IssuedAt.Format("2006-01-02 15:04"))
	}
	if claims.ExpiresAt != nil {
		fmt.Fprintf(ctx.Out, "Expires: %s\n", claims.ExpiresAt.Format("2006-01-02 15:04"))
	}
	return nil
}

type SessionClearCmd struct{}

func (cmd *SessionClearCmd) Run(ctx *cli.Context) error {
	mgr := ctx.Sessions()
	if mgr == nil {
		fmt.Fprintf(ctx.Out, "Sessions are not used with the %s driver.\n", ctx.Config.Remote.Driver)
		return nil
	}
	if err := mgr.Clear(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	fmt.Fprintln(ctx.Out, "✓ Session cleared")
	return nil
}
