package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/julianstephens/habitual/internal/constants"
)

// ErrNotInteractive is returned when a command needs an answer but there is
// no terminal to ask on.
var ErrNotInteractive = errors.New("not running in a terminal; pass --yes to confirm")

// Prompter asks the user for input during a command.
type Prompter interface {
	Confirm(title string) (bool, error)
	SelectIcon(title string) (string, error)
}

// FormPrompter asks through huh forms on the terminal.
type FormPrompter struct{}

func (FormPrompter) Confirm(title string) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("interactive form error: %w", err)
	}
	return ok, nil
}

func (FormPrompter) SelectIcon(title string) (string, error) {
	icon := constants.DefaultIcon
	options := make([]huh.Option[string], len(constants.IconPalette))
	for i, p := range constants.IconPalette {
		options[i] = huh.NewOption(p, p)
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Options(options...).
				Value(&icon),
		),
	)
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("interactive form error: %w", err)
	}
	return icon, nil
}

// terminalPrompter returns a FormPrompter when stdin and stdout are both
// terminals, nil otherwise.
func terminalPrompter() Prompter {
	if isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd()) {
		return FormPrompter{}
	}
	return nil
}

// Confirm asks title unless yes is set. Without a terminal it fails with
// ErrNotInteractive.
func (c *Context) Confirm(title string, yes bool) (bool, error) {
	if yes {
		return true, nil
	}
	if c.Prompts == nil {
		return false, ErrNotInteractive
	}
	return c.Prompts.Confirm(title)
}
