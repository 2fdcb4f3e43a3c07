package tui

import (
	"context"
	"errors"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

var ErrNotTerminal = errors.New("stdout is not a terminal")

// Run drives the search screen until the user quits or ctx is done.
func Run(ctx context.Context, searcher Searcher, artwork ArtworkSource) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return ErrNotTerminal
	}
	program := tea.NewProgram(NewModel(searcher, artwork), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
