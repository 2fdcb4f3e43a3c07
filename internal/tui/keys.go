package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the search screen key bindings
type KeyMap struct {
	NextScope key.Binding
	PrevScope key.Binding
	Up        key.Binding
	Down      key.Binding
	Clear     key.Binding
	Quit      key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		NextScope: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next scope"),
		),
		PrevScope: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("S-tab", "previous scope"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "ctrl+p"),
			key.WithHelp("↑", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "ctrl+n"),
			key.WithHelp("↓", "down"),
		),
		Clear: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "clear"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("esc", "quit"),
		),
	}
}

// ShortHelp lists the bindings shown in the footer.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextScope, k.PrevScope, k.Up, k.Down, k.Clear, k.Quit}
}
