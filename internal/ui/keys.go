package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the bindings active while a fetch runs.
type KeyMap struct {
	Quit key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "cancel"),
		),
	}
}
