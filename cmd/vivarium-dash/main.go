// Package main implements the vivarium-dash interactive dashboard.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	m := newModel()
	m.watcher = newTrailWatcher(vivariumHome())

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	m.watcher.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
