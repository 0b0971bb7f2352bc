package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"vivarium/pkg/audit"
	"vivarium/pkg/pool"
)

// tickMsg is sent by Bubble Tea on every tick interval.
// Used to trigger periodic refresh from the pool snapshot and audit trail.
type tickMsg time.Time

// poolMsg carries the freshly read pool state.
type poolMsg pool.State

// gateMsg carries the freshly aggregated gate health snapshot.
type gateMsg audit.Snapshot

// eventsMsg carries the newest audit entries, newest first.
type eventsMsg []audit.Entry

// tickCmd returns a command that sends a tickMsg after 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd reads all dashboard data sources in one batch.
func fetchCmd() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return poolMsg(fetchPoolState(statePath())) },
		func() tea.Msg { return gateMsg(fetchGateSnapshot(auditPath())) },
		func() tea.Msg { return eventsMsg(fetchRecentEvents(auditPath(), recentEventLimit)) },
	)
}

// Model is the Bubble Tea model for the vivarium dashboard.
type Model struct {
	theme  Theme
	styles Styles

	poolState pool.State
	gateSnap  audit.Snapshot
	events    table.Model

	// watcher is the single long-lived fsnotify handle, created by main
	// and closed on quit. Nil when the home directory is unwatchable.
	watcher *trailWatcher

	hasEvents bool
	width     int
	height    int
}

// newModel creates a new Model with the default theme.
func newModel() Model {
	theme := DefaultTheme()
	return Model{
		theme:  theme,
		styles: NewStyles(theme),
		events: newEventsTable(theme),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{fetchCmd(), tickCmd()}
	if m.watcher != nil {
		cmds = append(cmds, m.watcher.waitForChange())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.watcher.Close()
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.events, cmd = m.events.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case poolMsg:
		m.poolState = pool.State(msg)

	case gateMsg:
		m.gateSnap = audit.Snapshot(msg)

	case eventsMsg:
		m.hasEvents = len(msg) > 0
		m.events.SetRows(eventRows(msg))

	case fsChangeMsg:
		// Refresh immediately and re-arm the existing watcher.
		cmds := []tea.Cmd{fetchCmd()}
		if m.watcher != nil {
			cmds = append(cmds, m.watcher.waitForChange())
		}
		return m, tea.Batch(cmds...)

	case tickMsg:
		return m, tea.Batch(fetchCmd(), tickCmd())
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	sections := []string{
		m.styles.Title.Render("vivarium"),
		m.renderPoolSection(),
		m.renderGateSection(),
		m.renderEventsSection(),
		m.styles.Muted.Render("q: quit"),
	}
	return joinSections(sections...)
}

// renderPoolSection renders the worker pool summary.
func (m Model) renderPoolSection() string {
	title := m.styles.Section.Render("Worker Pool")

	st := m.poolState
	if !st.Running {
		return joinSections(title, m.styles.StatusNo.Render(fmt.Sprintf("stopped (target %d)", st.TargetCount)))
	}

	summary := m.styles.StatusOK.Render(
		fmt.Sprintf("running %d/%d (%s)", st.RunningCount, st.TargetCount, st.RunningSource))

	lines := []string{title, summary}
	for _, pid := range st.PIDs {
		lines = append(lines, fmt.Sprintf("  worker pid %d", pid))
	}
	for _, pid := range st.UnmanagedPIDs {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("  unmanaged pid %d", pid)))
	}
	return joinSections(lines...)
}

// renderGateSection renders aggregate gate health.
func (m Model) renderGateSection() string {
	title := m.styles.Section.Render("Gate Health")

	snap := m.gateSnap
	if snap.Total == 0 {
		return joinSections(title, m.styles.Muted.Render("no gate events"))
	}

	passStyle := m.styles.StatusOK
	if snap.PassRatePct < 50 {
		passStyle = m.styles.StatusNo
	}

	lines := []string{
		title,
		passStyle.Render(fmt.Sprintf("pass rate %.1f%% (%d/%d)", snap.PassRatePct, snap.PassCount, snap.Total)),
		fmt.Sprintf("escalations %d (%.1f%%)", snap.EscalateCount, snap.EscalateRatePct),
		fmt.Sprintf("avg confidence %.2f", snap.AvgConfidence),
	}
	return joinSections(lines...)
}

// renderEventsSection renders the recent audit events table.
func (m Model) renderEventsSection() string {
	title := m.styles.Section.Render("Recent Events")
	if !m.hasEvents {
		return joinSections(title, renderEmptyEventsState(m.styles))
	}
	return joinSections(title, m.events.View())
}
