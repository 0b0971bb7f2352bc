package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"vivarium/pkg/audit"
)

// newEventsTable builds the recent-events table component.
func newEventsTable(theme Theme) table.Model {
	columns := []table.Column{
		{Title: "Time", Width: 19},
		{Title: "Event", Width: 20},
		{Title: "Detail", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(recentEventLimit),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(theme.Primary)
	styles.Selected = styles.Selected.Foreground(theme.Success)
	t.SetStyles(styles)

	return t
}

// eventRows converts audit entries into table rows.
func eventRows(entries []audit.Entry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, table.Row{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Event,
			summarizeFields(e.Fields),
		})
	}
	return rows
}

// summarizeFields renders the most useful entry fields in a fixed order
// so rows are stable across refreshes.
func summarizeFields(fields audit.Fields) string {
	if len(fields) == 0 {
		return ""
	}

	detail := ""
	for _, key := range []string{"worker_id", "task_id", "pid", "path", "reason", "confidence", "allowed"} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		if detail != "" {
			detail += " "
		}
		detail += fmt.Sprintf("%s=%v", key, v)
	}
	if detail == "" {
		detail = fmt.Sprintf("%d field(s)", len(fields))
	}
	return detail
}

// renderEmptyEventsState renders a placeholder when the trail is empty.
func renderEmptyEventsState(styles Styles) string {
	return styles.Muted.Render("No audit events")
}

// joinSections stacks rendered sections vertically.
func joinSections(sections ...string) string {
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
