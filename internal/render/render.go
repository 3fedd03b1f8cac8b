// Package render formats the role catalog and transition reports for the
// terminal.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"vn.io.arda/pim/internal/domain"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	inactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle      = lipgloss.NewStyle().Faint(true)
)

// Catalog renders the indexed role table shown before a selection.
func Catalog(roles []domain.Role) string {
	if len(roles) == 0 {
		return dimStyle.Render("No eligible roles found.") + "\n"
	}

	rows := make([][]string, 0, len(roles)+1)
	rows = append(rows, []string{"#", "ROLE", "BACKEND", "SCOPE", "STATE"})
	for i, r := range roles {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			r.DisplayName,
			string(r.Backend),
			r.ScopeDisplayName,
			stateLabel(r),
		})
	}

	widths := columnWidths(rows)
	var b strings.Builder
	for i, row := range rows {
		line := formatRow(row, widths)
		if i == 0 {
			line = headerStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Report renders the final tally with per-role outcomes in selection order.
func Report(report domain.Report) string {
	var b strings.Builder
	for _, o := range report.Outcomes {
		label := outcomeStyle(o.Kind).Render(string(o.Kind))
		b.WriteString(fmt.Sprintf("  %s  %s (%s)", label, o.Role.DisplayName, o.Role.ScopeDisplayName))
		if o.Reason != "" {
			b.WriteString(dimStyle.Render(" — " + o.Reason))
		}
		b.WriteByte('\n')
	}
	summary := fmt.Sprintf("%d succeeded, %d failed", report.Succeeded, report.Failed)
	if report.Failed > 0 {
		summary = failedStyle.Render(summary)
	} else {
		summary = activeStyle.Render(summary)
	}
	b.WriteString(summary)
	b.WriteByte('\n')
	return b.String()
}

func stateLabel(r domain.Role) string {
	if !r.IsActive {
		return inactiveStyle.Render("inactive")
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.IsZero() {
		return activeStyle.Render("active until " + r.ExpiresAt.Local().Format(time.Kitchen))
	}
	return activeStyle.Render("active")
}

func outcomeStyle(kind domain.OutcomeKind) lipgloss.Style {
	switch kind {
	case domain.OutcomeFailed:
		return failedStyle
	case domain.OutcomeAlreadyActive, domain.OutcomeAlreadyInactive:
		return dimStyle
	default:
		return activeStyle
	}
}

func columnWidths(rows [][]string) []int {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

func formatRow(row []string, widths []int) string {
	cells := make([]string, len(row))
	for i, cell := range row {
		cells[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
	}
	return strings.TrimRight(strings.Join(cells, "  "), " ")
}
