package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"sftpFetch/internal/fetcher"
	"sftpFetch/internal/table"
)

const (
	// previewRows caps the rows shown from a parsed table.
	previewRows = 5
	headerRow   = -1
	labelGap    = 2
)

var summaryLabels = []string{"file", "raw", "csv"}

// RenderSummary describes the outcome of a fetch cycle.
func RenderSummary(res fetcher.Result, err error) string {
	var b strings.Builder
	label := LabelStyle.Width(GetMaxWidth(summaryLabels) + labelGap)
	for i, value := range []string{res.Selected, res.RawPath, res.CSVPath} {
		if value != "" {
			b.WriteString(label.Render(summaryLabels[i]) + value + "\n")
		}
	}

	if res.Table != nil {
		b.WriteString(RenderPreview(res.Table, previewRows))
		b.WriteString("\n")
	}

	if err != nil {
		b.WriteString(ErrorStyle.Render("failed: " + err.Error()))
	} else {
		b.WriteString(SuccessStyle.Render("done"))
	}
	return b.String()
}

// RenderPreview renders the header and at most n rows of t.
func RenderPreview(t *table.Table, n int) string {
	rows := t.Rows
	if len(rows) > n {
		rows = rows[:n]
	}
	tbl := ltable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(subtle)).
		Headers(t.Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == headerRow {
				return HeaderStyle
			}
			return CellStyle
		})

	out := tbl.Render()
	if extra := t.Len() - len(rows); extra > 0 {
		out += "\n" + DescriptionStyle.Render("... "+strconv.Itoa(extra)+" more rows")
	}
	return out
}
