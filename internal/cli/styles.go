// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
)

const (
	colorSubtle    = lipgloss.Color("240")
	colorHighlight = lipgloss.Color("81")
	colorSpecial   = lipgloss.Color("208")
	colorError     = lipgloss.Color("196")
	colorSuccess   = lipgloss.Color("40")
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(colorHighlight).Bold(true)
	helpStyle    = lipgloss.NewStyle().Foreground(colorSubtle)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	specialStyle = lipgloss.NewStyle().Foreground(colorSpecial).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(colorHighlight).Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// isTTY reports whether w is an interactive terminal. Styling is only applied
// there so piped output stays plain.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func paint(w io.Writer, s lipgloss.Style, text string) string {
	if !isTTY(w) {
		return text
	}
	return s.Render(text)
}

// renderTable draws rows under headers with the shared table styles.
func renderTable(w io.Writer, headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorSubtle)).
		Headers(headers...).
		Rows(rows...)
	if isTTY(w) {
		t = t.StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	} else {
		t = t.StyleFunc(func(int, int) lipgloss.Style { return lipgloss.NewStyle().Padding(0, 1) })
	}
	return t.String()
}
