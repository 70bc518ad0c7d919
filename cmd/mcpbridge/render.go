package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nugget/mcpbridge/internal/catalog"
)

// toolTable renders tool listings for people. Styling follows the
// capabilities of w, so redirected output stays plain text.
type toolTable struct {
	w       io.Writer
	heading lipgloss.Style
	name    lipgloss.Style
	desc    lipgloss.Style
}

func newToolTable(w io.Writer) *toolTable {
	r := lipgloss.NewRenderer(w)
	return &toolTable{
		w:       w,
		heading: r.NewStyle().Bold(true),
		name:    r.NewStyle().Foreground(lipgloss.Color("6")),
		desc:    r.NewStyle().Faint(true),
	}
}

// render writes a heading line followed by one aligned row per tool.
func (t *toolTable) render(heading string, rows []catalog.Option) {
	fmt.Fprintln(t.w, t.heading.Render(heading))

	col := 0
	for _, row := range rows {
		if w := lipgloss.Width(row.Name); w > col {
			col = w
		}
	}
	for _, row := range rows {
		pad := strings.Repeat(" ", col-lipgloss.Width(row.Name)+2)
		line := "  " + t.name.Render(row.Name)
		if d := firstLine(row.Description); d != "" {
			line += pad + t.desc.Render(d)
		}
		fmt.Fprintln(t.w, line)
	}
}
