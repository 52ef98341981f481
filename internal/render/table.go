package render

import (
	"bytes"
	"strings"

	"github.com/mattn/go-runewidth"
)

const maxCellWidth = 32

// Table builds a simple ASCII table using runewidth-aware padding. Cells
// wider than maxCellWidth are truncated with an ellipsis
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, r := range rows {
		for i := range headers {
			if w := runewidth.StringWidth(cell(r, i)); w > widths[i] {
				widths[i] = min(w, maxCellWidth)
			}
		}
	}

	pad := func(s string, w int) string {
		s = runewidth.Truncate(s, w, "…")
		return runewidth.FillRight(s, w)
	}

	var b bytes.Buffer
	sep := func() {
		b.WriteString("+")
		for _, w := range widths {
			b.WriteString(strings.Repeat("-", w+2))
			b.WriteString("+")
		}
		b.WriteString("\n")
	}
	line := func(r []string) {
		b.WriteString("|")
		for i := range headers {
			b.WriteString(" ")
			b.WriteString(pad(cell(r, i), widths[i]))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	sep()
	line(headers)
	sep()
	for _, r := range rows {
		line(r)
	}
	sep()
	return b.String()
}

func cell(r []string, i int) string {
	if i < len(r) {
		return strings.ReplaceAll(r[i], "\n", " ")
	}
	return ""
}
