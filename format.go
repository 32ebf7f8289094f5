package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// statusf writes human progress to stderr so stdout stays clean for --json.
func statusf(quiet bool, format string, args ...any) {
	if quiet {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// Statusf is statusf bound to the --quiet flag.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// formatTime renders a run timestamp relative to now: the clock time for
// today, month and day within the year, the full date otherwise.
func formatTime(t, now time.Time) string {
	t = t.In(now.Location())

	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()

	switch {
	case ty == ny && tm == nm && td == nd:
		return "today " + t.Format("15:04")
	case ty == ny:
		return t.Format("Jan _2 15:04")
	default:
		return t.Format(time.DateOnly)
	}
}

// printTable writes left-aligned columns separated by two spaces. Widths
// count runes so non-ASCII event IDs and names line up.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))

	for _, row := range append([][]string{headers}, rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	var b strings.Builder

	for _, row := range append([][]string{headers}, rows...) {
		b.Reset()

		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}

			b.WriteString(cell)

			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)))
			}
		}

		fmt.Fprintln(w, b.String())
	}
}
