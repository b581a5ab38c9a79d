// Package report renders aggregated recording time as log lines, tables and charts.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/verte-zerg/stampclock/internal/model"
)

const (
	barColor            = "\x1b[36m"
	colorReset          = "\x1b[0m"
	axisSeparator       = " │ "
	minBarWidth         = 10
	terminalWidthBackup = 80
)

// column is one report table column; numeric columns align right.
type column struct {
	title string
	right bool
}

var hourColumns = []column{
	{title: "Hour"},
	{title: "Seconds", right: true},
	{title: "hh:mm:ss", right: true},
	{title: "Share", right: true},
}

// alignRows lays rows out under cols, each column as wide as its widest cell
// on screen. Columns are two spaces apart and lines carry no trailing blanks.
func alignRows(cols []column, rows [][]string) []string {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c.title)
	}
	for _, row := range rows {
		for i := 0; i < len(cols) && i < len(row); i++ {
			widths[i] = max(widths[i], runewidth.StringWidth(row[i]))
		}
	}

	titles := make([]string, len(cols))
	for i, c := range cols {
		titles[i] = c.title
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, alignCells(cols, widths, titles))
	for _, row := range rows {
		lines = append(lines, alignCells(cols, widths, row))
	}
	return lines
}

func alignCells(cols []column, widths []int, cells []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if c.right {
			parts[i] = runewidth.FillLeft(cell, widths[i])
		} else {
			parts[i] = runewidth.FillRight(cell, widths[i])
		}
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

// partial blocks indexed by eighths of a cell.
var barEighths = []string{"", "▏", "▎", "▍", "▌", "▋", "▊", "▉"}

// FormatClock renders seconds as hh:mm:ss; hours may exceed 24.
func FormatClock(seconds int64) string {
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, seconds/3600, seconds%3600/60, seconds%60)
}

func share(part, total int64) string {
	if total <= 0 {
		return "0.0%"
	}
	return strconv.FormatFloat(float64(part)*100/float64(total), 'f', 1, 64) + "%"
}

// HourTableLines formats the per-hour table without writing it.
func HourTableLines(hours model.HourTotals) []string {
	total := hours.Sum()
	rows := make([][]string, 0, len(hours)+1)
	for h, secs := range hours {
		rows = append(rows, []string{
			fmt.Sprintf("%02d", h),
			strconv.FormatInt(secs, 10),
			FormatClock(secs),
			share(secs, total),
		})
	}
	rows = append(rows, []string{"total", strconv.FormatInt(total, 10), FormatClock(total), share(total, total)})
	return alignRows(hourColumns, rows)
}

// RenderHourTable writes an aligned table of seconds per hour of day.
func RenderHourTable(w io.Writer, hours model.HourTotals) error {
	for _, line := range HourTableLines(hours) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write table: %w", err)
		}
	}
	return nil
}

// HourBarLines formats a horizontal bar chart scaled to the busiest hour.
// width is the bar area in cells.
func HourBarLines(hours model.HourTotals, width int, useColor bool) []string {
	if width < minBarWidth {
		width = minBarWidth
	}
	var peak int64
	for _, v := range hours {
		peak = max(peak, v)
	}
	lines := make([]string, 0, len(hours))
	for h, secs := range hours {
		bar := ""
		if peak > 0 && secs > 0 {
			bar = renderBar(secs, peak, width)
		}
		if useColor && bar != "" {
			bar = barColor + bar + colorReset
		}
		lines = append(lines, fmt.Sprintf("%02d%s%s %s", h, axisSeparator, bar, FormatClock(secs)))
	}
	return lines
}

func renderBar(value, peak int64, width int) string {
	eighths := value * int64(width) * 8 / peak
	if eighths == 0 {
		eighths = 1
	}
	return strings.Repeat("█", int(eighths/8)) + barEighths[eighths%8]
}

// RenderHourBars writes the bar chart. Color is used when forced or when w is
// a terminal, unless NO_COLOR is set.
func RenderHourBars(w io.Writer, hours model.HourTotals, width int, forceColor bool) error {
	useColor := shouldUseColor(w, forceColor)
	for _, line := range HourBarLines(hours, width, useColor) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write chart: %w", err)
		}
	}
	return nil
}

// BarWidthFor computes a bar area that fits within the total available width.
func BarWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minBarWidth
	}
	// hour label, separator, trailing space and a hh:mm:ss value
	overhead := 2 + runewidth.StringWidth(axisSeparator) + 1 + len("00:00:00")
	return max(totalWidth-overhead, minBarWidth)
}

// TerminalWidth returns the width of stdout or a fallback.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func shouldUseColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	return IsTerminal(w)
}
