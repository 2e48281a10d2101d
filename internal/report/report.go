// Package report prints the funnel analysis to a terminal.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"funnel/internal/funnel"
)

// LoadedMessage is printed once the input has been read.
const LoadedMessage = "✅ Data Loaded Successfully!"

const (
	tableHeader      = "\n--- 📊 FINAL FUNNEL ANALYSIS REPORT ---"
	bottleneckHeader = "\n--- 🚨 BOTTLENECK DETECTED ---"
)

// Columns are the report table columns, in print order.
var Columns = []string{"stage", "unique_users", "step_conversion_rate", "drop_off_rate", "overall_conversion_rate"}

// NotFoundMessage is printed when the input file does not exist.
func NotFoundMessage(path string) string {
	return fmt.Sprintf("❌ Error: '%s' not found.", path)
}

// WriteTable prints the report banner followed by one row per stage. The
// layout mirrors a data-frame print: a left-aligned row index, right-aligned
// columns separated by two spaces and rates with two decimals.
func WriteTable(w io.Writer, r funnel.Report) error {
	cells := make([][]string, 0, len(r.Stages)+1)
	cells = append(cells, append([]string{""}, Columns...))
	for i, m := range r.Stages {
		cells = append(cells, []string{
			strconv.Itoa(i),
			m.Stage,
			strconv.Itoa(m.UniqueUsers),
			fmt.Sprintf("%.2f", m.StepConversionRate),
			fmt.Sprintf("%.2f", m.DropOffRate),
			fmt.Sprintf("%.2f", m.OverallConversionRate),
		})
	}

	widths := make([]int, len(cells[0]))
	for _, row := range cells {
		for c, v := range row {
			if n := len([]rune(v)); n > widths[c] {
				widths[c] = n
			}
		}
	}

	var b strings.Builder
	b.WriteString(tableHeader)
	b.WriteByte('\n')
	for _, row := range cells {
		b.WriteString(pad(row[0], widths[0], false))
		for c := 1; c < len(row); c++ {
			b.WriteString("  ")
			b.WriteString(pad(row[c], widths[c], true))
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteBottleneck prints the worst stage. ok=false (fewer than two observed
// stages) prints a note instead.
func WriteBottleneck(w io.Writer, worst funnel.StageMetrics, ok bool) error {
	if !ok {
		_, err := fmt.Fprintf(w, "%s\nNot enough stages to find a bottleneck.\n", bottleneckHeader)
		return err
	}
	_, err := fmt.Fprintf(w, "%s\nThe biggest drop-off is at: %s\nWe lost %s%% of users here.\n",
		bottleneckHeader, worst.Stage, FormatRate(worst.DropOffRate))
	return err
}

// FormatRate renders a rate the shortest way that round-trips, always with a
// fractional part: 60 -> "60.0", 33.33 -> "33.33".
func FormatRate(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

func pad(s string, width int, right bool) string {
	n := width - len([]rune(s))
	if n <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", n) + s
	}
	return s + strings.Repeat(" ", n)
}
