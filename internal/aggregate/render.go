package aggregate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/spachava753/simeval/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// FormatRate renders a rate, or "n/a" when no attempts were made.
func FormatRate(rate float64) string {
	if math.IsNaN(rate) {
		return "n/a"
	}
	return strconv.FormatFloat(rate, 'f', 3, 64)
}

func groupTable(name string, groups map[string]models.GroupStats) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(name, "attempts", "successes", "rate").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, key := range slices.Sorted(maps.Keys(groups)) {
		g := groups[key]
		t.Row(key, strconv.Itoa(g.Attempts), strconv.Itoa(g.Successes), FormatRate(g.Rate))
	}
	return t.String()
}

// WriteTable renders the report as terminal tables.
func WriteTable(w io.Writer, r models.AggregateReport) error {
	sections := []struct {
		title  string
		column string
		groups map[string]models.GroupStats
	}{
		{"Success rate by object", "object", r.ByObject},
		{"Success rate by task", "task", r.ByTask},
		{"Success rate by suite", "suite", r.BySuite},
	}

	for _, s := range sections {
		if len(s.groups) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\n%s\n\n", titleStyle.Render(s.title), groupTable(s.column, s.groups)); err != nil {
			return err
		}
	}

	reasons := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("failure reason", "count").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, reason := range models.FailureReasons {
		reasons.Row(string(reason), strconv.Itoa(r.ByReason[reason]))
	}
	if _, err := fmt.Fprintf(w, "%s\n%s\n\n", titleStyle.Render("Failures"), reasons.String()); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(w, Summary(r)); err != nil {
		return err
	}
	if r.Cancelled || r.Skipped > 0 {
		msg := fmt.Sprintf("run cancelled: %d dispatched, %d never dispatched", r.Dispatched, r.Skipped)
		if _, err := fmt.Fprintln(w, warnStyle.Render(msg)); err != nil {
			return err
		}
	}
	return nil
}

// Summary is the one-line run total. Infrastructure errors are counted as
// failures and called out separately.
func Summary(r models.AggregateReport) string {
	return fmt.Sprintf("total: %d attempts, %d successes, rate %s (errors counted as failures: %d)",
		r.Totals.Attempts, r.Totals.Successes, FormatRate(r.Totals.Rate), r.Totals.ErrorsAsFailures)
}

// WriteJSON writes the report as indented JSON. Undefined rates are null.
func WriteJSON(w io.Writer, r models.AggregateReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// WriteCSV writes one row per group: group, key, attempts, successes, rate.
// Undefined rates are left empty.
func WriteCSV(w io.Writer, r models.AggregateReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"group", "key", "attempts", "successes", "rate"}); err != nil {
		return err
	}

	rate := func(v float64) string {
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', 6, 64)
	}

	write := func(name string, groups map[string]models.GroupStats) error {
		for _, key := range slices.Sorted(maps.Keys(groups)) {
			g := groups[key]
			if err := cw.Write([]string{name, key, strconv.Itoa(g.Attempts), strconv.Itoa(g.Successes), rate(g.Rate)}); err != nil {
				return err
			}
		}
		return nil
	}

	total := []string{"total", "all", strconv.Itoa(r.Totals.Attempts), strconv.Itoa(r.Totals.Successes), rate(r.Totals.Rate)}
	if err := cw.Write(total); err != nil {
		return err
	}
	for _, g := range []struct {
		name   string
		groups map[string]models.GroupStats
	}{{"object", r.ByObject}, {"task", r.ByTask}, {"suite", r.BySuite}} {
		if err := write(g.name, g.groups); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing csv report: %w", err)
	}
	return nil
}
