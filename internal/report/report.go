// Package report renders journal statistics for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/chylli-deriv/supabase-logger/internal/journal"
)

// Color definitions.
var (
	Primary = lipgloss.Color("205") // Pink
	Subtle  = lipgloss.Color("240") // Gray
	Success = lipgloss.Color("42")  // Green
	Error   = lipgloss.Color("196") // Red
	Warning = lipgloss.Color("220") // Yellow
)

// TitleStyle is used for main headings.
var TitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary).
	MarginBottom(1)

// LabelStyle is used for the left column of key/value lines.
var LabelStyle = lipgloss.NewStyle().
	Foreground(Subtle).
	Width(16)

// HelpStyle is used for muted hints.
var HelpStyle = lipgloss.NewStyle().
	Foreground(Subtle).
	Italic(true)

// BoxStyle frames the summary.
var BoxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Primary).
	Padding(0, 1)

// RateStyle picks a color for a success rate percentage.
func RateStyle(rate float64) lipgloss.Style {
	switch {
	case rate >= 99:
		return lipgloss.NewStyle().Foreground(Success).Bold(true)
	case rate >= 90:
		return lipgloss.NewStyle().Foreground(Warning).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(Error).Bold(true)
	}
}

// RenderSummary renders the stats block for the given window.
func RenderSummary(stats journal.Stats, window time.Duration) string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render(fmt.Sprintf("Supabase deliveries, last %s", window)))
	b.WriteString("\n")

	if stats.Total == 0 {
		b.WriteString(HelpStyle.Render("No deliveries recorded"))
		return BoxStyle.Render(b.String())
	}

	line := func(label, value string) {
		b.WriteString(LabelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	line("Total", fmt.Sprintf("%d", stats.Total))
	line("Delivered", fmt.Sprintf("%d", stats.Delivered))
	line("Failed", fmt.Sprintf("%d", stats.Failed))
	line("Retried", fmt.Sprintf("%d", stats.Retried))
	line("Success rate", RateStyle(stats.SuccessRate()).Render(fmt.Sprintf("%.1f%%", stats.SuccessRate())))
	line("Avg attempts", fmt.Sprintf("%.2f", stats.AvgAttempts))
	b.WriteString(LabelStyle.Render("Avg latency"))
	b.WriteString(fmt.Sprintf("%.0fms", stats.AvgLatencyMs))

	return BoxStyle.Render(b.String())
}

// RenderHourlyChart plots delivered and failed counts per hour. Hours with
// no deliveries between since and until are filled with zeros.
func RenderHourlyChart(counts []journal.HourlyCount, since, until time.Time, width, height int) string {
	if len(counts) == 0 {
		return HelpStyle.Render("No data available")
	}

	// Ensure minimum dimensions
	if width < 20 {
		width = 20
	}
	if height < 3 {
		height = 3
	}

	delivered, failed := fillHours(counts, since, until)

	return asciigraph.PlotMany([][]float64{delivered, failed},
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption("deliveries per hour (green: delivered, red: failed)"),
		asciigraph.SeriesColors(
			asciigraph.Green,
			asciigraph.Red,
		),
	)
}

// fillHours expands sparse hourly buckets into one slot per hour.
func fillHours(counts []journal.HourlyCount, since, until time.Time) (delivered, failed []float64) {
	start := since.UTC().Truncate(time.Hour)
	end := until.UTC().Truncate(time.Hour)
	if end.Before(start) {
		end = start
	}

	slots := int(end.Sub(start)/time.Hour) + 1
	delivered = make([]float64, slots)
	failed = make([]float64, slots)

	for _, c := range counts {
		idx := int(c.Hour.Sub(start) / time.Hour)
		if idx < 0 || idx >= slots {
			continue
		}
		delivered[idx] += float64(c.Delivered)
		failed[idx] += float64(c.Failed)
	}
	return delivered, failed
}

// RenderRecent lists journal entries, one per line, newest first.
func RenderRecent(entries []journal.Entry) string {
	if len(entries) == 0 {
		return HelpStyle.Render("No deliveries recorded")
	}

	ok := lipgloss.NewStyle().Foreground(Success)
	failed := lipgloss.NewStyle().Foreground(Error)

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Recent deliveries"))
	b.WriteString("\n")
	for i, e := range entries {
		outcome := ok.Render("delivered")
		if !e.Delivered {
			outcome = failed.Render("failed")
		}
		fmt.Fprintf(&b, "%s  %-9s  %s  %-7s  attempts=%d status=%d %dms",
			e.CreatedAt.Format(time.DateTime), outcome, e.RecordID, e.Status, e.Attempts, e.StatusCode, e.DurationMs)
		if e.Error != "" {
			b.WriteString("  ")
			b.WriteString(HelpStyle.Render(e.Error))
		}
		if i < len(entries)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
