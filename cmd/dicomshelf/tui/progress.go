package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mrsinham/dicomshelf/internal/importer"
)

var (
	progressBarStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("63"))

	progressBarEmptyStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	progressPercentStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("63")).
				Bold(true)

	progressFileStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	completionSuccessStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42")).
				Bold(true)

	errorTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// importProgress tracks the run shown at the bottom of the browser.
type importProgress struct {
	root      string
	started   time.Time
	total     int
	processed int
	skipped   int
	path      string
	schema    string

	finished bool
	summary  importer.Summary
	err      error
}

func (p *importProgress) percent() float64 {
	if p.total <= 0 {
		return 0
	}
	return float64(p.processed) / float64(p.total) * 100
}

// counters holds the XAddedDuringImport values read from the browser.
type counters struct {
	patients, studies, series, instances int
}

func (p *importProgress) view(width int, added counters) string {
	if p.finished {
		return p.finishedView()
	}

	barWidth := 40
	if width > 60 {
		barWidth = min(width/2, 60)
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Importing " + p.root))
	sb.WriteString("\n")
	if p.schema != "" {
		sb.WriteString(statusStyle.Render(p.schema))
		sb.WriteString("\n")
	}
	sb.WriteString(renderProgressBar(p.percent(), barWidth))
	sb.WriteString(" ")
	sb.WriteString(progressPercentStyle.Render(fmt.Sprintf("%d%%", int(p.percent()))))
	sb.WriteString("\n")

	counter := fmt.Sprintf("File %d/%d", p.processed, p.total)
	if p.skipped > 0 {
		counter += fmt.Sprintf(" (%d skipped)", p.skipped)
	}
	sb.WriteString(progressFileStyle.Render(counter))
	if p.path != "" {
		sb.WriteString(": ")
		sb.WriteString(progressFileStyle.Render(truncatePath(p.path, barWidth)))
	}
	sb.WriteString("\n")
	sb.WriteString(progressFileStyle.Render(fmt.Sprintf(
		"Added: %d patients, %d studies, %d series, %d instances",
		added.patients, added.studies, added.series, added.instances)))
	sb.WriteString("\n")
	sb.WriteString(progressFileStyle.Render(fmt.Sprintf("Elapsed: %.1fs", time.Since(p.started).Seconds())))
	sb.WriteString("\n")
	sb.WriteString(hintStyle.Render("Press c to cancel the import"))
	return sb.String()
}

func (p *importProgress) finishedView() string {
	s := p.summary
	switch {
	case p.err != nil:
		return errorTitleStyle.Render("✗ Import failed: " + p.err.Error())
	case s.Cancelled:
		return statusStyle.Render(fmt.Sprintf("! Import cancelled after %d files", s.FilesScanned))
	default:
		return completionSuccessStyle.Render(fmt.Sprintf(
			"✓ Import complete: %d instances added, %d updated, %d skipped in %.1fs",
			s.InstancesAdded, s.InstancesUpdated, s.Skipped, s.Duration.Seconds()))
	}
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(percent float64, width int) string {
	filled := min(int(percent/100*float64(width)), width)
	empty := width - filled

	bar := progressBarStyle.Render("[" + strings.Repeat("█", filled))
	bar += progressBarEmptyStyle.Render(strings.Repeat("░", empty) + "]")
	return bar
}

func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen || maxLen <= 3 {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}
