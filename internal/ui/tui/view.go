package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/shipyard/internal/runstore"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	renderProgressBar(&b, m)
	renderStages(&b, m)
	if len(m.Logs) > 0 {
		renderLogs(&b, m)
	}
	renderFooter(&b, m)

	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	title := fmt.Sprintf("shipyard: %s", m.PipelineID)
	if m.BuildNumber > 0 {
		title += fmt.Sprintf(" #%d", m.BuildNumber)
	}
	if m.RunID != "" {
		title += fmt.Sprintf(" (%s)", shortID(m.RunID))
	}
	b.WriteString(titleStyle.Render(title))

	status := " "
	switch {
	case m.Final != nil:
		status += runStatusStyle(m.Final.Status)(string(m.Final.Status))
	case m.Err != nil:
		status += failedStyle.Render(fmt.Sprintf("Error: %v", m.Err))
	case m.Cancelling:
		status += warningStyle.Render("cancelling")
	default:
		status += activeStyle.Render(currentSpinner(m.SpinnerFrame)+" ") + warningStyle.Render("running")
	}
	b.WriteString(status)
	b.WriteString("\n")
}

func renderProgressBar(b *strings.Builder, m Model) {
	progress := calculateProgress(m)
	barWidth := 40
	if m.Width > 0 && m.Width < 80 {
		barWidth = m.Width - 30
		if barWidth < 10 {
			barWidth = 10
		}
	}
	filled := int(float64(barWidth) * progress)
	if filled > barWidth {
		filled = barWidth
	}

	bar := progressBarFull.Render(strings.Repeat("█", filled)) +
		progressBarEmpty.Render(strings.Repeat("░", barWidth-filled))

	pct := int(progress * 100)
	eta := ""
	if m.EstimatedRemaining > 0 && !m.Done {
		eta = fmt.Sprintf(" ETA %s", formatDuration(m.EstimatedRemaining))
	}
	if m.PerformanceScale != 0 && m.PerformanceScale != 1.0 && !m.Done {
		eta += fmt.Sprintf("  speed x%.2f", m.PerformanceScale)
	}

	fmt.Fprintf(b, "  %s %d%%%s\n", bar, pct, eta)
}

func renderStages(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Stages"))
	b.WriteString("\n")

	now := m.now
	if now == nil {
		now = time.Now
	}
	for _, s := range m.Stages {
		icon, style := stageIcon(s.Status, m.SpinnerFrame)

		dur := ""
		switch {
		case s.Status == runstore.StageRunning && !s.Started.IsZero():
			dur = formatDuration(now().Sub(s.Started))
		case !s.Finished.IsZero() && !s.Started.IsZero():
			dur = formatDuration(s.Finished.Sub(s.Started))
		}
		if s.Attempts > 1 {
			dur += warningStyle.Render(fmt.Sprintf(" (attempt %d)", s.Attempts))
		}

		fmt.Fprintf(b, "    %s %-20s %-9s %s\n", style(icon), style(s.Name), dimStyle.Render(s.Action), dimStyle.Render(dur))

		detail := m.Details[s.Name]
		if s.Status == runstore.StageFailed && s.Error != "" {
			detail = failedStyle.Render(s.Error)
		}
		if detail != "" && s.Status != runstore.StageSkipped {
			fmt.Fprintf(b, "        %s\n", dimStyle.Render(detail))
		}
	}
}

func renderLogs(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Output"))
	b.WriteString("\n")
	for _, line := range m.Logs {
		fmt.Fprintf(b, "    %s\n", dimStyle.Render(line))
	}
}

func renderFooter(b *strings.Builder, m Model) {
	elapsed := formatDuration(time.Since(m.StartTime))
	keys := "q: cancel run"
	if m.Done || m.Cancelling {
		keys = "q: quit"
	}
	b.WriteString(footerStyle.Render(fmt.Sprintf("  elapsed: %s  |  %s", elapsed, keys)))
	b.WriteString("\n")
}

// Helper functions

func stageIcon(status runstore.StageStatus, frame int) (string, styleFunc) {
	switch status {
	case runstore.StageSucceeded:
		return checkMark, sf(readyStyle)
	case runstore.StageFailed:
		return crossMark, sf(failedStyle)
	case runstore.StageSkipped:
		return skipMark, sf(dimStyle)
	case runstore.StageRunning:
		return currentSpinner(frame), sf(activeStyle)
	default:
		return pending, sf(dimStyle)
	}
}

func runStatusStyle(status runstore.Status) styleFunc {
	switch status {
	case runstore.StatusSucceeded:
		return sf(readyStyle)
	case runstore.StatusFailed:
		return sf(failedStyle)
	case runstore.StatusCancelled:
		return sf(warningStyle)
	default:
		return sf(activeStyle)
	}
}

func currentSpinner(frame int) string {
	if len(spinnerFrames) == 0 {
		return warnMark
	}
	if frame < 0 {
		frame = -frame
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}

func calculateProgress(m Model) float64 {
	if m.Done {
		return 1.0
	}
	if len(m.Stages) == 0 {
		return 0
	}
	done := 0
	for _, s := range m.Stages {
		if s.Status.Terminal() {
			done++
		}
	}
	return float64(done) / float64(len(m.Stages))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
