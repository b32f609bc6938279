package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/imamik/shipyard/internal/deploy"
	"github.com/imamik/shipyard/internal/runstore"
)

// RenderStatus renders a stored run as a summary line plus a stage table.
func RenderStatus(rec *runstore.Record) string {
	var b strings.Builder

	title := fmt.Sprintf("%s #%d", rec.PipelineID, rec.BuildNumber)
	b.WriteString(titleStyle.Render(title))
	b.WriteString(" ")
	b.WriteString(runStatusStyle(rec.Status)(string(rec.Status)))
	fmt.Fprintf(&b, "  %s\n", dimStyle.Render(fmt.Sprintf("run %s, %s", rec.RunID, formatDuration(rec.Duration()))))

	if rec.FailedStage != "" {
		b.WriteString(failedStyle.Render("failed at stage " + rec.FailedStage))
		b.WriteString("\n")
	}

	rows := make([][]string, 0, len(rec.Stages))
	for _, s := range rec.Stages {
		rows = append(rows, []string{
			s.Name,
			s.Action,
			string(s.Status),
			attemptsCell(s.Attempts),
			stageDuration(s),
			stageNote(s),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("STAGE", "ACTION", "STATUS", "TRIES", "TIME", "NOTE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			if col == 2 && row >= 0 && row < len(rec.Stages) {
				return stageCellStyle(rec.Stages[row].Status)
			}
			return cellStyle
		})

	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

func stageCellStyle(status runstore.StageStatus) lipgloss.Style {
	switch status {
	case runstore.StageSucceeded:
		return cellStyle.Foreground(colorGreen)
	case runstore.StageFailed:
		return cellStyle.Foreground(colorRed)
	case runstore.StageRunning:
		return cellStyle.Foreground(colorYellow)
	default:
		return cellStyle.Foreground(colorDim)
	}
}

func attemptsCell(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func stageDuration(s runstore.StageRecord) string {
	if s.Started.IsZero() {
		return "-"
	}
	end := s.Finished
	if end.IsZero() {
		end = time.Now()
	}
	return formatDuration(end.Sub(s.Started))
}

func stageNote(s runstore.StageRecord) string {
	note := s.Error
	if s.ErrorKind != "" && s.Status == runstore.StageFailed {
		note = fmt.Sprintf("%s: %s", s.ErrorKind, s.Error)
	}
	if len(note) > 60 {
		note = note[:57] + "..."
	}
	return note
}

// RenderHistory renders a deploy target's revisions, oldest first.
func RenderHistory(target string, revs []deploy.Revision) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(target + " revisions"))
	b.WriteString("\n")

	rows := make([][]string, 0, len(revs))
	for _, r := range revs {
		current := ""
		if r.Current {
			current = "*"
		}
		rows = append(rows, []string{fmt.Sprintf("%d", r.Number), current, r.Image, r.ChangeCause})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("REVISION", "CURRENT", "IMAGE", "CHANGE-CAUSE").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			if row >= 0 && row < len(revs) && revs[row].Current {
				return cellStyle.Foreground(colorGreen)
			}
			return cellStyle
		})

	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

// RenderRollout renders the outcome of a rollout.
func RenderRollout(res *deploy.RolloutResult) string {
	style := sf(readyStyle)
	if res.State != deploy.StateHealthy {
		style = sf(failedStyle)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s/%s %s\n", titleStyle.Render(res.Target), res.Namespace, res.Deployment, style(string(res.State)))
	if res.RolledBackTo > 0 {
		fmt.Fprintf(&b, "  revision: %d\n", res.RolledBackTo)
	}
	if res.Image != "" {
		fmt.Fprintf(&b, "  image:    %s\n", res.Image)
	}
	b.WriteString(RenderReplicas(res.Replicas))
	if !res.Finished.IsZero() && !res.Started.IsZero() {
		fmt.Fprintf(&b, "  %s\n", dimStyle.Render("took "+formatDuration(res.Finished.Sub(res.Started))))
	}
	return b.String()
}

// RenderReplicas renders one observation of a Deployment's replicas.
func RenderReplicas(r deploy.ReplicaStatus) string {
	line := fmt.Sprintf("  replicas: %d desired, %d updated, %d ready, %d available", r.Desired, r.Updated, r.Ready, r.Available)
	if r.Unavailable > 0 {
		line += fmt.Sprintf(", %d unavailable", r.Unavailable)
	}
	return line + "\n"
}
