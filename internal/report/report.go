// Package report renders build results for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Norgate-AV/pbuild/internal/compiler"
	"github.com/Norgate-AV/pbuild/internal/executor"
)

var (
	colorMuted   = lipgloss.Color("#6B7280")
	colorSuccess = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")
	colorWarning = lipgloss.Color("#F59E0B")
	colorAccent  = lipgloss.Color("#3B82F6")

	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	targetStyle  = lipgloss.NewStyle().Foreground(colorAccent)
	headerStyle  = lipgloss.NewStyle().Bold(true).MarginTop(1)
)

// Render formats one pass: a status line per target, then every
// diagnostic of every target, then a summary line
func Render(r executor.Report) string {
	var sb strings.Builder

	width := 0
	for _, res := range r.Results {
		width = max(width, len(res.Target.ID))
	}

	for _, res := range r.Results {
		sb.WriteString(statusLine(res, width))
		sb.WriteString("\n")
	}

	for _, res := range r.Results {
		if len(res.Diagnostics) == 0 {
			continue
		}

		sb.WriteString(headerStyle.Render(res.Target.ID))
		sb.WriteString("\n")

		for _, d := range res.Diagnostics {
			style := warningStyle
			if d.Severity == compiler.SeverityError {
				style = errorStyle
			}

			sb.WriteString("  ")
			sb.WriteString(style.Render(d.String()))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(Summary(r))
	sb.WriteString("\n")

	return sb.String()
}

// Summary is a one-line outcome of a pass
func Summary(r executor.Report) string {
	failed := len(r.Failures())
	built := len(r.Results) - failed
	took := r.Duration.Round(time.Millisecond)

	if failed > 0 {
		return errorStyle.Render(fmt.Sprintf("%d of %d targets failed", failed, len(r.Results))) +
			mutedStyle.Render(fmt.Sprintf(" (%d built in %s)", built, took))
	}

	return successStyle.Render(fmt.Sprintf("%d targets built", built)) +
		mutedStyle.Render(fmt.Sprintf(" in %s", took))
}

func statusLine(res compiler.Result, width int) string {
	id := targetStyle.Render(fmt.Sprintf("%-*s", width, res.Target.ID))

	switch {
	case !res.Success:
		return fmt.Sprintf("%s %s %s", errorStyle.Render("✗"), id, errorStyle.Render(plural(len(res.Errors()), "error")))
	case res.Cached:
		return fmt.Sprintf("%s %s %s", successStyle.Render("✓"), id, mutedStyle.Render("cached"))
	default:
		return fmt.Sprintf("%s %s %s", successStyle.Render("✓"), id, mutedStyle.Render(res.Duration.Round(time.Millisecond).String()))
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}

	return fmt.Sprintf("%d %ss", n, word)
}
