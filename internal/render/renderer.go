// Package render prints occurrences to the terminal as styled cards.
// This is the default sink when relay runs without --tui.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/relay/internal/reduce"
)

// Color palette.
var (
	ColorTextMuted   = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#7f849c"}
	ColorAccentBlue  = lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"}
	ColorAccentGreen = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	ColorAccentRed   = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}
	ColorAccentAmber = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}
	ColorAccentMauve = lipgloss.AdaptiveColor{Light: "#8839ef", Dark: "#cba6f7"}
)

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true)

	metaStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Italic(true)

	bodyStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	repeatStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Faint(true).
			PaddingLeft(2)
)

const defaultBodyLines = 6

// Renderer writes occurrence cards to a terminal stream. Not safe for
// concurrent use.
type Renderer struct {
	out   io.Writer
	width int
}

// New creates a renderer. width of 0 means unconstrained.
func New(out io.Writer, width int) *Renderer {
	return &Renderer{out: out, width: width}
}

// Render prints one occurrence. When fresh is false the occurrence is a
// repeat of the previous card; only a compact repeat marker is printed.
func (r *Renderer) Render(occ *reduce.Occurrence, fresh bool) {
	if !fresh {
		fmt.Fprintln(r.out, repeatStyle.Render(fmt.Sprintf("↻ repeated x%d", occ.Count)))
		return
	}

	header, accent := headline(occ)
	content := headerStyle.Foreground(accent).Render(header) +
		"  " + metaStyle.Render(occ.At.Format("15:04:05"))
	if body := bodyText(occ); body != "" {
		content += "\n" + bodyStyle.Render(body)
	}

	card := cardStyle.BorderForeground(accent)
	if r.width > 2 {
		card = card.Width(r.width - 2)
	}
	fmt.Fprintln(r.out, card.Render(content))
}

func headline(occ *reduce.Occurrence) (string, lipgloss.AdaptiveColor) {
	switch occ.Outcome {
	case reduce.OutcomeToolComplete:
		return fmt.Sprintf("✓ %s (%s)", occ.ToolName, fmtDur(occ.Duration)), ColorAccentGreen
	case reduce.OutcomeToolFailed:
		return fmt.Sprintf("✗ %s failed (%s)", occ.ToolName, fmtDur(occ.Duration)), ColorAccentRed
	case reduce.OutcomeToolInterrupted:
		return fmt.Sprintf("⚠ %s interrupted", occ.ToolName), ColorAccentAmber
	}

	switch occ.EventType {
	case "system":
		return fmt.Sprintf("◆ system %s", occ.Subtype), ColorAccentMauve
	case "result":
		meta := ""
		if occ.NumTurns > 0 {
			meta = fmt.Sprintf(" · %d turns · $%.2f · %s", occ.NumTurns, occ.CostUSD, fmtDur(occ.Duration))
		}
		if occ.IsError {
			return "✗ finished with error" + meta, ColorAccentRed
		}
		return "⚑ finished" + meta, ColorAccentGreen
	default:
		return "· " + string(occ.EventType), ColorAccentBlue
	}
}

func bodyText(occ *reduce.Occurrence) string {
	body := strings.TrimSpace(occ.Payload)
	if body == "" {
		return ""
	}
	lines := strings.Split(body, "\n")
	if len(lines) > defaultBodyLines {
		lines = append(lines[:defaultBodyLines], fmt.Sprintf("… %d more lines", len(lines)-defaultBodyLines))
	}
	return strings.Join(lines, "\n")
}

func fmtDur(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
