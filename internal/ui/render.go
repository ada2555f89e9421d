package ui

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const NoOutputPlaceholder = "✔ Code ran (no output)"

// Renderer turns view state into terminal text.
type Renderer struct {
	theme    Theme
	mode     LayoutMode
	markdown *glamour.TermRenderer
}

// NewRenderer builds a renderer for a terminal cols wide. With styled unset
// briefings render without ANSI escapes.
func NewRenderer(theme Theme, cols int, styled bool) *Renderer {
	mode := DetermineLayoutMode(cols)
	style := "dark"
	if !styled {
		style = "notty"
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(WrapWidth(mode)),
	)
	if err != nil {
		md = nil
	}
	return &Renderer{theme: theme, mode: mode, markdown: md}
}

func (r *Renderer) RenderHeader(s PlayingState) string {
	left := r.theme.Header.Render("Data Ninja · " + s.PackName)
	parts := []string{
		fmt.Sprintf("Score %d/%d", s.Score, s.MaxScore),
		"⏱ " + FormatRemaining(s.Remaining),
	}
	if s.Engine != "" && r.mode == LayoutWide {
		parts = append(parts, s.Engine)
	}
	if s.Phase != "" && s.Phase != "active" {
		parts = append(parts, s.Phase)
	}
	if s.Submitted {
		parts = append(parts, "submitted")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, r.theme.Status.Render(strings.Join(parts, " | ")))
}

func (r *Renderer) RenderMissions(rows []MissionRow) string {
	var b strings.Builder
	for _, m := range rows {
		var icon string
		var style lipgloss.Style
		switch m.Status {
		case "passed":
			icon, style = "✔", r.theme.Pass
		case "in_progress":
			icon, style = "▶", r.theme.Accent
		default:
			icon, style = "🔒", r.theme.Muted
		}
		line := fmt.Sprintf("%s %s  %s (%d pts)", icon, m.ID, m.Title, m.Points)
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Renderer) RenderBriefing(title, md string) string {
	head := r.theme.Title.Render(title)
	if strings.TrimSpace(md) == "" {
		return head
	}
	body := md
	if r.markdown != nil {
		if out, err := r.markdown.Render(md); err == nil {
			body = strings.Trim(out, "\n")
		}
	}
	return head + "\n" + body
}

// RenderOutput shows a run the way a notebook cell would: captured output,
// then the displayed value, then any chart, then the error verbatim.
func (r *Renderer) RenderOutput(o OutputState) string {
	if o.Empty() {
		return r.theme.Muted.Render(NoOutputPlaceholder)
	}
	var sections []string
	if !isBlank(o.Text) {
		sections = append(sections, strings.TrimRight(o.Text, "\n"))
	}
	if !isBlank(o.Display) {
		sections = append(sections, strings.TrimRight(o.Display, "\n"))
	}
	if o.ImagePath != "" {
		chart := r.theme.Info.Render("📈 chart saved to " + o.ImagePath)
		if len(o.TickLabels) > 0 {
			chart += "\n" + r.theme.Muted.Render("x labels: "+strings.Join(o.TickLabels, ", "))
		}
		sections = append(sections, chart)
	}
	if o.Error != "" {
		sections = append(sections, r.theme.Fail.Render(o.Error))
	}
	return r.theme.Output.Render(strings.Join(sections, "\n\n"))
}

func (r *Renderer) RenderCheck(c CheckState) string {
	if c.Passed {
		return r.theme.Pass.Render(fmt.Sprintf("✅ %s complete! +%d points", c.MissionName, c.Points))
	}
	lines := []string{r.theme.Fail.Render("Not quite - try again.")}
	for _, row := range c.Checks {
		if row.Passed || row.Message == "" {
			continue
		}
		lines = append(lines, r.theme.Muted.Render("  • "+row.Message))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) RenderWarning(remaining time.Duration) string {
	return r.theme.Warning.Render(fmt.Sprintf("⚠ %s left!", FormatRemaining(remaining)))
}

func (r *Renderer) RenderExpired(score, maxScore int) string {
	return r.theme.Warning.Render(fmt.Sprintf("⏰ Time's up! Final score %d/%d.", score, maxScore))
}

func (r *Renderer) RenderComplete(score, maxScore int) string {
	return r.theme.Pass.Render(fmt.Sprintf("🏆 All missions complete! Score %d/%d.", score, maxScore))
}

func (r *Renderer) RenderError(msg string) string {
	return r.theme.Fail.Render(msg)
}

func (r *Renderer) RenderInfo(msg string) string {
	return r.theme.Info.Render(msg)
}

// FormatRemaining renders a countdown as mm:ss, clamped at zero.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// SaveImage decodes a base64 PNG into dir/name.png and returns the path.
func SaveImage(dir, name, b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode chart: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".png")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
