package ui

import "github.com/charmbracelet/lipgloss"

type Theme struct {
	Header  lipgloss.Style
	Status  lipgloss.Style
	Title   lipgloss.Style
	Output  lipgloss.Style
	Accent  lipgloss.Style
	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Pending lipgloss.Style
	Muted   lipgloss.Style
	Info    lipgloss.Style
	Warning lipgloss.Style
}

func DefaultTheme() Theme {
	return ThemeForVariant("ninja")
}

func ThemeForVariant(variant string) Theme {
	switch variant {
	case "paper":
		return paperTheme()
	case "plain":
		return plainTheme()
	default:
		return ninjaTheme()
	}
}

func ninjaTheme() Theme {
	amber := lipgloss.Color("#FFC857")
	mint := lipgloss.Color("#67F0A8")
	red := lipgloss.Color("#FF5C5C")
	ink := lipgloss.Color("#0E1420")
	slate := lipgloss.Color("#1B2740")
	powder := lipgloss.Color("#EAF2FF")
	blue := lipgloss.Color("#5EEBFF")
	border := lipgloss.Color("#4B5F8A")

	return Theme{
		Header: lipgloss.NewStyle().
			Background(ink).
			Foreground(powder).
			Bold(true).
			Padding(0, 1),
		Status: lipgloss.NewStyle().
			Background(slate).
			Foreground(powder).
			Padding(0, 1),
		Title: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),
		Output: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
		Accent:  lipgloss.NewStyle().Foreground(blue).Bold(true),
		Pass:    lipgloss.NewStyle().Foreground(mint).Bold(true),
		Fail:    lipgloss.NewStyle().Foreground(red),
		Pending: lipgloss.NewStyle().Foreground(amber),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#9CAAC6")),
		Info:    lipgloss.NewStyle().Foreground(blue),
		Warning: lipgloss.NewStyle().Foreground(amber).Bold(true),
	}
}

func paperTheme() Theme {
	honey := lipgloss.Color("#B7791F")
	sage := lipgloss.Color("#2F855A")
	rose := lipgloss.Color("#C53030")
	paper := lipgloss.Color("#F7F7F2")
	ink := lipgloss.Color("#1A202C")
	sky := lipgloss.Color("#2B6CB0")

	return Theme{
		Header:  lipgloss.NewStyle().Background(ink).Foreground(paper).Bold(true).Padding(0, 1),
		Status:  lipgloss.NewStyle().Background(lipgloss.Color("#E2E8F0")).Foreground(ink).Padding(0, 1),
		Title:   lipgloss.NewStyle().Foreground(sky).Bold(true),
		Output:  lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("#A0AEC0")).Padding(0, 1),
		Accent:  lipgloss.NewStyle().Foreground(sky).Bold(true),
		Pass:    lipgloss.NewStyle().Foreground(sage).Bold(true),
		Fail:    lipgloss.NewStyle().Foreground(rose),
		Pending: lipgloss.NewStyle().Foreground(honey),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#718096")),
		Info:    lipgloss.NewStyle().Foreground(sky),
		Warning: lipgloss.NewStyle().Foreground(honey).Bold(true),
	}
}

// plainTheme renders without colour, for logs and tests.
func plainTheme() Theme {
	s := lipgloss.NewStyle()
	return Theme{
		Header:  s,
		Status:  s,
		Title:   s,
		Output:  s,
		Accent:  s,
		Pass:    s,
		Fail:    s,
		Pending: s,
		Muted:   s,
		Info:    s,
		Warning: s,
	}
}
