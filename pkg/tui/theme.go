package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	inputPanel  lipgloss.Style
	promptPanel lipgloss.Style
	footer      lipgloss.Style
	helpText    lipgloss.Style

	status      lipgloss.Style
	errorStatus lipgloss.Style
	muted       lipgloss.Style

	channel     lipgloss.Style
	selfChannel lipgloss.Style
	user        lipgloss.Style
	self        lipgloss.Style
	talking     lipgloss.Style
	restricted  lipgloss.Style

	timestamp lipgloss.Style
	sender    lipgloss.Style
	private   lipgloss.Style
	notice    lipgloss.Style
	system    lipgloss.Style
}

func newTheme() theme {
	green := lipgloss.Color("#3ddc84")
	blue := lipgloss.Color("#5fb3ff")
	amber := lipgloss.Color("#ffb454")
	red := lipgloss.Color("#ff6b6b")
	panelBg := lipgloss.Color("#161b22")
	text := lipgloss.Color("#e6edf3")
	muted := lipgloss.Color("#8b949e")

	return theme{
		root: lipgloss.NewStyle().
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(green).
			Padding(0, 1),
		promptPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(amber).
			Padding(0, 1),
		footer: lipgloss.NewStyle().
			Foreground(muted).
			Padding(0, 1),
		helpText: lipgloss.NewStyle().Foreground(muted),

		status:      lipgloss.NewStyle().Foreground(green).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(red).Bold(true),
		muted:       lipgloss.NewStyle().Foreground(amber),

		channel:     lipgloss.NewStyle().Foreground(blue),
		selfChannel: lipgloss.NewStyle().Foreground(blue).Bold(true),
		user:        lipgloss.NewStyle().Foreground(text),
		self:        lipgloss.NewStyle().Foreground(text).Bold(true),
		talking:     lipgloss.NewStyle().Foreground(green).Bold(true),
		restricted:  lipgloss.NewStyle().Foreground(muted),

		timestamp: lipgloss.NewStyle().Foreground(muted),
		sender:    lipgloss.NewStyle().Foreground(green).Bold(true),
		private:   lipgloss.NewStyle().Foreground(amber).Bold(true),
		notice:    lipgloss.NewStyle().Foreground(muted).Italic(true),
		system:    lipgloss.NewStyle().Foreground(blue),
	}
}
