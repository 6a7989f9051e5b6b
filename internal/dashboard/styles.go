package dashboard

import "github.com/charmbracelet/lipgloss"

// Dark transit-board palette
var (
	Primary = lipgloss.Color("#FFB300") // platform amber
	Accent  = lipgloss.Color("#1E88E5")
	Success = lipgloss.Color("#4CAF50")
	Warning = lipgloss.Color("#FFB74D")
	Error   = lipgloss.Color("#F44336")

	Text       = lipgloss.Color("#E0E0E0")
	TextBright = lipgloss.Color("#FFFFFF")
	Muted      = lipgloss.Color("#90A4AE")

	PanelBg    = lipgloss.Color("#161B26")
	HeaderBg   = lipgloss.Color("#1C2128")
	BorderDark = lipgloss.Color("#30363D")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Background(HeaderBg).
			Padding(0, 2).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDark).
			Foreground(Text).
			Padding(0, 1)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	InfoStyle    = lipgloss.NewStyle().Foreground(Accent).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	ValueStyle   = lipgloss.NewStyle().Foreground(TextBright).Bold(true)
)

// StatusBadge renders a health status as a coloured label.
func StatusBadge(status string) string {
	switch status {
	case "ok":
		return SuccessStyle.Render("● OK")
	case "degraded":
		return WarningStyle.Render("● DEGRADED")
	case "down":
		return ErrorStyle.Render("● DOWN")
	default:
		return MutedStyle.Render("○ UNKNOWN")
	}
}

// EventBadge renders a passenger event direction.
func EventBadge(eventType string) string {
	switch eventType {
	case "in":
		return SuccessStyle.Render("▲ IN ")
	case "out":
		return WarningStyle.Render("▼ OUT")
	default:
		return MutedStyle.Render("?    ")
	}
}
