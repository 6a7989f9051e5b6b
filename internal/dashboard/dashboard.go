// Package dashboard is the live terminal view behind `netmonctl watch`.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/zsiec/network-monitor/internal/health"
	"github.com/zsiec/network-monitor/internal/server"
)

const (
	historyLen   = 60
	recentEvents = 10
	topStations  = 10
)

// Source is where the dashboard polls its data from.
type Source interface {
	Health(ctx context.Context) (health.Response, error)
	Stations(ctx context.Context) (server.StationsResponse, error)
	RecentEvents(ctx context.Context, limit int) (server.RecentEventsResponse, error)
}

// Snapshot is one poll of the API.
type Snapshot struct {
	Health    health.Response
	Stations  []server.StationResponse
	Events    server.RecentEventsResponse
	FetchedAt time.Time
	Err       error
}

// Total is the number of passengers across the network.
func (s Snapshot) Total() int64 {
	var total int64
	for _, st := range s.Stations {
		total += st.Passengers
	}
	return total
}

// FeedConnected reads the feed check's details. ok is false when the
// service does not report on the feed.
func (s Snapshot) FeedConnected() (connected, ok bool) {
	check, found := s.Health.Checks["feed"]
	if !found || check == nil {
		return false, false
	}
	if enabled, _ := check.Details["enabled"].(bool); !enabled {
		return false, false
	}
	connected, _ = check.Details["connected"].(bool)
	return connected, true
}

type tickMsg time.Time
type snapshotMsg Snapshot

// Model is the bubbletea model.
type Model struct {
	source   Source
	target   string
	interval time.Duration

	width    int
	height   int
	snap     Snapshot
	history  []float64
	polls    int
	quitting bool
}

// New creates a dashboard polling source every interval. target is shown
// in the header.
func New(source Source, target string, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Model{source: source, target: target, interval: interval}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(fetch(m.source, m.interval), tick(m.interval))
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.source, m.interval)
		}

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(fetch(m.source, m.interval), tick(m.interval))

	case snapshotMsg:
		snap := Snapshot(msg)
		m.polls++
		if snap.Err != nil {
			// Keep showing the last good data.
			m.snap.Err = snap.Err
			m.snap.FetchedAt = snap.FetchedAt
			return m, nil
		}
		m.snap = snap
		m.history = append(m.history, float64(snap.Total()))
		if len(m.history) > historyLen {
			m.history = m.history[len(m.history)-historyLen:]
		}
	}
	return m, nil
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return "Bye.\n"
	}

	width := m.width
	if width == 0 {
		width = 100
	}

	header := HeaderStyle.Width(width - 2).Render(fmt.Sprintf("NETWORK MONITOR  %s  %s",
		MutedStyle.Render(m.target), StatusBadge(string(m.snap.Health.Status))))

	var body string
	if width < 90 {
		body = lipgloss.JoinVertical(lipgloss.Left,
			m.overviewPanel(width-2),
			m.stationsPanel(width-2),
			m.eventsPanel(width-2))
	} else {
		left := lipgloss.JoinVertical(lipgloss.Left, m.overviewPanel(width/2-2), m.eventsPanel(width/2-2))
		body = lipgloss.JoinHorizontal(lipgloss.Top, left, m.stationsPanel(width-width/2-2))
	}

	footer := MutedStyle.Render("q quit • r refresh")
	if m.snap.Err != nil {
		footer = ErrorStyle.Render("error: "+m.snap.Err.Error()) + "  " + footer
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer) + "\n"
}

func (m *Model) overviewPanel(width int) string {
	feed := MutedStyle.Render("disabled")
	if connected, ok := m.snap.FeedConnected(); ok {
		if connected {
			feed = SuccessStyle.Render("connected")
		} else {
			feed = ErrorStyle.Render("disconnected")
		}
	}

	updated := "never"
	if !m.snap.FetchedAt.IsZero() {
		updated = humanize.Time(m.snap.FetchedAt)
	}

	lines := []string{
		PanelTitleStyle.Render("OVERVIEW"),
		fmt.Sprintf("Stations     %s", ValueStyle.Render(humanize.Comma(int64(len(m.snap.Stations))))),
		fmt.Sprintf("Passengers   %s", ValueStyle.Render(humanize.Comma(m.snap.Total()))),
		fmt.Sprintf("Feed         %s", feed),
		fmt.Sprintf("Uptime       %s", m.snap.Health.Uptime),
		fmt.Sprintf("Updated      %s", MutedStyle.Render(updated)),
		"",
		InfoStyle.Render(Sparkline(m.history, max(width-4, 10))),
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) stationsPanel(width int) string {
	lines := []string{PanelTitleStyle.Render("BUSIEST STATIONS")}

	busiest := Busiest(m.snap.Stations, topStations)
	if len(busiest) == 0 {
		lines = append(lines, MutedStyle.Render("no stations loaded"))
	}
	var peak int64 = 1
	if len(busiest) > 0 && busiest[0].Passengers > peak {
		peak = busiest[0].Passengers
	}

	nameWidth := max(width-24, 8)
	for _, st := range busiest {
		name := st.Name
		if name == "" {
			name = st.ID
		}
		lines = append(lines, fmt.Sprintf("%-*s %7s %s",
			nameWidth, truncate(name, nameWidth),
			humanize.Comma(st.Passengers),
			Bar(st.Passengers, peak, 12)))
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) eventsPanel(width int) string {
	lines := []string{PanelTitleStyle.Render("RECENT EVENTS")}

	names := make(map[string]string, len(m.snap.Stations))
	for _, st := range m.snap.Stations {
		names[st.ID] = st.Name
	}

	events := m.snap.Events.Events
	if len(events) == 0 {
		lines = append(lines, MutedStyle.Render("waiting for passenger events..."))
	}
	if len(events) > recentEvents {
		events = events[:recentEvents]
	}
	for _, ev := range events {
		name := names[ev.StationID]
		if name == "" {
			name = ev.StationID
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			MutedStyle.Render(ev.Timestamp.Local().Format("15:04:05")),
			EventBadge(ev.Type.String()),
			truncate(name, max(width-20, 8))))
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

// Busiest returns up to n stations with the most passengers, ties by ID.
func Busiest(stations []server.StationResponse, n int) []server.StationResponse {
	out := append([]server.StationResponse(nil), stations...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Passengers != out[j].Passengers {
			return out[i].Passengers > out[j].Passengers
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline scales data into width characters.
func Sparkline(data []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(data) == 0 {
		return strings.Repeat(string(sparkChars[0]), width)
	}

	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}
	if maxVal == minVal {
		return strings.Repeat(string(sparkChars[3]), width)
	}

	var b strings.Builder
	for i := 0; i < width; i++ {
		idx := i * len(data) / width
		normalized := (data[idx] - minVal) / (maxVal - minVal)
		b.WriteRune(sparkChars[min(int(normalized*7), 7)])
	}
	return b.String()
}

// Bar renders value relative to peak. Negative counts draw nothing.
func Bar(value, peak int64, width int) string {
	if value <= 0 || peak <= 0 {
		return strings.Repeat("░", width)
	}
	filled := int(value * int64(width) / peak)
	filled = min(max(filled, 1), width)
	return SuccessStyle.Render(strings.Repeat("█", filled)) + MutedStyle.Render(strings.Repeat("░", width-filled))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func fetch(source Source, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		snap := Snapshot{FetchedAt: time.Now()}
		var err error
		if snap.Health, err = source.Health(ctx); err != nil {
			snap.Err = err
			return snapshotMsg(snap)
		}
		stations, err := source.Stations(ctx)
		if err != nil {
			snap.Err = err
			return snapshotMsg(snap)
		}
		snap.Stations = stations.Stations
		if snap.Events, err = source.RecentEvents(ctx, recentEvents); err != nil {
			snap.Err = err
		}
		return snapshotMsg(snap)
	}
}

// Run starts the dashboard in the alternate screen until the user quits.
func Run(ctx context.Context, source Source, target string, interval time.Duration) error {
	p := tea.NewProgram(New(source, target, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
