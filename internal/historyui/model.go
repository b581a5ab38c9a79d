// Package historyui provides the Bubble Tea browser over stored runs.
package historyui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/verte-zerg/stampclock/internal/model"
	"github.com/verte-zerg/stampclock/internal/report"
)

const (
	tabRuns = iota
	tabHours
	tabVideos
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// RunSource reads stored runs.
type RunSource interface {
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)
	LoadRun(ctx context.Context, id string) (model.Run, error)
}

// Model implements the Bubble Tea history UI.
type Model struct {
	src   RunSource
	limit int
	now   func() time.Time

	runs     []model.RunSummary
	current  model.Run
	loaded   bool
	location *time.Location
	errMsg   string

	tabs      []string
	activeTab int
	viewports []viewport.Model
	runTable  table.Model

	width  int
	height int
}

// NewModel constructs a history UI listing up to limit runs (all when <= 0).
// When openID is set that run is shown first.
func NewModel(src RunSource, limit int, openID string) *Model {
	m := &Model{
		src:   src,
		limit: limit,
		now:   time.Now,
		tabs:  []string{"Runs", "Hours", "Videos"},
	}
	m.viewports = make([]viewport.Model, len(m.tabs))
	for i := range m.viewports {
		m.viewports[i] = viewport.New(0, 0)
	}
	m.runTable = table.New(
		table.WithColumns(runColumns()),
		table.WithHeight(1),
		table.WithFocused(true),
	)
	m.runTable.SetStyles(runTableStyles())
	m.refreshRuns()
	switch {
	case openID != "":
		m.openRun(openID)
		m.activeTab = tabHours
		m.runTable.Blur()
	case len(m.runs) > 0:
		m.openRun(m.runs[0].ID)
	}
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderTabContents()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			return m, tea.Quit
		}
		switch msg.String() {
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "r":
			m.refreshRuns()
			m.updateLayout()
			return m, nil
		case "enter":
			if m.activeTab == tabRuns && len(m.runs) > 0 {
				m.openRun(m.runs[m.runTable.Cursor()].ID)
				m.activeTab = tabHours
				m.runTable.Blur()
				return m, tea.ClearScreen
			}
			return m, nil
		case "g", "home":
			if m.activeTab == tabRuns {
				m.runTable.GotoTop()
			} else {
				m.viewports[m.activeTab].GotoTop()
			}
			return m, nil
		case "G", "end":
			if m.activeTab == tabRuns {
				m.runTable.GotoBottom()
			} else {
				m.viewports[m.activeTab].GotoBottom()
			}
			return m, nil
		default:
			if m.activeTab == tabRuns {
				var cmd tea.Cmd
				m.runTable, cmd = m.runTable.Update(msg)
				return m, cmd
			}
			vp := m.viewports[m.activeTab]
			var cmd tea.Cmd
			vp, cmd = vp.Update(msg)
			m.viewports[m.activeTab] = vp
			return m, cmd
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(bodyHeight), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := max(lipgloss.Height(activeNavStyle.Render("X")), 1)
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = max(m.height-headerHeight-footerHeight, 1)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	for i := range m.viewports {
		m.viewports[i].Width = m.width
		m.viewports[i].Height = bodyHeight
	}
	m.runTable.SetWidth(m.width)
	// header row and its border take two lines
	m.runTable.SetHeight(max(bodyHeight-2, 1))
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	if count == 0 {
		return
	}
	m.activeTab = (m.activeTab + delta + count) % count
	if m.activeTab == tabRuns {
		m.runTable.Focus()
	} else {
		m.runTable.Blur()
	}
}

func (m *Model) refreshRuns() {
	runs, err := m.src.ListRuns(context.Background(), m.limit)
	if err != nil {
		m.errMsg = err.Error()
		return
	}
	m.errMsg = ""
	m.runs = runs
	m.runTable.SetRows(runRows(runs, m.now()))
	if m.runTable.Cursor() >= len(runs) {
		m.runTable.SetCursor(max(len(runs)-1, 0))
	}
}

func (m *Model) openRun(id string) {
	run, err := m.src.LoadRun(context.Background(), id)
	if err != nil {
		m.errMsg = err.Error()
		return
	}
	m.errMsg = ""
	m.current = run
	m.loaded = true
	m.location = runLocation(run.TimeZone)
	for i, r := range m.runs {
		if r.ID == id {
			m.runTable.SetCursor(i)
			break
		}
	}
	m.renderTabContents()
}

func runLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (m *Model) renderTabContents() {
	width := m.width
	if width <= 0 {
		width = 80
	}
	if !m.loaded {
		m.viewports[tabHours].SetContent("No run selected.")
		m.viewports[tabVideos].SetContent("No run selected.")
		return
	}
	m.viewports[tabHours].SetContent(renderHours(m.current, width))
	m.viewports[tabVideos].SetContent(renderVideos(m.current, m.location))
}

func renderHours(run model.Run, width int) string {
	cards := renderSummaryCards(run, width)
	bars := strings.Join(report.HourBarLines(run.Totals.Hours, report.BarWidthFor(width), true), "\n")
	hours := strings.Join(report.HourTableLines(run.Totals.Hours), "\n")
	return strings.TrimRight(cards+"\n\n"+bars+"\n\n"+hours, "\n")
}

func renderVideos(run model.Run, loc *time.Location) string {
	lines := report.VideoTableLines(run.Totals, loc)
	if len(run.Skipped) > 0 {
		lines = append(lines, "", headerStyle.Render(fmt.Sprintf("Skipped (%d):", len(run.Skipped))))
		lines = append(lines, report.SkipLines(run.Skipped)...)
	}
	return strings.Join(lines, "\n")
}

func renderSummaryCards(run model.Run, width int) string {
	peakHour, peak := 0, int64(0)
	for h, v := range run.Totals.Hours {
		if v > peak {
			peakHour, peak = h, v
		}
	}
	peakValue := "-"
	if peak > 0 {
		peakValue = fmt.Sprintf("%02d:00 (%s)", peakHour, report.FormatClock(peak))
	}
	cards := []string{
		metricCard("Videos", humanize.Comma(int64(run.Processed))),
		metricCard("Skipped", humanize.Comma(int64(len(run.Skipped)))),
		metricCard("Recorded", report.FormatClock(run.Totals.TotalSeconds)),
		metricCard("Peak hour", peakValue),
	}
	if width < 80 {
		return strings.Join(cards, "\n")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func runColumns() []table.Column {
	return []table.Column{
		{Title: "Run", Width: 8},
		{Title: "Started", Width: 16},
		{Title: "When", Width: 14},
		{Title: "Zone", Width: 16},
		{Title: "Videos", Width: 6},
		{Title: "Skipped", Width: 7},
		{Title: "Recorded", Width: 10},
	}
}

func runRows(runs []model.RunSummary, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.TimeZone,
			humanize.Comma(int64(r.Processed)),
			humanize.Comma(int64(r.SkippedCount)),
			report.FormatClock(r.TotalSeconds),
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func runTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	tabs := padLines(m.renderTabs(), m.width)
	summary := "No run selected"
	if m.loaded {
		summary = fmt.Sprintf("Run %s  started %s  zone %s  sources %s",
			shortID(m.current.ID),
			m.current.StartedAt.Local().Format("2006-01-02 15:04:05"),
			m.current.TimeZone,
			strings.Join(m.current.Sources, ", "))
	}
	return tabs + "\n" + headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderHelp() string {
	help := "Nav: left/right  Scroll: up/down/pgup/pgdn  Quit: q"
	if m.activeTab == tabRuns {
		help = "Nav: left/right  Select: up/down  Open: enter  Reload: r  Quit: q"
	}
	return headerStyle.Render(help)
}

func (m *Model) renderFooter() string {
	if m.errMsg != "" {
		return m.renderHelp() + "\n" + errorStyle.Render(m.errMsg)
	}
	return m.renderHelp()
}

func (m *Model) renderBody(height int) string {
	if m.activeTab == tabRuns {
		if len(m.runs) == 0 {
			return fitLines("No runs stored yet. Run a scan first.", m.width, height)
		}
		return fitLines(tableMutedStyle.Render(m.runTable.View()), m.width, height)
	}
	return fitLines(m.viewports[m.activeTab].View(), m.width, height)
}

func padLines(s string, width int) string {
	if width <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
