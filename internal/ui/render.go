package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/greemqtt/greemqtt/internal/discovery"
)

// Param is one key/value line of a Header. A slice keeps the order stable.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of header parameters.
type Params []Param

// Header is a command banner with title, command and parameters.
type Header struct {
	Title   string
	Command string
	Params  Params
	Width   int
}

// NewHeader creates a header sized to the current terminal.
func NewHeader(title, command string, params Params) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   TerminalWidth(),
	}
}

// Render returns the styled header.
func (h *Header) Render() string {
	width := clampWidth(h.Width)

	lines := []string{
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
		HeaderCommandStyle.Render(h.Command),
	}

	if len(h.Params) > 0 {
		lines = append(lines, lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Render(strings.Repeat("─", width-6)))

		keyWidth := 0
		for _, p := range h.Params {
			keyWidth = max(keyWidth, len(p.Key)+1)
		}
		for _, p := range h.Params {
			key := ParamKeyStyle.Render(padRight(p.Key+":", keyWidth))
			lines = append(lines, key+" "+ParamValueStyle.Render(p.Value))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (h *Header) String() string {
	return h.Render()
}

// DeviceTable renders devices as a bordered table no wider than width.
func DeviceTable(devices []discovery.Device, width int) string {
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, deviceRow(d))
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(MutedColor)).
		Width(clampWidth(width)).
		Headers("NAME", "ID", "ADDRESS", "CIPHER", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			if col == 3 && row >= 0 && row < len(devices) && devices[row].GCM {
				return TableCellStyle.Foreground(SuccessColor)
			}
			return TableCellStyle
		})

	return t.Render()
}

func deviceRow(d discovery.Device) []string {
	name := d.Name
	if name == "" {
		name = "-"
	}
	cipher := "ECB"
	if d.GCM {
		cipher = "GCM"
	}
	updated := "-"
	if !d.DiscoveredAt.IsZero() {
		updated = d.DiscoveredAt.Local().Format(time.DateTime)
	}
	return []string{name, d.ID, d.IP, cipher, updated}
}

// Notice renders a bordered warning box with a title and bullet tips.
func Notice(title string, tips []string, width int) string {
	width = clampWidth(width)

	lines := []string{NoticeTitleStyle.Render("⚠  " + title)}
	if len(tips) > 0 {
		lines = append(lines, "", TipStyle.Render("Troubleshooting:"))
		for _, tip := range tips {
			lines = append(lines, TipStyle.Render("  • "+tip))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(WarningColor).
		Width(width-2).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
