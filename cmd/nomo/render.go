package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"nomo/internal/engine"
	"nomo/internal/experience"
	"nomo/internal/network"
)

// Palette
var (
	colorPrimary = lipgloss.Color("#2E7D32") // Leaf green
	colorAccent  = lipgloss.Color("#FFB300") // Coin gold
	colorMuted   = lipgloss.Color("#8A8F98")
	colorDanger  = lipgloss.Color("#e53935")
	colorInfo    = lipgloss.Color("#2196F3")
)

// styles holds the styled components used by every command.
type styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Coins   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Card    lipgloss.Style
	Header  lipgloss.Style
}

func newStyles() styles {
	return styles{
		Title:   lipgloss.NewStyle().Foreground(colorPrimary).Bold(true),
		Label:   lipgloss.NewStyle().Foreground(colorMuted).Width(14),
		Value:   lipgloss.NewStyle().Bold(true),
		Coins:   lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		Success: lipgloss.NewStyle().Foreground(colorPrimary),
		Warning: lipgloss.NewStyle().Foreground(colorAccent),
		Error:   lipgloss.NewStyle().Foreground(colorDanger),
		Card: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1),
		Header: lipgloss.NewStyle().Foreground(colorInfo).Bold(true).Padding(0, 1),
	}
}

var ui = newStyles()

func init() {
	if os.Getenv("NO_COLOR") != "" {
		ui = styles{Label: lipgloss.NewStyle().Width(14), Card: lipgloss.NewStyle()}
	}
}

func row(label, value string) string {
	return ui.Label.Render(label) + value
}

func renderStatus(st engine.Status) string {
	into, span := experience.Progress(st.Experience.CurrentXP)
	level := fmt.Sprintf("%d", st.Experience.CurrentLevel)
	if span > 0 {
		level += ui.Muted.Render(fmt.Sprintf("  (%d/%d xp)", into, span))
	} else {
		level += ui.Muted.Render("  (max)")
	}

	coins := ui.Coins.Render(fmt.Sprintf("%d", st.Currency.Balance))
	if st.Currency.PendingServerValidation {
		coins += ui.Warning.Render("  pending")
	}

	streak := fmt.Sprintf("%d days", st.Streak.CurrentStreak)
	streak += ui.Muted.Render(fmt.Sprintf("  (best %d, %d freezes)", st.Streak.LongestStreak, st.Streak.FreezeCount))

	equipped := st.Inventory.EquippedCosmetic
	if equipped == "" {
		equipped = ui.Muted.Render("nothing")
	}

	lines := []string{
		ui.Title.Render("nomo"),
		row("Coins", coins),
		row("Level", level),
		row("Zone", st.Experience.CurrentZone),
		row("Streak", streak),
		row("Owned items", fmt.Sprintf("%d", len(st.Inventory.OwnedItems))),
		row("Wearing", equipped),
		row("Sync", renderQueue(st)),
	}
	return ui.Card.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderQueue(st engine.Status) string {
	var net string
	switch st.Network {
	case network.Online:
		net = ui.Success.Render("online")
	case network.Offline:
		net = ui.Warning.Render("offline")
	default:
		net = ui.Muted.Render("unknown")
	}
	if st.Queue.Pending == 0 {
		return net + ui.Muted.Render("  all settled")
	}
	return net + fmt.Sprintf("  %d pending", st.Queue.Pending) +
		ui.Muted.Render(fmt.Sprintf(" (%d retrying)", st.Queue.Retrying))
}

// table renders rows under headers with padded columns.
type table struct {
	headers []string
	rows    [][]string
}

func newTable(headers ...string) *table {
	return &table{headers: headers}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) String() string {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range t.rows {
		for i, cell := range r {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var sb strings.Builder
	for i, h := range t.headers {
		sb.WriteString(ui.Header.Width(widths[i] + 2).Render(h))
	}
	sb.WriteString("\n")
	for _, r := range t.rows {
		for i, cell := range r {
			if i < len(widths) {
				sb.WriteString(lipgloss.NewStyle().Padding(0, 1).Width(widths[i] + 2).Render(cell))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
