package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hexwatch/internal/config"
	"hexwatch/internal/index"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("39")).
			Padding(1, 3)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)
	matchStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("220"))
)

var statusColors = map[index.Status]lipgloss.Color{
	index.StatusWorking:   lipgloss.Color("42"),
	index.StatusActive:    lipgloss.Color("39"),
	index.StatusIdle:      lipgloss.Color("220"),
	index.StatusCompleted: lipgloss.Color("240"),
	index.StatusError:     lipgloss.Color("196"),
}

const defaultWidth = 120

func terminalWidth(flagWidth int) int {
	if flagWidth > 0 {
		return flagWidth
	}
	if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && cols > 0 {
		return cols
	}
	return defaultWidth
}

func banner(cfg config.AppConfig) string {
	host := cfg.Addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	lines := []string{
		titleStyle.Render("hexwatch"),
		"",
		"HTTP       http://" + host,
		"WebSocket  ws://" + host + "/ws",
		"",
		mutedStyle.Render("watching " + cfg.ProjectsDir),
		mutedStyle.Render(fmt.Sprintf("debounce %s, up to %d sessions", cfg.Debounce, cfg.MaxSessions)),
	}
	return bannerStyle.Render(strings.Join(lines, "\n"))
}

// sessionTable renders one snapshot. Text columns are cut to fit width; the
// working directory absorbs whatever space is left.
func sessionTable(snap *index.Snapshot, now time.Time, width int) string {
	if snap.Len() == 0 {
		return mutedStyle.Render("No sessions found.")
	}

	const (
		nameWidth   = 20
		branchWidth = 18
		fixedWidth  = 70
	)
	dirWidth := width - fixedWidth
	if dirWidth < 12 {
		dirWidth = 12
	}

	rows := make([][]string, 0, snap.Len())
	for _, s := range snap.Sessions {
		rows = append(rows, []string{
			ansi.Truncate(s.DisplayName, nameWidth, "…"),
			statusCell(s.Status),
			ansi.Truncate(s.BranchName, branchWidth, "…"),
			truncateLeft(s.WorkingDirectory, dirWidth),
			humanizeAgo(now, s.LastActivity),
			strconv.Itoa(s.MessageCount),
			strconv.Itoa(s.ToolCount),
			strconv.Itoa(len(s.RecentFileChanges)),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("SESSION", "STATUS", "BRANCH", "DIRECTORY", "ACTIVE", "MSGS", "TOOLS", "FILES").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

func statusCell(st index.Status) string {
	c, ok := statusColors[st]
	if !ok {
		return string(st)
	}
	return lipgloss.NewStyle().Foreground(c).Render(string(st))
}

// truncateLeft keeps the end of a path, which is the part that identifies it.
func truncateLeft(s string, n int) string {
	w := ansi.StringWidth(s)
	if w <= n {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && ansi.StringWidth(string(r))+1 > n {
		r = r[1:]
	}
	return "…" + string(r)
}

func humanizeAgo(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
