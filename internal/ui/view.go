package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/katz-bot/internal/logger"
	"github.com/rovshanmuradov/katz-bot/internal/ui/style"
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(style.Panel(fmt.Sprintf("Positions (%d/%d)", len(m.snapshot.Positions), m.snapshot.Engine.MaxPositions),
		m.positions.View(), m.focus == panePositions, 0))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		style.Panel("Queues", m.queues.View(), m.focus == paneQueues, 0),
		style.Panel("Breakers", m.breakers.View(), m.focus == paneBreakers, 0),
	))
	b.WriteString("\n")
	b.WriteString(style.Panel("Activity", m.activityView(), false, 0))
	if m.showLogs {
		b.WriteString("\n")
		b.WriteString(style.Panel("Logs", m.logsView(), false, 0))
	}
	b.WriteString("\n")
	if m.status != "" {
		st := style.StatusOKStyle
		if m.statusErr {
			st = style.StatusErrorStyle
		}
		b.WriteString(st.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) header() string {
	eng := m.snapshot.Engine
	state := "stopped"
	if eng.Running {
		state = "running"
	}

	parts := []string{
		style.HeaderStyle.Render("KATZ FlipperMode"),
		style.Colored(state, style.StateColor(state)),
	}
	if eng.Running {
		parts = append(parts,
			fmt.Sprintf("%s %s", eng.Wallet.Network, logger.ShortenAddress(eng.Wallet.Address)),
			fmt.Sprintf("up %s", time.Since(eng.StartedAt).Round(time.Second)),
			fmt.Sprintf("queued %d", eng.Queued),
		)
	}

	s := m.snapshot.Session
	parts = append(parts,
		fmt.Sprintf("trades %d", s.TotalTrades),
		fmt.Sprintf("win %.0f%%", s.WinRate),
		style.Colored(fmt.Sprintf("P/L %+.2f%%", s.TotalProfit), style.ProfitColor(s.TotalProfit)),
	)

	health := "ok"
	if !m.snapshot.Health.Time.IsZero() && !m.snapshot.Health.Healthy {
		health = "failing: " + strings.Join(m.snapshot.Health.Failing(true), ",")
	}
	parts = append(parts, "health "+style.Colored(health, style.StateColor(healthState(health))))

	return strings.Join(parts, style.MutedStyle.Render(" | "))
}

func healthState(h string) string {
	if h == "ok" {
		return "ok"
	}
	return "OPEN"
}

func (m Model) activityView() string {
	if len(m.feed) == 0 {
		return style.MutedStyle.Render("no activity yet")
	}
	lines := make([]string, 0, len(m.feed))
	for _, a := range m.feed {
		line := fmt.Sprintf("%s %s", a.Time.Format("15:04:05"), a.Message)
		if a.Alert {
			line = style.StatusErrorStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) logsView() string {
	if len(m.logEntries) == 0 {
		return style.MutedStyle.Render("no log entries")
	}
	lines := make([]string, 0, len(m.logEntries))
	for _, e := range m.logEntries {
		msg := e.Message
		if e.Logger != "" {
			msg = "[" + e.Logger + "] " + msg
		}
		line := fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05"), strings.ToUpper(e.Level), msg)
		switch e.Level {
		case "error", "fatal", "panic":
			line = style.StatusErrorStyle.Render(line)
		case "warn":
			line = style.Colored(line, style.Yellow)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
