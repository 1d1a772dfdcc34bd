package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rovshanmuradov/katz-bot/internal/bot"
	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/flipper"
	"github.com/rovshanmuradov/katz-bot/internal/logger"
	"github.com/rovshanmuradov/katz-bot/internal/ui/style"
)

const (
	commandTimeout = 30 * time.Second
	activityLines  = 8
)

// Source provides the state the dashboard renders.
type Source interface {
	Snapshot() bot.Snapshot
}

// Commander executes operator commands.
type Commander interface {
	Send(ctx context.Context, cmd bot.Command) error
}

// LogSource returns the most recent log entries, oldest first.
type LogSource interface {
	Recent(limit int) []logger.Entry
}

// Options tune the dashboard.
type Options struct {
	// UserID is attached to every command the dashboard sends.
	UserID   string
	Refresh  time.Duration
	LogLines int
}

// Model is the bubbletea model of the operator dashboard.
type Model struct {
	source   Source
	commands Commander
	logs     LogSource
	activity <-chan ActivityMsg
	opts     Options

	keys      KeyMap
	help      help.Model
	positions table.Model
	queues    table.Model
	breakers  table.Model
	focus     pane
	showLogs  bool

	snapshot   bot.Snapshot
	logEntries []logger.Entry
	feed       []ActivityMsg
	status     string
	statusErr  bool
	width      int
	height     int
}

// New builds the dashboard. logs and activity may be nil.
func New(source Source, commands Commander, logs LogSource, activity <-chan ActivityMsg, opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = time.Second
	}
	if opts.LogLines <= 0 {
		opts.LogLines = 10
	}

	m := Model{
		source:   source,
		commands: commands,
		logs:     logs,
		activity: activity,
		opts:     opts,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		showLogs: logs != nil,
		positions: newTable([]table.Column{
			{Title: "Token", Width: 12},
			{Title: "State", Width: 8},
			{Title: "Entry", Width: 12},
			{Title: "Current", Width: 12},
			{Title: "P/L %", Width: 9},
			{Title: "High", Width: 12},
			{Title: "Low", Width: 12},
			{Title: "Held", Width: 9},
		}, 8),
		queues: newTable([]table.Column{
			{Title: "Network", Width: 10},
			{Title: "Waiting", Width: 8},
			{Title: "Running", Width: 8},
			{Title: "Gas", Width: 12},
			{Title: "State", Width: 8},
		}, len(domain.SupportedNetworks())),
		breakers: newTable([]table.Column{
			{Title: "Breaker", Width: 10},
			{Title: "State", Width: 10},
			{Title: "Failures", Width: 9},
			{Title: "Retries", Width: 8},
		}, 3),
	}
	m.positions.Focus()
	return m
}

func newTable(cols []table.Column, height int) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithHeight(height),
	)
	t.SetStyles(style.TableStyles())
	return t
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick(), m.listen())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		msg := SnapshotMsg{Snapshot: m.source.Snapshot()}
		if m.logs != nil {
			msg.Logs = m.logs.Recent(m.opts.LogLines)
		}
		return msg
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) listen() tea.Cmd {
	if m.activity == nil {
		return nil
	}
	ch := m.activity
	return func() tea.Msg {
		return <-ch
	}
}

func (m Model) send(cmd bot.Command) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return CommandResultMsg{Command: cmd.GetType(), Err: m.commands.Send(ctx, cmd)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case SnapshotMsg:
		m.apply(msg)
		return m, nil

	case ActivityMsg:
		m.feed = append([]ActivityMsg{msg}, m.feed...)
		if len(m.feed) > activityLines {
			m.feed = m.feed[:activityLines]
		}
		return m, tea.Batch(m.listen(), m.fetch())

	case CommandResultMsg:
		if msg.Err != nil {
			m.setStatus(fmt.Sprintf("%s failed: %s", msg.Command, domain.UserMessage(msg.Err)), true)
		} else {
			m.setStatus(msg.Command+" done", false)
		}
		return m, m.fetch()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetch()
	case key.Matches(msg, m.keys.Logs):
		if m.logs != nil {
			m.showLogs = !m.showLogs
		}
		return m, nil
	case key.Matches(msg, m.keys.Tab):
		m.setFocus((m.focus + 1) % paneCount)
		return m, nil
	case key.Matches(msg, m.keys.Stop):
		return m, m.send(bot.StopFlipperCommand{UserID: m.opts.UserID})
	case key.Matches(msg, m.keys.Close):
		return m.closeSelected()
	case key.Matches(msg, m.keys.Pause):
		return m.togglePause()
	case key.Matches(msg, m.keys.Reset):
		return m.resetSelected()
	}

	var cmd tea.Cmd
	switch m.focus {
	case panePositions:
		m.positions, cmd = m.positions.Update(msg)
	case paneQueues:
		m.queues, cmd = m.queues.Update(msg)
	case paneBreakers:
		m.breakers, cmd = m.breakers.Update(msg)
	}
	return m, cmd
}

func (m *Model) setFocus(p pane) {
	m.focus = p
	m.positions.Blur()
	m.queues.Blur()
	m.breakers.Blur()
	switch p {
	case panePositions:
		m.positions.Focus()
	case paneQueues:
		m.queues.Focus()
	case paneBreakers:
		m.breakers.Focus()
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

var errNoSelection = errors.New("nothing selected")

func (m Model) closeSelected() (tea.Model, tea.Cmd) {
	if m.focus != panePositions {
		return m, nil
	}
	i := m.positions.Cursor()
	if i < 0 || i >= len(m.snapshot.Positions) {
		m.setStatus(errNoSelection.Error(), true)
		return m, nil
	}
	token := m.snapshot.Positions[i].Token.Address
	m.setStatus("closing "+logger.ShortenAddress(token)+"...", false)
	return m, m.send(bot.ClosePositionCommand{
		UserID: m.opts.UserID,
		Token:  token,
		Reason: flipper.ReasonManual,
	})
}

func (m Model) togglePause() (tea.Model, tea.Cmd) {
	if m.focus != paneQueues {
		return m, nil
	}
	i := m.queues.Cursor()
	if i < 0 || i >= len(m.snapshot.Queues) {
		m.setStatus(errNoSelection.Error(), true)
		return m, nil
	}
	q := m.snapshot.Queues[i]
	return m, m.send(bot.PauseNetworkCommand{
		UserID:  m.opts.UserID,
		Network: q.Network,
		Resume:  q.Paused,
	})
}

func (m Model) resetSelected() (tea.Model, tea.Cmd) {
	if m.focus != paneBreakers {
		return m, nil
	}
	i := m.breakers.Cursor()
	if i < 0 || i >= len(m.snapshot.Breakers) {
		m.setStatus(errNoSelection.Error(), true)
		return m, nil
	}
	return m, m.send(bot.ResetBreakerCommand{
		UserID: m.opts.UserID,
		Name:   m.snapshot.Breakers[i].Name,
	})
}

// apply copies a snapshot into the tables.
func (m *Model) apply(msg SnapshotMsg) {
	m.snapshot = msg.Snapshot
	m.logEntries = msg.Logs

	rows := make([]table.Row, 0, len(msg.Snapshot.Positions))
	for _, p := range msg.Snapshot.Positions {
		rows = append(rows, table.Row{
			symbol(p.Token.Symbol, p.Token.Address),
			string(p.State),
			formatPrice(p.EntryPrice),
			formatPrice(p.CurrentPrice),
			fmt.Sprintf("%+.2f", p.ProfitLoss),
			formatPrice(p.HighPrice),
			formatPrice(p.LowPrice),
			p.TimeElapsed.Round(time.Second).String(),
		})
	}
	m.positions.SetRows(rows)
	clampCursor(&m.positions, len(rows))

	rows = make([]table.Row, 0, len(msg.Snapshot.Queues))
	for _, q := range msg.Snapshot.Queues {
		state := "running"
		if q.Paused {
			state = "paused"
		}
		gas := "n/a"
		if q.Gas.Available {
			gas = formatPrice(q.Gas.Price)
		}
		rows = append(rows, table.Row{
			q.Network.String(),
			fmt.Sprint(q.Size),
			fmt.Sprint(q.Pending),
			gas,
			state,
		})
	}
	m.queues.SetRows(rows)
	clampCursor(&m.queues, len(rows))

	rows = make([]table.Row, 0, len(msg.Snapshot.Breakers))
	for _, b := range msg.Snapshot.Breakers {
		rows = append(rows, table.Row{
			b.Name,
			b.State,
			fmt.Sprint(b.Failures),
			fmt.Sprint(b.HalfOpenRetries),
		})
	}
	m.breakers.SetRows(rows)
	clampCursor(&m.breakers, len(rows))
}

func clampCursor(t *table.Model, n int) {
	if n == 0 {
		t.SetCursor(0)
		return
	}
	if t.Cursor() >= n {
		t.SetCursor(n - 1)
	}
}

func formatPrice(p float64) string {
	if p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.6g", p)
}
