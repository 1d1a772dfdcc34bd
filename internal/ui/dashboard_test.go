package ui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/katz-bot/internal/bot"
	"github.com/rovshanmuradov/katz-bot/internal/breaker"
	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/flipper"
	"github.com/rovshanmuradov/katz-bot/internal/logger"
	"github.com/rovshanmuradov/katz-bot/internal/queue"
)

type stubSource struct{ snap bot.Snapshot }

func (s stubSource) Snapshot() bot.Snapshot { return s.snap }

type recordingCommander struct {
	mu   sync.Mutex
	sent []bot.Command
	err  error
}

func (c *recordingCommander) Send(_ context.Context, cmd bot.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, cmd)
	return c.err
}

type stubLogs []logger.Entry

func (l stubLogs) Recent(int) []logger.Entry { return l }

func testSnapshot() bot.Snapshot {
	return bot.Snapshot{
		Engine: flipper.Status{
			Running:      true,
			UserID:       "user1",
			Wallet:       domain.Wallet{Address: "So11111111111111111111111111111111111111112", Network: domain.NetworkSolana},
			StartedAt:    time.Now().Add(-time.Minute),
			MaxPositions: 3,
		},
		Positions: []flipper.PositionView{
			{Token: domain.Token{Address: "tokenA", Symbol: "AAA"}, State: flipper.StateOpen, EntryPrice: 1, CurrentPrice: 1.2, ProfitLoss: 20},
			{Token: domain.Token{Address: "tokenB"}, State: flipper.StateOpen, EntryPrice: 2, CurrentPrice: 1.8, ProfitLoss: -10},
		},
		Session: flipper.SessionStats{TotalTrades: 4, WinRate: 75, TotalProfit: 42.5},
		Queues: []queue.NetworkStatus{
			{Network: domain.NetworkEthereum},
			{Network: domain.NetworkBase, Paused: true},
			{Network: domain.NetworkSolana, Size: 2, Pending: 1},
		},
		Breakers: []breaker.Snapshot{
			{Name: "dextools", State: "CLOSED"},
			{Name: "openai", State: "CLOSED"},
			{Name: "pumpfun", State: "OPEN", Failures: 10},
		},
	}
}

func newTestModel(cmd *recordingCommander) Model {
	logs := stubLogs{{Time: time.Now(), Level: "warn", Logger: "queue", Message: "Gas oracle unavailable"}}
	return New(stubSource{snap: testSnapshot()}, cmd, logs, nil, Options{UserID: "user1"})
}

// loaded runs the initial fetch synchronously.
func loaded(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.fetch()()
	next, _ := m.Update(msg)
	return next.(Model)
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, keys ...string) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(keyMsg(k))
		m = next.(Model)
	}
	return m, cmd
}

func TestDashboardRendersSnapshot(t *testing.T) {
	m := loaded(t, newTestModel(&recordingCommander{}))

	assert.Len(t, m.positions.Rows(), 2)
	assert.Equal(t, "AAA", m.positions.Rows()[0][0])
	assert.Equal(t, "+20.00", m.positions.Rows()[0][4])
	assert.Equal(t, "-10.00", m.positions.Rows()[1][4])
	assert.Equal(t, "paused", m.queues.Rows()[1][4])
	assert.Equal(t, "OPEN", m.breakers.Rows()[2][1])

	view := m.View()
	assert.Contains(t, view, "Positions (2/3)")
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "trades 4")
	assert.Contains(t, view, "Gas oracle unavailable")
	assert.Contains(t, view, "no activity yet")
}

func TestDashboardClosesSelectedPosition(t *testing.T) {
	rec := &recordingCommander{}
	m := loaded(t, newTestModel(rec))

	m, cmd := press(t, m, "down", "c")
	require.NotNil(t, cmd)
	res := cmd().(CommandResultMsg)
	require.NoError(t, res.Err)

	require.Len(t, rec.sent, 1)
	assert.Equal(t, bot.ClosePositionCommand{UserID: "user1", Token: "tokenB", Reason: flipper.ReasonManual}, rec.sent[0])

	next, _ := m.Update(res)
	assert.Equal(t, "close_position done", next.(Model).status)
}

func TestDashboardPaneActions(t *testing.T) {
	rec := &recordingCommander{}
	m := loaded(t, newTestModel(rec))

	m, cmd := press(t, m, "tab", "down", "p")
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, paneQueues, m.focus)

	m, cmd = press(t, m, "tab", "down", "down", "x")
	require.NotNil(t, cmd)
	cmd()

	_, cmd = press(t, m, "c")
	assert.Nil(t, cmd, "close only applies to the positions pane")

	require.Len(t, rec.sent, 2)
	assert.Equal(t, bot.PauseNetworkCommand{UserID: "user1", Network: domain.NetworkBase, Resume: true}, rec.sent[0])
	assert.Equal(t, bot.ResetBreakerCommand{UserID: "user1", Name: "pumpfun"}, rec.sent[1])
}

func TestDashboardCommandFailure(t *testing.T) {
	rec := &recordingCommander{err: domain.ErrEngineStopped}
	m := loaded(t, newTestModel(rec))

	_, cmd := press(t, m, "S")
	require.NotNil(t, cmd)
	res := cmd().(CommandResultMsg)
	assert.True(t, errors.Is(res.Err, domain.ErrEngineStopped))

	next, _ := m.Update(res)
	got := next.(Model)
	assert.True(t, got.statusErr)
	assert.Contains(t, got.status, "stop_flipper failed")
	assert.Contains(t, got.View(), "stop_flipper failed")
}

func TestDashboardActivityFeed(t *testing.T) {
	m := loaded(t, newTestModel(&recordingCommander{}))

	for i := 0; i < activityLines+3; i++ {
		next, _ := m.Update(ActivityMsg{Time: time.Now(), Message: "event"})
		m = next.(Model)
	}
	next, _ := m.Update(ActivityMsg{Time: time.Now(), Message: "pumpfun breaker OPEN", Alert: true})
	m = next.(Model)

	assert.Len(t, m.feed, activityLines)
	assert.Equal(t, "pumpfun breaker OPEN", m.feed[0].Message)
	assert.Contains(t, m.View(), "pumpfun breaker OPEN")
}

func TestDashboardQuit(t *testing.T) {
	m := loaded(t, newTestModel(&recordingCommander{}))
	_, cmd := press(t, m, "q")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
