package ui

import (
	"time"

	"github.com/rovshanmuradov/katz-bot/internal/bot"
	"github.com/rovshanmuradov/katz-bot/internal/events"
	"github.com/rovshanmuradov/katz-bot/internal/logger"
)

// SnapshotMsg carries a refreshed view of the process.
type SnapshotMsg struct {
	Snapshot bot.Snapshot
	Logs     []logger.Entry
}

// ActivityMsg is one bus event rendered for the activity feed.
type ActivityMsg struct {
	Time    time.Time
	Type    events.Type
	Message string
	// Alert marks events an operator should act on.
	Alert bool
}

// CommandResultMsg reports the outcome of an operator command.
type CommandResultMsg struct {
	Command string
	Err     error
}

type tickMsg time.Time

// pane identifies the focused table.
type pane int

const (
	panePositions pane = iota
	paneQueues
	paneBreakers
	paneCount
)

func (p pane) String() string {
	switch p {
	case panePositions:
		return "positions"
	case paneQueues:
		return "queues"
	case paneBreakers:
		return "breakers"
	default:
		return "unknown"
	}
}
