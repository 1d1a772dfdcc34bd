package ui

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

// RecoveryHandler runs the dashboard and restarts it after a panic, up to
// maxRestarts times. The trading core keeps running while the UI restarts.
type RecoveryHandler struct {
	logger       *zap.Logger
	restartDelay time.Duration
	maxRestarts  int
	restartCount int
	stopped      bool
	mu           sync.Mutex
	program      *tea.Program
	createUI     func() (tea.Model, []tea.ProgramOption)
}

// NewRecoveryHandler creates a new recovery handler
func NewRecoveryHandler(logger *zap.Logger, createUI func() (tea.Model, []tea.ProgramOption)) *RecoveryHandler {
	return &RecoveryHandler{
		logger:       logger.Named("ui"),
		restartDelay: 5 * time.Second,
		maxRestarts:  5,
		createUI:     createUI,
	}
}

// Run blocks until the user quits, Stop is called, or the UI crashed too
// often.
func (rh *RecoveryHandler) Run() error {
	for {
		err := rh.runUI()
		if err == nil {
			return nil
		}

		rh.mu.Lock()
		rh.restartCount++
		count, stopped := rh.restartCount, rh.stopped
		rh.mu.Unlock()
		if stopped {
			return nil
		}
		if count > rh.maxRestarts {
			return fmt.Errorf("UI crashed too many times (%d), giving up: %w", rh.maxRestarts, err)
		}

		rh.logger.Error("UI crashed, will restart",
			zap.Error(err),
			zap.Int("restart_count", count),
			zap.Duration("delay", rh.restartDelay))
		time.Sleep(rh.restartDelay)
	}
}

func (rh *RecoveryHandler) runUI() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("UI panic: %v", r)
			rh.logger.Error("UI panic recovered",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	// Panics inside the program are caught by bubbletea, which restores the
	// terminal and returns an error from Run.
	model, opts := rh.createUI()
	p := tea.NewProgram(model, opts...)

	rh.mu.Lock()
	if rh.stopped {
		rh.mu.Unlock()
		return nil
	}
	rh.program = p
	rh.mu.Unlock()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("UI error: %w", err)
	}
	return nil
}

// Stop quits the running program and prevents further restarts.
func (rh *RecoveryHandler) Stop() {
	rh.mu.Lock()
	defer rh.mu.Unlock()

	rh.stopped = true
	if rh.program != nil {
		rh.program.Quit()
	}
}

// RestartCount returns the number of restarts so far.
func (rh *RecoveryHandler) RestartCount() int {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	return rh.restartCount
}
