// internal/bot/commands.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/flipper"
)

// Command is an operator request routed through the CommandBus.
type Command interface {
	GetType() string
	GetUserID() string
	Validate() error
}

// StartFlipperCommand starts a FlipperMode session.
type StartFlipperCommand struct {
	UserID        string                `json:"user_id"`
	WalletAddress string                `json:"wallet_address"`
	Override      flipper.MonitorConfig `json:"-"`
}

func (c StartFlipperCommand) GetType() string   { return "start_flipper" }
func (c StartFlipperCommand) GetUserID() string { return c.UserID }

func (c StartFlipperCommand) Validate() error {
	if c.UserID == "" {
		return errors.New("user_id cannot be empty")
	}
	if c.WalletAddress == "" {
		return errors.New("wallet_address cannot be empty")
	}
	return nil
}

// StopFlipperCommand stops the running session.
type StopFlipperCommand struct {
	UserID string `json:"user_id"`
}

func (c StopFlipperCommand) GetType() string   { return "stop_flipper" }
func (c StopFlipperCommand) GetUserID() string { return c.UserID }
func (c StopFlipperCommand) Validate() error   { return nil }

// ClosePositionCommand closes one open position.
type ClosePositionCommand struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
	Reason string `json:"reason,omitempty"`
}

func (c ClosePositionCommand) GetType() string   { return "close_position" }
func (c ClosePositionCommand) GetUserID() string { return c.UserID }

func (c ClosePositionCommand) Validate() error {
	if c.Token == "" {
		return errors.New("token cannot be empty")
	}
	return nil
}

// PauseNetworkCommand pauses or resumes a network queue.
type PauseNetworkCommand struct {
	UserID  string         `json:"user_id"`
	Network domain.Network `json:"network"`
	Resume  bool           `json:"resume"`
}

func (c PauseNetworkCommand) GetType() string {
	if c.Resume {
		return "resume_network"
	}
	return "pause_network"
}

func (c PauseNetworkCommand) GetUserID() string { return c.UserID }

func (c PauseNetworkCommand) Validate() error {
	if !c.Network.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedNetwork, c.Network)
	}
	return nil
}

// ResetBreakerCommand forces a breaker back to CLOSED.
type ResetBreakerCommand struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

func (c ResetBreakerCommand) GetType() string   { return "reset_breaker" }
func (c ResetBreakerCommand) GetUserID() string { return c.UserID }

func (c ResetBreakerCommand) Validate() error {
	if c.Name == "" {
		return errors.New("name cannot be empty")
	}
	return nil
}

// CommandHandler executes one command type.
type CommandHandler interface {
	Handle(ctx context.Context, cmd Command) error
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd Command) error

func (f CommandHandlerFunc) Handle(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// CommandBus routes commands to the handler registered for their type.
type CommandBus struct {
	handlers map[reflect.Type]CommandHandler
	names    map[reflect.Type]string
	logger   *zap.Logger
	mu       sync.RWMutex
}

func NewCommandBus(logger *zap.Logger) *CommandBus {
	return &CommandBus{
		handlers: make(map[reflect.Type]CommandHandler),
		names:    make(map[reflect.Type]string),
		logger:   logger.Named("command_bus"),
	}
}

// RegisterHandler registers handler for the dynamic type of cmdType.
func (bus *CommandBus) RegisterHandler(cmdType Command, handler CommandHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	t := reflect.TypeOf(cmdType)
	bus.handlers[t] = handler
	bus.names[t] = cmdType.GetType()

	bus.logger.Debug("Command handler registered", zap.String("command_type", cmdType.GetType()))
}

// Send validates cmd and runs its handler.
func (bus *CommandBus) Send(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		bus.logger.Warn("Command validation failed",
			zap.String("command_type", cmd.GetType()),
			zap.String("user_id", cmd.GetUserID()),
			zap.Error(err))
		return &domain.Error{Code: domain.CodeValidation, Op: cmd.GetType(), Err: err}
	}

	bus.mu.RLock()
	handler, exists := bus.handlers[reflect.TypeOf(cmd)]
	bus.mu.RUnlock()

	if !exists {
		bus.logger.Error("No handler for command",
			zap.String("command_type", cmd.GetType()),
			zap.String("user_id", cmd.GetUserID()))
		return fmt.Errorf("no handler registered for command type: %s", cmd.GetType())
	}

	bus.logger.Info("Executing command",
		zap.String("command_type", cmd.GetType()),
		zap.String("user_id", cmd.GetUserID()))

	if err := handler.Handle(ctx, cmd); err != nil {
		bus.logger.Error("Command execution failed",
			zap.String("command_type", cmd.GetType()),
			zap.String("user_id", cmd.GetUserID()),
			zap.Error(err))
		return fmt.Errorf("%s: %w", cmd.GetType(), err)
	}
	return nil
}

// GetRegisteredHandlers returns the registered command names, sorted.
func (bus *CommandBus) GetRegisteredHandlers() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	out := make([]string, 0, len(bus.names))
	for _, name := range bus.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
