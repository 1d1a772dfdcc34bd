package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"start ok", StartFlipperCommand{UserID: "u", WalletAddress: "w"}, false},
		{"start without user", StartFlipperCommand{WalletAddress: "w"}, true},
		{"start without wallet", StartFlipperCommand{UserID: "u"}, true},
		{"stop", StopFlipperCommand{}, false},
		{"close ok", ClosePositionCommand{Token: "t"}, false},
		{"close without token", ClosePositionCommand{}, true},
		{"pause ok", PauseNetworkCommand{Network: domain.NetworkSolana}, false},
		{"pause unknown network", PauseNetworkCommand{Network: "dogechain"}, true},
		{"reset ok", ResetBreakerCommand{Name: "pumpfun"}, false},
		{"reset without name", ResetBreakerCommand{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, "pause_network", PauseNetworkCommand{}.GetType())
	assert.Equal(t, "resume_network", PauseNetworkCommand{Resume: true}.GetType())
}

func TestCommandBus(t *testing.T) {
	bus := NewCommandBus(zaptest.NewLogger(t))
	ctx := context.Background()

	var got []string
	bus.RegisterHandler(ClosePositionCommand{}, CommandHandlerFunc(func(_ context.Context, cmd Command) error {
		c := cmd.(ClosePositionCommand)
		if c.Token == "bad" {
			return errors.New("close failed")
		}
		got = append(got, c.Token)
		return nil
	}))

	require.NoError(t, bus.Send(ctx, ClosePositionCommand{UserID: "u", Token: "abc"}))
	assert.Equal(t, []string{"abc"}, got)

	err := bus.Send(ctx, ClosePositionCommand{Token: "bad"})
	require.Error(t, err)
	assert.Equal(t, "close_position: close failed", err.Error())

	err = bus.Send(ctx, ClosePositionCommand{})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
	assert.Len(t, got, 1, "invalid commands never reach the handler")

	err = bus.Send(ctx, StopFlipperCommand{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")

	assert.Equal(t, []string{"close_position"}, bus.GetRegisteredHandlers())
}
