package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender is the part of tgbotapi.BotAPI used to post messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts alerts to one chat. Sends are paced to stay under the
// per-chat limit of the Bot API.
type Telegram struct {
	api     Sender
	chatID  int64
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram token not set")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id not set")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	t := NewTelegramWithSender(api, chatID, logger)
	t.logger.Info("Telegram notifier initialized", zap.String("username", api.Self.UserName))
	return t, nil
}

// NewTelegramWithSender uses an existing sender.
func NewTelegramWithSender(api Sender, chatID int64, logger *zap.Logger) *Telegram {
	return &Telegram{
		api:     api,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		logger:  logger.Named("telegram"),
	}
}

func (t *Telegram) Notify(ctx context.Context, a Alert) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, Format(a))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	t.logger.Debug("Alert sent", zap.String("title", a.Title))
	return nil
}

// Format renders an alert as Telegram markdown.
func Format(a Alert) string {
	esc := func(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s) }

	icon := "⚠️"
	if a.Level == LevelCritical {
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", icon, esc(a.Title))
	if a.Component != "" {
		fmt.Fprintf(&b, "Component: `%s`\n", a.Component)
	}
	if a.Message != "" {
		b.WriteString(esc(a.Message))
		b.WriteString("\n")
	}
	if a.Err != nil {
		fmt.Fprintf(&b, "Error: %s\n", esc(a.Err.Error()))
	}
	if !a.Time.IsZero() {
		fmt.Fprintf(&b, "_%s_", a.Time.UTC().Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}
