package notification

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"marketengine/internal/model"
)

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// APIEndpoint overrides the Bot API URL format; empty uses the default.
	APIEndpoint string `mapstructure:"api_endpoint"`
}

const telegramRequestTimeout = 10 * time.Second

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

// NewTelegramNotifier authenticates the bot and returns a notifier.
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id: %w", err)
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, &http.Client{Timeout: telegramRequestTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	zap.L().Info("telegram: bot ready", zap.String("username", bot.Self.UserName))
	return &TelegramNotifier{
		bot:        bot,
		chatID:     chatID,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (t *TelegramNotifier) Name() string { return "telegram" }

// Send posts the alert as a MarkdownV2 message, retrying with linear
// backoff. The bot API takes no context, so ctx is checked before each
// attempt and between them; a request already in flight is bounded by
// telegramRequestTimeout instead.
func (t *TelegramNotifier) Send(ctx context.Context, a model.Alert) error {
	msg := tgbotapi.NewMessage(t.chatID, formatTelegram(a))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == t.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("telegram: send: %w", ctx.Err())
		case <-time.After(t.retryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("telegram: send failed after %d attempts: %w", t.maxRetries, lastErr)
}
