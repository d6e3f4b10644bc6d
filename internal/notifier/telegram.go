package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

type TelegramConfig struct {
	Token  string
	APIURL string
	// Interval is the minimum spacing between two sends.
	Interval time.Duration
	Timeout  time.Duration
}

// TelegramNotifier sends messages through the Bot API sendMessage method.
// The bot never polls for updates; it is used for outbound messages only.
type TelegramNotifier struct {
	bot     *bot.Bot
	client  *http.Client
	token   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewTelegramNotifier(cfg TelegramConfig, logger *slog.Logger) (*TelegramNotifier, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	client := &http.Client{Timeout: timeout}
	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(timeout, client),
	}
	if base := strings.TrimRight(cfg.APIURL, "/"); base != "" {
		opts = append(opts, bot.WithServerURL(base))
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", redact(err, cfg.Token))
	}
	return &TelegramNotifier{
		bot:     b,
		client:  client,
		token:   cfg.Token,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("layer", "notifier", "component", "telegram"),
	}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, subscriberID, message string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	noPreview := true
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             subscriberID,
		Text:               message,
		ParseMode:          models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: &noPreview},
	})
	if err != nil {
		return fmt.Errorf("sendMessage to %s: %w", subscriberID, redact(err, n.token))
	}

	n.logger.Debug("Message delivered", slog.String("subscriber_id", subscriberID))
	return nil
}

func (n *TelegramNotifier) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

// redactedError hides the bot token, which request URLs embed.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>"), err: err}
}
