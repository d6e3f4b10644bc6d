package notifier

import (
	"context"
	"log/slog"
)

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("layer", "notifier", "component", "log")}
}

func (n *LogNotifier) Notify(_ context.Context, subscriberID, message string) error {
	n.logger.Info("Price drop notification",
		slog.String("subscriber_id", subscriberID),
		slog.String("message", message))
	return nil
}

func (n *LogNotifier) Close() error { return nil }
