package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier only records notifications in the log
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier.log")}
}

func (l *LogNotifier) Notify(_ context.Context, msg *Message) error {
	l.logger.Info("owner notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("transaction", msg.TransactionID),
		zap.String("user", msg.UserID),
		zap.String("title", msg.Title))
	return nil
}
