package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// CompositeNotifier fans a Message out to every child; one failure does not stop the rest
type CompositeNotifier struct {
	logger    *zap.Logger
	notifiers []Notifier
}

func NewCompositeNotifier(logger *zap.Logger, notifiers ...Notifier) *CompositeNotifier {
	return &CompositeNotifier{logger: logger.Named("notifier.composite"), notifiers: notifiers}
}

func (c *CompositeNotifier) Notify(ctx context.Context, msg *Message) error {
	var errs []error
	for _, n := range c.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			c.logger.Warn("notifier failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
