package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier is the delivery contract this core consumes; transport (push,
// email) lives outside it.
type Notifier interface {
	Send(ctx context.Context, recipientID uuid.UUID, subject, message, actionURL string) error
}

// LogNotifier writes notifications to the log instead of delivering them.
// Used in dev and as the default wiring until a real transport is attached.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, recipientID uuid.UUID, subject, message, actionURL string) error {
	n.logger.Info("notification",
		zap.String("recipient_id", recipientID.String()),
		zap.String("subject", subject),
		zap.String("message", message),
		zap.String("action_url", actionURL),
	)
	return nil
}
