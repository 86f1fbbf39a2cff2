// Package notify delivers user-facing notifications: submission outcomes,
// approval requests, and the daily report. Delivery is best effort; callers
// log failures and move on.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier sends a single message to the user.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// LogNotifier writes notifications to the application log. Used when no
// Telegram credentials are configured and in tests.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) Send(_ context.Context, text string) error {
	n.Log.Info("notification", zap.String("text", text))
	return nil
}
