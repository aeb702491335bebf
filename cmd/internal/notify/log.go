package notify

import (
	"context"
	"log/slog"
	"time"
)

// LogEmitter writes notifications to the structured log. It is the default
// backend for development.
type LogEmitter struct {
	log *slog.Logger
	now func() time.Time
}

// NewLogEmitter constructs a LogEmitter.
func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (e *LogEmitter) Notify(ctx context.Context, accountID, kind string, payload map[string]any) error {
	n, err := newNotification(accountID, kind, payload, e.now())
	if err != nil {
		return err
	}
	e.log.InfoContext(ctx, "notify.emit",
		"notification_id", n.ID,
		"account_id", n.AccountID,
		"kind", n.Kind,
		"payload", n.Payload,
	)
	return nil
}
