package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
)

// Run is the "serve" entrypoint used by cmd/convoy.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}

// RepairUnread recomputes unread counters from read receipts, for one
// conversation or for every conversation of one account.
func RepairUnread(ctx context.Context, conversationID, accountID string) error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	if cfg.DatabaseURL == "" {
		return errors.New("repair-unread: CONVOY_DATABASE_URL is required")
	}
	if (conversationID == "") == (accountID == "") {
		return errors.New("repair-unread: exactly one of -conversation or -account is required")
	}

	// Notifications are never emitted by a repair.
	cfg.NotifyBackend = "log"
	a := &App{cfg: cfg, log: log}
	defer a.close()
	if err := a.wire(ctx, prometheus.NewRegistry()); err != nil {
		return err
	}

	if conversationID != "" {
		counts, err := a.svc.RepairUnread(ctx, conversationID)
		if err != nil {
			return err
		}
		log.Info("unread.repaired", "conversation_id", conversationID, "counts", counts)
		return nil
	}

	n, err := a.svc.RepairAccount(ctx, accountID)
	if err != nil {
		return err
	}
	log.Info("unread.repair.done", "account_id", accountID, "conversations", n)
	return nil
}
