// Package notify delivers user-facing notifications for messaging events.
//
// Every Emitter is best-effort from the caller's point of view: the messaging
// core logs and absorbs returned errors.
package notify

import (
	"errors"
	"strings"
	"time"

	"convoy/cmd/identity/ids"
)

// Notification is the record handed to a delivery backend.
type Notification struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func newNotification(accountID, kind string, payload map[string]any, now time.Time) (Notification, error) {
	accountID = strings.TrimSpace(accountID)
	kind = strings.TrimSpace(kind)
	if accountID == "" {
		return Notification{}, errors.New("notify: missing account id")
	}
	if kind == "" {
		return Notification{}, errors.New("notify: missing kind")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Notification{}, err
	}
	return Notification{
		ID:        id,
		AccountID: accountID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}
