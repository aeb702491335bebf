package messaging

import (
	"context"
	"time"
)

// ParticipantResolver maps identifiers to participant attributes.
//
// ResolveAccount accepts account ids only. ResolveRecipient additionally
// accepts a role-specific profile id and redirects to the owning account.
// Both fail with an error matching ErrNotFound when nothing matches.
type ParticipantResolver interface {
	ResolveAccount(ctx context.Context, accountID string) (Participant, error)
	ResolveRecipient(ctx context.Context, identifier string) (Participant, error)
}

// Emitter turns a messaging event into a user-facing notification.
// Calls are fire-and-forget from the ledger's point of view.
type Emitter interface {
	Notify(ctx context.Context, accountID, kind string, payload map[string]any) error
}

// Limiter throttles sends per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

// NopEmitter drops every notification.
type NopEmitter struct{}

func (NopEmitter) Notify(context.Context, string, string, map[string]any) error { return nil }
