package messaging

import (
	"context"
	"time"
)

// Store persists conversations and messages.
//
// Requirements:
//   - At most one active conversation per unordered participant pair.
//   - Unread counters change only through field-level atomic primitives
//     (ApplyNewMessage, ResetUnread, SetUnread), never read-modify-write.
//   - Monotonic seq per conversation, allocated by InsertMessage.
//   - Read receipts unique per (message, account) and never removed.
type Store interface {
	// WithinTx runs fn against a view of the store bound to one transaction.
	// If fn returns an error nothing it wrote is kept. Nested calls reuse the
	// outer transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	// CreateConversation inserts c. Returns ErrConflict when an active
	// conversation already exists for the same pair. Must not run inside WithinTx.
	CreateConversation(ctx context.Context, c Conversation) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	FindActiveConversation(ctx context.Context, pairKey string) (Conversation, error)

	// ListConversations returns every conversation accountID participates in,
	// most recent first (last message time, else creation time).
	ListConversations(ctx context.Context, accountID string) ([]Conversation, error)
	SetConversationActive(ctx context.Context, id string, active bool, now time.Time) error

	// ApplyNewMessage sets the last-message snapshot and increments the unread
	// counter of every participant other than senderID by one.
	ApplyNewMessage(ctx context.Context, id, senderID string, last LastMessage) error
	// ResetUnread sets accountID's unread counter to zero.
	ResetUnread(ctx context.Context, id, accountID string, now time.Time) error
	// SetUnread overwrites counters. Maintenance only.
	SetUnread(ctx context.Context, id string, counts map[string]int, now time.Time) error

	// InsertMessage allocates the next seq for the conversation and stores m.
	InsertMessage(ctx context.Context, m Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	EditMessage(ctx context.Context, id, content string, now time.Time) (Message, error)
	SoftDeleteMessage(ctx context.Context, id, placeholder string, now time.Time) (Message, error)

	// ListMessages returns the window [offset, offset+limit) counted from the
	// newest message, ordered oldest to newest, plus the conversation total.
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]Message, int, error)

	// AddReadReceipts records accountID on each message lacking a receipt and
	// returns how many were added.
	AddReadReceipts(ctx context.Context, accountID string, messageIDs []string, at time.Time) (int, error)

	// CountUnreadFor counts messages not sent by accountID that carry no
	// receipt from accountID.
	CountUnreadFor(ctx context.Context, conversationID, accountID string) (int, error)

	Close() error
}
