package messaging

import (
	"time"

	v1 "convoy/shared/contracts/messaging/v1"
)

// Sender is the sender snapshot taken at send time. Later profile edits do
// not rewrite it.
type Sender struct {
	AccountID   string
	DisplayName string
	Role        string
}

// ReadReceipt records that an account viewed a message.
type ReadReceipt struct {
	AccountID string
	ReadAt    time.Time
}

// Message is an append-only ledger entry. Edits and deletes are soft.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	Sender         Sender
	Content        string
	Type           v1.MessageType
	Metadata       v1.Metadata
	ReadBy         []ReadReceipt
	IsEdited       bool
	EditedAt       *time.Time
	IsDeleted      bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
}

// ReadByAccount reports whether accountID has a receipt on m.
func (m Message) ReadByAccount(accountID string) bool {
	for _, r := range m.ReadBy {
		if r.AccountID == accountID {
			return true
		}
	}
	return false
}

// MessagePage is one page of a conversation ordered oldest to newest.
// Page 1 holds the newest messages.
type MessagePage struct {
	ConversationID string
	Messages       []Message
	Page           int
	PageSize       int
	Total          int
	HasMore        bool
}

func cloneMessage(m Message) Message {
	out := m
	out.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		out.DeletedAt = &t
	}
	return out
}
