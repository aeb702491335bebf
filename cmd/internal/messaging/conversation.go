// Package messaging implements Convoy's two-party conversation core: the
// conversation directory, the message ledger, and the read-state rules that
// keep unread counters and read receipts consistent.
package messaging

import (
	"strings"
	"time"

	v1 "convoy/shared/contracts/messaging/v1"
)

// Participant is one side of a conversation with display attributes
// snapshotted at creation time.
type Participant struct {
	AccountID   string
	Role        string
	DisplayName string
	AvatarRef   string
}

// ConversationContext records why a conversation exists. Immutable after creation.
type ConversationContext struct {
	Kind         v1.ContextKind
	RelatedID    string
	RelatedTitle string
}

// LastMessage is the denormalized snapshot of the newest message.
type LastMessage struct {
	ContentPreview string
	SenderID       string
	Timestamp      time.Time
}

// Conversation is a durable pairing of exactly two accounts.
//
// Participants order is the order given at creation and never changes.
// UnreadCount holds one entry per participant.
type Conversation struct {
	ID           string
	Participants [2]Participant
	LastMessage  *LastMessage
	UnreadCount  map[string]int
	Context      ConversationContext
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether accountID is one of the two participants.
func (c Conversation) HasParticipant(accountID string) bool {
	if accountID == "" {
		return false
	}
	return c.Participants[0].AccountID == accountID || c.Participants[1].AccountID == accountID
}

// Other returns the participant that is not accountID.
func (c Conversation) Other(accountID string) (Participant, bool) {
	switch accountID {
	case c.Participants[0].AccountID:
		return c.Participants[1], true
	case c.Participants[1].AccountID:
		return c.Participants[0], true
	default:
		return Participant{}, false
	}
}

// Unread returns accountID's unread counter (0 when absent).
func (c Conversation) Unread(accountID string) int {
	return c.UnreadCount[accountID]
}

// RecencyAt orders conversations in listings: last message time, else creation time.
func (c Conversation) RecencyAt() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

// PairKey returns the key identifying the unordered pair of participants.
func (c Conversation) PairKey() string {
	return pairKey(c.Participants[0].AccountID, c.Participants[1].AccountID)
}

// pairKey is order-independent: pairKey(a, b) == pairKey(b, a).
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x1f" + b
}

// ConversationSummary is a conversation as seen by one participant.
type ConversationSummary struct {
	Conversation Conversation
	Other        Participant
	Unread       int
}

func cloneConversation(c Conversation) Conversation {
	out := c
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	out.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		out.UnreadCount[k] = v
	}
	return out
}

func normalizeParticipant(p Participant) Participant {
	p.AccountID = strings.TrimSpace(p.AccountID)
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.Role = strings.TrimSpace(p.Role)
	p.AvatarRef = strings.TrimSpace(p.AvatarRef)
	return p
}
