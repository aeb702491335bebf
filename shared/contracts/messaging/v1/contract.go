package v1

import (
	"encoding/json"
	"time"
)

// ---- Requests ----

// StartConversationRequest finds or creates a conversation with a recipient.
// RecipientID may be an account id or a driver/employer profile id.
type StartConversationRequest struct {
	RecipientID string          `json:"recipient_id"`
	Context     *ContextPayload `json:"context,omitempty"`
}

// SendMessageRequest appends a message to a known conversation.
type SendMessageRequest struct {
	Content  string          `json:"content"`
	Type     string          `json:"type,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ContactRequest resolves a recipient, finds or creates the conversation and sends.
type ContactRequest struct {
	RecipientID string          `json:"recipient_id"`
	Context     *ContextPayload `json:"context,omitempty"`
	Content     string          `json:"content"`
	Type        string          `json:"type,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// EditMessageRequest replaces a message's content.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ---- Responses ----

// ContextPayload describes why a conversation exists.
type ContextPayload struct {
	Kind         string `json:"kind"`
	RelatedID    string `json:"related_id,omitempty"`
	RelatedTitle string `json:"related_title,omitempty"`
}

// ParticipantPayload is a participant's denormalized public attributes.
type ParticipantPayload struct {
	AccountID   string `json:"account_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// LastMessagePayload is the conversation's last-message snapshot.
type LastMessagePayload struct {
	ContentPreview string    `json:"content_preview"`
	SenderID       string    `json:"sender_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationPayload is a full conversation view.
type ConversationPayload struct {
	ID           string               `json:"id"`
	Participants []ParticipantPayload `json:"participants"`
	LastMessage  *LastMessagePayload  `json:"last_message"`
	UnreadCount  map[string]int       `json:"unread_count"`
	Context      ContextPayload       `json:"context"`
	IsActive     bool                 `json:"is_active"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// ConversationSummaryPayload is a conversation as seen from one participant.
type ConversationSummaryPayload struct {
	ID          string              `json:"id"`
	Other       ParticipantPayload  `json:"other_participant"`
	LastMessage *LastMessagePayload `json:"last_message"`
	UnreadCount int                 `json:"unread_count"`
	Context     ContextPayload      `json:"context"`
	IsActive    bool                `json:"is_active"`
}

// ConversationListPayload lists the caller's conversations by recency.
type ConversationListPayload struct {
	Conversations []ConversationSummaryPayload `json:"conversations"`
}

// UnreadTotalPayload is the caller's unread badge.
type UnreadTotalPayload struct {
	Unread int `json:"unread"`
}

// SenderPayload is the sender snapshot taken at send time.
type SenderPayload struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// ReadReceiptPayload records that an account viewed a message.
type ReadReceiptPayload struct {
	AccountID string    `json:"account_id"`
	ReadAt    time.Time `json:"read_at"`
}

// MessagePayload is a message view.
type MessagePayload struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	Seq            int64                `json:"seq"`
	Sender         SenderPayload        `json:"sender"`
	Content        string               `json:"content"`
	Type           string               `json:"type"`
	Metadata       json.RawMessage      `json:"metadata,omitempty"`
	ReadBy         []ReadReceiptPayload `json:"read_by"`
	IsEdited       bool                 `json:"is_edited"`
	EditedAt       *time.Time           `json:"edited_at,omitempty"`
	IsDeleted      bool                 `json:"is_deleted"`
	DeletedAt      *time.Time           `json:"deleted_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// MessagePagePayload is one page of a conversation, oldest to newest.
type MessagePagePayload struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []MessagePayload `json:"messages"`
	Page           int              `json:"page"`
	PageSize       int              `json:"page_size"`
	Total          int              `json:"total"`
	HasMore        bool             `json:"has_more"`
}

// StartConversationPayload is returned when a conversation is found or created.
type StartConversationPayload struct {
	Conversation ConversationPayload `json:"conversation"`
	Created      bool                `json:"created"`
}

// SendResultPayload is returned by the contact path.
type SendResultPayload struct {
	Conversation ConversationPayload `json:"conversation"`
	Message      MessagePayload      `json:"message"`
	Created      bool                `json:"created"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
