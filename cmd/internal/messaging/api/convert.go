package messagingapi

import (
	"convoy/cmd/internal/messaging"
	v1 "convoy/shared/contracts/messaging/v1"
)

func toParticipantPayload(p messaging.Participant) v1.ParticipantPayload {
	return v1.ParticipantPayload{
		AccountID:   p.AccountID,
		Role:        p.Role,
		DisplayName: p.DisplayName,
		AvatarRef:   p.AvatarRef,
	}
}

func toContextPayload(c messaging.ConversationContext) v1.ContextPayload {
	return v1.ContextPayload{
		Kind:         string(c.Kind),
		RelatedID:    c.RelatedID,
		RelatedTitle: c.RelatedTitle,
	}
}

func toLastMessagePayload(lm *messaging.LastMessage) *v1.LastMessagePayload {
	if lm == nil {
		return nil
	}
	return &v1.LastMessagePayload{
		ContentPreview: lm.ContentPreview,
		SenderID:       lm.SenderID,
		Timestamp:      lm.Timestamp,
	}
}

func toConversationPayload(c messaging.Conversation) v1.ConversationPayload {
	parts := make([]v1.ParticipantPayload, 0, len(c.Participants))
	for _, p := range c.Participants {
		parts = append(parts, toParticipantPayload(p))
	}
	unread := make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		unread[k] = v
	}
	return v1.ConversationPayload{
		ID:           c.ID,
		Participants: parts,
		LastMessage:  toLastMessagePayload(c.LastMessage),
		UnreadCount:  unread,
		Context:      toContextPayload(c.Context),
		IsActive:     c.IsActive,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toSummaryPayload(s messaging.ConversationSummary) v1.ConversationSummaryPayload {
	return v1.ConversationSummaryPayload{
		ID:          s.Conversation.ID,
		Other:       toParticipantPayload(s.Other),
		LastMessage: toLastMessagePayload(s.Conversation.LastMessage),
		UnreadCount: s.Unread,
		Context:     toContextPayload(s.Conversation.Context),
		IsActive:    s.Conversation.IsActive,
	}
}

func toMessagePayload(m messaging.Message) v1.MessagePayload {
	readBy := make([]v1.ReadReceiptPayload, 0, len(m.ReadBy))
	for _, r := range m.ReadBy {
		readBy = append(readBy, v1.ReadReceiptPayload{AccountID: r.AccountID, ReadAt: r.ReadAt})
	}
	// Metadata variants are plain structs; encoding cannot fail.
	meta, _ := v1.EncodeMetadata(m.Metadata)
	return v1.MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		Sender: v1.SenderPayload{
			AccountID:   m.Sender.AccountID,
			DisplayName: m.Sender.DisplayName,
			Role:        m.Sender.Role,
		},
		Content:   m.Content,
		Type:      string(m.Type),
		Metadata:  meta,
		ReadBy:    readBy,
		IsEdited:  m.IsEdited,
		EditedAt:  m.EditedAt,
		IsDeleted: m.IsDeleted,
		DeletedAt: m.DeletedAt,
		CreatedAt: m.CreatedAt,
	}
}

func toPagePayload(p messaging.MessagePage) v1.MessagePagePayload {
	msgs := make([]v1.MessagePayload, 0, len(p.Messages))
	for _, m := range p.Messages {
		msgs = append(msgs, toMessagePayload(m))
	}
	return v1.MessagePagePayload{
		ConversationID: p.ConversationID,
		Messages:       msgs,
		Page:           p.Page,
		PageSize:       p.PageSize,
		Total:          p.Total,
		HasMore:        p.HasMore,
	}
}

func parseContext(p *v1.ContextPayload) (messaging.ConversationContext, error) {
	if p == nil {
		return messaging.ConversationContext{Kind: v1.ContextGeneral}, nil
	}
	kind, err := v1.ParseContextKind(p.Kind)
	if err != nil {
		return messaging.ConversationContext{}, err
	}
	return messaging.ConversationContext{
		Kind:         kind,
		RelatedID:    p.RelatedID,
		RelatedTitle: p.RelatedTitle,
	}, nil
}
