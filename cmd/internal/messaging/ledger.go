package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"convoy/cmd/identity/ids"
	v1 "convoy/shared/contracts/messaging/v1"
)

// AppendInput is a message to be appended to a conversation.
type AppendInput struct {
	ConversationID string
	Sender         Participant
	Content        string
	Type           v1.MessageType
	Metadata       v1.Metadata
}

// Ledger owns message persistence, pagination, edits and soft deletes.
type Ledger struct {
	store         Store
	dir           *Directory
	sync          readState
	emitter       Emitter
	limiter       Limiter
	metrics       *Metrics
	log           *slog.Logger
	now           func() time.Time
	notifyTimeout time.Duration
}

// Append stores a message and applies it to the conversation in one
// transaction. A notification for the other participant is attempted after
// commit; its failure is logged and never returned.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (Message, error) {
	const op = "ledger.append"

	if in.ConversationID == "" {
		return Message{}, invalidInput(op, "missing conversation id")
	}
	sender := normalizeParticipant(in.Sender)

	// Authorization precedes validation: non-participants always get ErrForbidden.
	if _, err := l.loadForAppend(ctx, l.store, in.ConversationID, sender.AccountID); err != nil {
		return Message{}, err
	}

	content, typ, err := checkContent(op, in.Content, in.Type, in.Metadata)
	if err != nil {
		return Message{}, err
	}
	if err := l.throttle(ctx, op, sender.AccountID); err != nil {
		return Message{}, err
	}

	now := l.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		Sender: Sender{
			AccountID:   sender.AccountID,
			DisplayName: sender.DisplayName,
			Role:        sender.Role,
		},
		Content:   content,
		Type:      typ,
		Metadata:  in.Metadata,
		CreatedAt: now,
	}

	var (
		stored Message
		conv   Conversation
	)
	err = l.store.WithinTx(ctx, func(tx Store) error {
		c, err := l.loadForAppend(ctx, tx, in.ConversationID, sender.AccountID)
		if err != nil {
			return err
		}
		conv = c

		stored, err = tx.InsertMessage(ctx, msg)
		if err != nil {
			return err
		}
		return l.dir.in(tx).RecordNewMessage(ctx, stored)
	})
	if err != nil {
		return Message{}, err
	}

	l.metrics.messageAppended(stored.Type)
	l.log.Info("message.appended",
		"conversation_id", stored.ConversationID,
		"message_id", stored.ID,
		"seq", stored.Seq,
		"type", string(stored.Type),
	)

	l.notifyNewMessage(ctx, conv, stored)
	return stored, nil
}

// List returns one page of the conversation, oldest to newest within the
// page; page 1 holds the newest messages. Viewing records requesterID's
// receipts on the shown messages authored by the other participant and
// zeroes requesterID's unread counter.
func (l *Ledger) List(ctx context.Context, conversationID, requesterID string, page, pageSize int) (MessagePage, error) {
	const op = "ledger.list"

	if conversationID == "" {
		return MessagePage{}, invalidInput(op, "missing conversation id")
	}
	page, pageSize = normalizePaging(page, pageSize)
	offset := pageOffset(page, pageSize)

	var (
		msgs  []Message
		total int
	)
	err := l.store.WithinTx(ctx, func(tx Store) error {
		c, err := tx.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if !c.HasParticipant(requesterID) {
			return forbidden(op, "not a participant")
		}

		msgs, total, err = tx.ListMessages(ctx, conversationID, offset, pageSize)
		if err != nil {
			return err
		}
		return l.sync.onView(ctx, tx, conversationID, requesterID, msgs, l.now())
	})
	if err != nil {
		return MessagePage{}, err
	}

	return MessagePage{
		ConversationID: conversationID,
		Messages:       msgs,
		Page:           page,
		PageSize:       pageSize,
		Total:          total,
		HasMore:        offset+len(msgs) < total,
	}, nil
}

// Edit replaces the content of requesterID's own message.
func (l *Ledger) Edit(ctx context.Context, messageID, requesterID, content string) (Message, error) {
	const op = "ledger.edit"

	m, err := l.ownMessage(ctx, op, messageID, requesterID)
	if err != nil {
		return Message{}, err
	}
	content, err = v1.NormalizeContent(content)
	if err != nil {
		return Message{}, invalidInput(op, err.Error())
	}

	edited, err := l.store.EditMessage(ctx, m.ID, content, l.now())
	if err != nil {
		return Message{}, err
	}
	l.log.Info("message.edited", "conversation_id", edited.ConversationID, "message_id", edited.ID)
	return edited, nil
}

// SoftDelete replaces the content of requesterID's own message with the
// deleted placeholder. The row stays in the ledger and the conversation's
// last-message snapshot is not rewritten.
func (l *Ledger) SoftDelete(ctx context.Context, messageID, requesterID string) (Message, error) {
	const op = "ledger.soft_delete"

	m, err := l.ownMessage(ctx, op, messageID, requesterID)
	if err != nil {
		return Message{}, err
	}

	deleted, err := l.store.SoftDeleteMessage(ctx, m.ID, v1.DeletedPlaceholder, l.now())
	if err != nil {
		return Message{}, err
	}
	l.log.Info("message.deleted", "conversation_id", deleted.ConversationID, "message_id", deleted.ID)
	return deleted, nil
}

// ownMessage loads messageID for a sender-only mutation. Ownership is checked
// before the deleted flag so that non-senders always get ErrForbidden.
func (l *Ledger) ownMessage(ctx context.Context, op, messageID, requesterID string) (Message, error) {
	if messageID == "" {
		return Message{}, invalidInput(op, "missing message id")
	}
	m, err := l.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if requesterID == "" || m.Sender.AccountID != requesterID {
		return Message{}, forbidden(op, "not the sender")
	}
	if m.IsDeleted {
		return Message{}, notFound(op, "message")
	}
	return m, nil
}

func (l *Ledger) loadForAppend(ctx context.Context, st Store, conversationID, senderID string) (Conversation, error) {
	const op = "ledger.append"

	c, err := st.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if !c.HasParticipant(senderID) {
		return Conversation{}, forbidden(op, "not a participant")
	}
	if !c.IsActive {
		return Conversation{}, forbidden(op, "conversation is inactive")
	}
	return c, nil
}

// throttle fails open: a limiter outage must not stop messaging.
func (l *Ledger) throttle(ctx context.Context, op, senderID string) error {
	if l.limiter == nil {
		return nil
	}
	ok, err := l.limiter.Allow(ctx, senderID, l.now())
	if err != nil {
		l.log.Warn("message.throttle.fail", "account_id", senderID, "err", err)
		return nil
	}
	if !ok {
		return OpError{Op: op, Kind: ErrRateLimited, Msg: "too many messages"}
	}
	return nil
}

func (l *Ledger) notifyNewMessage(ctx context.Context, c Conversation, m Message) {
	if l.emitter == nil {
		return
	}
	recipient, ok := c.Other(m.Sender.AccountID)
	if !ok {
		return
	}

	// Detached from the caller so a finished request does not cancel the
	// dispatch; bounded by notifyTimeout instead.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.notifyTimeout)
	defer cancel()

	err := l.emitter.Notify(nctx, recipient.AccountID, NotificationNewMessage, map[string]any{
		"conversation_id": m.ConversationID,
		"message_id":      m.ID,
		"sender_id":       m.Sender.AccountID,
		"sender_name":     m.Sender.DisplayName,
		"preview":         v1.Preview(m.Content),
	})
	l.metrics.notification(err == nil)
	if err != nil {
		l.log.Warn("message.notify.fail",
			"conversation_id", m.ConversationID,
			"message_id", m.ID,
			"recipient_id", recipient.AccountID,
			"err", errors.Join(ErrDependency, err),
		)
	}
}

// checkContent normalizes content and checks the type/metadata pairing.
func checkContent(op, content string, typ v1.MessageType, md v1.Metadata) (string, v1.MessageType, error) {
	content, err := v1.NormalizeContent(content)
	if err != nil {
		return "", "", invalidInput(op, err.Error())
	}
	if typ == "" {
		typ = v1.TypeText
	}
	if !typ.Valid() {
		return "", "", invalidInput(op, "unknown message type")
	}
	if err := v1.CheckMetadata(typ, md); err != nil {
		return "", "", invalidInput(op, err.Error())
	}
	return content, typ, nil
}
