package messaging

import (
	"context"
	"time"

	v1 "convoy/shared/contracts/messaging/v1"
)

// readState keeps the conversation-level unread counters and the
// message-level receipts consistent.
//
// Sending increments every other participant by exactly one and decrements
// nobody. Viewing back-fills receipts for the messages shown only, then zeroes
// the viewer's counter for the whole conversation.
type readState struct {
	metrics *Metrics
}

func (r readState) onSend(ctx context.Context, st Store, m Message) error {
	return st.ApplyNewMessage(ctx, m.ConversationID, m.Sender.AccountID, LastMessage{
		ContentPreview: v1.Preview(m.Content),
		SenderID:       m.Sender.AccountID,
		Timestamp:      m.CreatedAt,
	})
}

// onView records viewerID on the shown messages authored by someone else and
// updates shown in place.
func (r readState) onView(ctx context.Context, st Store, conversationID, viewerID string, shown []Message, now time.Time) error {
	pending := make([]string, 0, len(shown))
	for _, m := range shown {
		if m.Sender.AccountID == viewerID || m.ReadByAccount(viewerID) {
			continue
		}
		pending = append(pending, m.ID)
	}

	if len(pending) > 0 {
		added, err := st.AddReadReceipts(ctx, viewerID, pending, now)
		if err != nil {
			return err
		}
		r.metrics.receiptsRecorded(added)

		for i := range shown {
			m := &shown[i]
			if m.Sender.AccountID == viewerID || m.ReadByAccount(viewerID) {
				continue
			}
			m.ReadBy = append(m.ReadBy, ReadReceipt{AccountID: viewerID, ReadAt: now})
		}
	}

	return st.ResetUnread(ctx, conversationID, viewerID, now)
}
