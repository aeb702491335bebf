package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"convoy/cmd/identity/ids"
	v1 "convoy/shared/contracts/messaging/v1"
)

// createAttempts bounds the find/create loop when the conflicting winner is
// deactivated before it can be re-fetched.
const createAttempts = 3

// Directory owns conversation lookup and creation, and the per-participant
// unread counters.
type Directory struct {
	store   Store
	sync    readState
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time
}

func newDirectory(store Store, log *slog.Logger, metrics *Metrics, now func() time.Time) *Directory {
	return &Directory{
		store:   store,
		sync:    readState{metrics: metrics},
		metrics: metrics,
		log:     log,
		now:     now,
	}
}

// in returns a Directory bound to st (typically a transaction view).
func (d *Directory) in(st Store) *Directory {
	cp := *d
	cp.store = st
	return &cp
}

// FindOrCreate returns the active conversation between a and b, creating it
// when none exists. The second result reports whether this call created it.
//
// Context only applies on creation; an existing conversation keeps the
// context of its first contact. Concurrent first contacts for the same pair
// all observe the same conversation id.
func (d *Directory) FindOrCreate(ctx context.Context, a, b Participant, cctx ConversationContext) (Conversation, bool, error) {
	const op = "directory.find_or_create"

	a, b = normalizeParticipant(a), normalizeParticipant(b)
	if a.AccountID == "" || b.AccountID == "" {
		return Conversation{}, false, invalidInput(op, "missing participant")
	}
	if a.AccountID == b.AccountID {
		return Conversation{}, false, invalidInput(op, "participants must differ")
	}
	if cctx.Kind == "" {
		cctx.Kind = v1.ContextGeneral
	}
	if !cctx.Kind.Valid() {
		return Conversation{}, false, invalidInput(op, "unknown context kind")
	}

	key := pairKey(a.AccountID, b.AccountID)

	for attempt := 0; attempt < createAttempts; attempt++ {
		existing, err := d.store.FindActiveConversation(ctx, key)
		if err == nil {
			return existing, false, nil
		}
		if !IsNotFound(err) {
			return Conversation{}, false, err
		}

		now := d.now()
		id, err := ids.NewULID(now)
		if err != nil {
			return Conversation{}, false, err
		}
		c := Conversation{
			ID:           id,
			Participants: [2]Participant{a, b},
			UnreadCount:  map[string]int{a.AccountID: 0, b.AccountID: 0},
			Context:      cctx,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		created, err := d.store.CreateConversation(ctx, c)
		if err == nil {
			d.metrics.conversationCreated()
			d.log.Info("conversation.created",
				"conversation_id", created.ID,
				"context_kind", string(cctx.Kind),
			)
			return created, true, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Conversation{}, false, err
		}

		// Lost the race: discard ours and re-fetch the winner.
		d.metrics.createConflict()
		d.log.Debug("conversation.create.conflict", "pair_attempt", attempt+1)
	}

	return Conversation{}, false, OpError{Op: op, Kind: ErrConflict, Msg: "pair kept changing"}
}

// MarkAsRead zeroes accountID's unread counter. Idempotent. Receipts on
// individual messages are left alone.
func (d *Directory) MarkAsRead(ctx context.Context, conversationID, accountID string) error {
	if _, err := d.Get(ctx, conversationID, accountID); err != nil {
		return err
	}
	return d.store.ResetUnread(ctx, conversationID, accountID, d.now())
}

// RecordNewMessage applies a persisted message to the conversation: it sets
// the last-message snapshot and increments every other participant's unread
// counter by one. Call exactly once per message, after it is stored.
func (d *Directory) RecordNewMessage(ctx context.Context, m Message) error {
	return d.sync.onSend(ctx, d.store, m)
}

// Get returns the conversation if requesterID participates in it.
func (d *Directory) Get(ctx context.Context, conversationID, requesterID string) (Conversation, error) {
	const op = "directory.get"

	if conversationID == "" {
		return Conversation{}, invalidInput(op, "missing conversation id")
	}
	c, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if !c.HasParticipant(requesterID) {
		return Conversation{}, forbidden(op, "not a participant")
	}
	return c, nil
}

// ListForAccount returns accountID's conversations, most recent first.
func (d *Directory) ListForAccount(ctx context.Context, accountID string) ([]ConversationSummary, error) {
	if accountID == "" {
		return nil, invalidInput("directory.list", "missing account id")
	}
	cs, err := d.store.ListConversations(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(cs))
	for _, c := range cs {
		out = append(out, summarize(c, accountID))
	}
	return out, nil
}

// UnreadTotal sums accountID's unread counters over active conversations.
func (d *Directory) UnreadTotal(ctx context.Context, accountID string) (int, error) {
	if accountID == "" {
		return 0, invalidInput("directory.unread_total", "missing account id")
	}
	cs, err := d.store.ListConversations(ctx, accountID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range cs {
		if c.IsActive {
			total += c.Unread(accountID)
		}
	}
	return total, nil
}

// Deactivate marks the conversation inactive. History is kept, and the pair
// may start a new conversation afterwards. Idempotent.
func (d *Directory) Deactivate(ctx context.Context, conversationID, requesterID string) (Conversation, error) {
	c, err := d.Get(ctx, conversationID, requesterID)
	if err != nil {
		return Conversation{}, err
	}
	if !c.IsActive {
		return c, nil
	}
	now := d.now()
	if err := d.store.SetConversationActive(ctx, conversationID, false, now); err != nil {
		return Conversation{}, err
	}
	c.IsActive = false
	c.UpdatedAt = now
	d.log.Info("conversation.deactivated", "conversation_id", conversationID)
	return c, nil
}

// RecountUnread repairs counters that drifted above the number of messages
// the participant holds no receipt for. It never raises a counter: viewing
// page 1 zeroes the whole conversation while receipting only that page, so a
// lower stored value is legitimate. Maintenance only; the incremental
// counters are authoritative on the hot path.
func (d *Directory) RecountUnread(ctx context.Context, conversationID string) (map[string]int, error) {
	var counts map[string]int
	err := d.store.WithinTx(ctx, func(tx Store) error {
		c, err := tx.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		counts = make(map[string]int, 2)
		for _, p := range c.Participants {
			n, err := tx.CountUnreadFor(ctx, conversationID, p.AccountID)
			if err != nil {
				return err
			}
			counts[p.AccountID] = min(n, c.Unread(p.AccountID))
		}
		return tx.SetUnread(ctx, conversationID, counts, d.now())
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func summarize(c Conversation, viewerID string) ConversationSummary {
	other, _ := c.Other(viewerID)
	return ConversationSummary{
		Conversation: c,
		Other:        other,
		Unread:       c.Unread(viewerID),
	}
}
