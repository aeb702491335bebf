package messaging

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev-only fallback when DB is not configured.
//
// A single mutex serializes every call, which makes each unread update atomic.
// WithinTx holds the mutex for the whole callback and restores a snapshot if
// the callback fails.
type InMemoryStore struct {
	mu   *sync.Mutex
	st   *memState
	inTx bool
}

type memState struct {
	convs  map[string]*memConv
	active map[string]string // pair key -> conversation id
	msgs   map[string]*Message
}

type memConv struct {
	c       Conversation
	nextSeq int64
	msgIDs  []string // ordered by seq
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		mu: &sync.Mutex{},
		st: &memState{
			convs:  make(map[string]*memConv),
			active: make(map[string]string),
			msgs:   make(map[string]*Message),
		},
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *InMemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.clone()
	view := &InMemoryStore{mu: s.mu, st: s.st, inTx: true}
	if err := fn(view); err != nil {
		*s.st = *snap
		return err
	}
	return nil
}

func (s *InMemoryStore) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	const op = "store.create_conversation"
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if c.ID == "" {
		return Conversation{}, errors.New("messaging: missing conversation id")
	}
	defer s.lock()()

	key := c.PairKey()
	if c.IsActive {
		if _, ok := s.st.active[key]; ok {
			return Conversation{}, OpError{Op: op, Kind: ErrConflict, Msg: "active conversation exists for pair"}
		}
	}
	if _, ok := s.st.convs[c.ID]; ok {
		return Conversation{}, OpError{Op: op, Kind: ErrConflict, Msg: "conversation id exists"}
	}

	stored := cloneConversation(c)
	s.st.convs[c.ID] = &memConv{c: stored, nextSeq: 1}
	if c.IsActive {
		s.st.active[key] = c.ID
	}
	return cloneConversation(stored), nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	defer s.lock()()

	mc := s.st.convs[id]
	if mc == nil {
		return Conversation{}, notFound("store.get_conversation", "conversation")
	}
	return cloneConversation(mc.c), nil
}

func (s *InMemoryStore) FindActiveConversation(ctx context.Context, key string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	defer s.lock()()

	id, ok := s.st.active[key]
	if !ok {
		return Conversation{}, notFound("store.find_active_conversation", "conversation")
	}
	return cloneConversation(s.st.convs[id].c), nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context, accountID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	out := make([]Conversation, 0, 8)
	for _, mc := range s.st.convs {
		if mc.c.HasParticipant(accountID) {
			out = append(out, cloneConversation(mc.c))
		}
	}
	sortByRecency(out)
	return out, nil
}

func (s *InMemoryStore) SetConversationActive(ctx context.Context, id string, active bool, now time.Time) error {
	const op = "store.set_conversation_active"
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	mc := s.st.convs[id]
	if mc == nil {
		return notFound(op, "conversation")
	}
	key := mc.c.PairKey()
	if active && !mc.c.IsActive {
		if other, ok := s.st.active[key]; ok && other != id {
			return OpError{Op: op, Kind: ErrConflict, Msg: "active conversation exists for pair"}
		}
		s.st.active[key] = id
	}
	if !active && s.st.active[key] == id {
		delete(s.st.active, key)
	}
	mc.c.IsActive = active
	mc.c.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) ApplyNewMessage(ctx context.Context, id, senderID string, last LastMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	mc := s.st.convs[id]
	if mc == nil {
		return notFound("store.apply_new_message", "conversation")
	}
	lm := last
	mc.c.LastMessage = &lm
	for _, p := range mc.c.Participants {
		if p.AccountID != senderID {
			mc.c.UnreadCount[p.AccountID]++
		}
	}
	mc.c.UpdatedAt = last.Timestamp
	return nil
}

func (s *InMemoryStore) ResetUnread(ctx context.Context, id, accountID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	mc := s.st.convs[id]
	if mc == nil {
		return notFound("store.reset_unread", "conversation")
	}
	mc.c.UnreadCount[accountID] = 0
	mc.c.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) SetUnread(ctx context.Context, id string, counts map[string]int, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	mc := s.st.convs[id]
	if mc == nil {
		return notFound("store.set_unread", "conversation")
	}
	for k, v := range counts {
		mc.c.UnreadCount[k] = v
	}
	mc.c.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) InsertMessage(ctx context.Context, m Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if m.ID == "" {
		return Message{}, errors.New("messaging: missing message id")
	}
	defer s.lock()()

	mc := s.st.convs[m.ConversationID]
	if mc == nil {
		return Message{}, notFound("store.insert_message", "conversation")
	}
	if _, dup := s.st.msgs[m.ID]; dup {
		return Message{}, errors.New("messaging: duplicate message id")
	}

	m.Seq = mc.nextSeq
	mc.nextSeq++
	m.ReadBy = nil

	stored := cloneMessage(m)
	s.st.msgs[m.ID] = &stored
	mc.msgIDs = append(mc.msgIDs, m.ID)
	return cloneMessage(stored), nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	defer s.lock()()

	m := s.st.msgs[id]
	if m == nil {
		return Message{}, notFound("store.get_message", "message")
	}
	return cloneMessage(*m), nil
}

func (s *InMemoryStore) EditMessage(ctx context.Context, id, content string, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	defer s.lock()()

	m := s.st.msgs[id]
	if m == nil || m.IsDeleted {
		return Message{}, notFound("store.edit_message", "message")
	}
	at := now
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &at
	return cloneMessage(*m), nil
}

func (s *InMemoryStore) SoftDeleteMessage(ctx context.Context, id, placeholder string, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	defer s.lock()()

	m := s.st.msgs[id]
	if m == nil || m.IsDeleted {
		return Message{}, notFound("store.soft_delete_message", "message")
	}
	at := now
	m.Content = placeholder
	m.Metadata = nil
	m.IsDeleted = true
	m.DeletedAt = &at
	return cloneMessage(*m), nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]Message, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	defer s.lock()()

	mc := s.st.convs[conversationID]
	if mc == nil {
		return nil, 0, notFound("store.list_messages", "conversation")
	}

	total := len(mc.msgIDs)
	// Window counted from the newest message.
	end := total - offset
	if end <= 0 || limit <= 0 {
		return []Message{}, total, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]Message, 0, end-start)
	for _, id := range mc.msgIDs[start:end] {
		out = append(out, cloneMessage(*s.st.msgs[id]))
	}
	return out, total, nil
}

func (s *InMemoryStore) AddReadReceipts(ctx context.Context, accountID string, messageIDs []string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer s.lock()()

	added := 0
	for _, id := range messageIDs {
		m := s.st.msgs[id]
		if m == nil || m.ReadByAccount(accountID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, ReadReceipt{AccountID: accountID, ReadAt: at})
		added++
	}
	return added, nil
}

func (s *InMemoryStore) CountUnreadFor(ctx context.Context, conversationID, accountID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer s.lock()()

	mc := s.st.convs[conversationID]
	if mc == nil {
		return 0, notFound("store.count_unread", "conversation")
	}
	n := 0
	for _, id := range mc.msgIDs {
		m := s.st.msgs[id]
		if m.Sender.AccountID != accountID && !m.ReadByAccount(accountID) {
			n++
		}
	}
	return n, nil
}

func (st *memState) clone() *memState {
	out := &memState{
		convs:  make(map[string]*memConv, len(st.convs)),
		active: make(map[string]string, len(st.active)),
		msgs:   make(map[string]*Message, len(st.msgs)),
	}
	for id, mc := range st.convs {
		out.convs[id] = &memConv{
			c:       cloneConversation(mc.c),
			nextSeq: mc.nextSeq,
			msgIDs:  append([]string(nil), mc.msgIDs...),
		}
	}
	for k, v := range st.active {
		out.active[k] = v
	}
	for id, m := range st.msgs {
		cp := cloneMessage(*m)
		out.msgs[id] = &cp
	}
	return out
}

func sortByRecency(cs []Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		ti, tj := cs[i].RecencyAt(), cs[j].RecencyAt()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return cs[i].ID > cs[j].ID
	})
}
