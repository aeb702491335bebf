package messaging

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	v1 "convoy/shared/contracts/messaging/v1"
)

// Service is the entry point used by transports. It resolves callers and
// recipients through the ParticipantResolver, then delegates to the
// Directory and the Ledger.
type Service struct {
	resolver ParticipantResolver
	store    Store
	dir      *Directory
	ledger   *Ledger
	log      *slog.Logger
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	log           *slog.Logger
	emitter       Emitter
	limiter       Limiter
	metrics       *Metrics
	now           func() time.Time
	notifyTimeout time.Duration
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *serviceOptions) { o.log = log }
}

// WithEmitter sets the notification emitter (default: NopEmitter).
func WithEmitter(e Emitter) Option {
	return func(o *serviceOptions) { o.emitter = e }
}

// WithLimiter enables send throttling.
func WithLimiter(l Limiter) Option {
	return func(o *serviceOptions) { o.limiter = l }
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithNotifyTimeout bounds a single notification attempt.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *serviceOptions) { o.notifyTimeout = d }
}

// NewService wires a Service over store.
func NewService(store Store, resolver ParticipantResolver, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("messaging: nil store")
	}
	if resolver == nil {
		return nil, errors.New("messaging: nil resolver")
	}

	o := serviceOptions{
		emitter:       NopEmitter{},
		now:           func() time.Time { return time.Now().UTC() },
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.log == nil {
		o.log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if o.notifyTimeout <= 0 {
		o.notifyTimeout = defaultNotifyTimeout
	}

	dir := newDirectory(store, o.log, o.metrics, o.now)
	ledger := &Ledger{
		store:         store,
		dir:           dir,
		sync:          readState{metrics: o.metrics},
		emitter:       o.emitter,
		limiter:       o.limiter,
		metrics:       o.metrics,
		log:           o.log,
		now:           o.now,
		notifyTimeout: o.notifyTimeout,
	}

	return &Service{
		resolver: resolver,
		store:    store,
		dir:      dir,
		ledger:   ledger,
		log:      o.log,
	}, nil
}

// Directory exposes the conversation directory.
func (s *Service) Directory() *Directory { return s.dir }

// Ledger exposes the message ledger.
func (s *Service) Ledger() *Ledger { return s.ledger }

// StartConversation finds or creates the conversation between callerID and
// recipient. recipient may be an account id or a role-specific profile id.
func (s *Service) StartConversation(ctx context.Context, callerID, recipient string, cctx ConversationContext) (ConversationSummary, bool, error) {
	const op = "messaging.start_conversation"

	caller, other, err := s.resolvePair(ctx, op, callerID, recipient)
	if err != nil {
		return ConversationSummary{}, false, err
	}
	c, created, err := s.dir.FindOrCreate(ctx, caller, other, cctx)
	if err != nil {
		return ConversationSummary{}, false, err
	}
	return summarize(c, caller.AccountID), created, nil
}

// SendInput is a message for a known conversation.
type SendInput struct {
	ConversationID string
	Content        string
	Type           v1.MessageType
	Metadata       v1.Metadata
}

// Send appends a message from callerID to an existing conversation.
func (s *Service) Send(ctx context.Context, callerID string, in SendInput) (Message, error) {
	caller, err := s.resolveCaller(ctx, "messaging.send", callerID)
	if err != nil {
		return Message{}, err
	}
	return s.ledger.Append(ctx, AppendInput{
		ConversationID: in.ConversationID,
		Sender:         caller,
		Content:        in.Content,
		Type:           in.Type,
		Metadata:       in.Metadata,
	})
}

// ContactInput is a first message to a recipient who may not share a
// conversation with the caller yet.
type ContactInput struct {
	Recipient string
	Context   ConversationContext
	Content   string
	Type      v1.MessageType
	Metadata  v1.Metadata
}

// ContactResult is the outcome of Contact.
type ContactResult struct {
	Conversation ConversationSummary
	Message      Message
	Created      bool
}

// Contact resolves the recipient, finds or creates the conversation, then
// appends the message. Content is validated before anything is created.
func (s *Service) Contact(ctx context.Context, callerID string, in ContactInput) (ContactResult, error) {
	const op = "messaging.contact"

	if strings.TrimSpace(in.Recipient) == "" {
		return ContactResult{}, invalidInput(op, "missing recipient")
	}
	if _, _, err := checkContent(op, in.Content, in.Type, in.Metadata); err != nil {
		return ContactResult{}, err
	}

	caller, other, err := s.resolvePair(ctx, op, callerID, in.Recipient)
	if err != nil {
		return ContactResult{}, err
	}
	c, created, err := s.dir.FindOrCreate(ctx, caller, other, in.Context)
	if err != nil {
		return ContactResult{}, err
	}

	msg, err := s.ledger.Append(ctx, AppendInput{
		ConversationID: c.ID,
		Sender:         caller,
		Content:        in.Content,
		Type:           in.Type,
		Metadata:       in.Metadata,
	})
	if err != nil {
		return ContactResult{}, err
	}

	// Re-read so the summary reflects the message just applied.
	fresh, err := s.store.GetConversation(ctx, c.ID)
	if err != nil {
		return ContactResult{}, err
	}
	return ContactResult{
		Conversation: summarize(fresh, caller.AccountID),
		Message:      msg,
		Created:      created,
	}, nil
}

// ListConversations returns callerID's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, callerID string) ([]ConversationSummary, error) {
	return s.dir.ListForAccount(ctx, strings.TrimSpace(callerID))
}

// UnreadTotal returns callerID's unread messages across active conversations.
func (s *Service) UnreadTotal(ctx context.Context, callerID string) (int, error) {
	return s.dir.UnreadTotal(ctx, strings.TrimSpace(callerID))
}

// GetConversation returns one conversation as seen by callerID.
func (s *Service) GetConversation(ctx context.Context, conversationID, callerID string) (ConversationSummary, error) {
	callerID = strings.TrimSpace(callerID)
	c, err := s.dir.Get(ctx, conversationID, callerID)
	if err != nil {
		return ConversationSummary{}, err
	}
	return summarize(c, callerID), nil
}

// ListMessages returns a page of messages and marks it read for callerID.
func (s *Service) ListMessages(ctx context.Context, conversationID, callerID string, page, pageSize int) (MessagePage, error) {
	return s.ledger.List(ctx, conversationID, strings.TrimSpace(callerID), page, pageSize)
}

// MarkRead zeroes callerID's unread counter without fetching messages.
func (s *Service) MarkRead(ctx context.Context, conversationID, callerID string) error {
	return s.dir.MarkAsRead(ctx, conversationID, strings.TrimSpace(callerID))
}

// Deactivate closes the conversation for both participants.
func (s *Service) Deactivate(ctx context.Context, conversationID, callerID string) (ConversationSummary, error) {
	callerID = strings.TrimSpace(callerID)
	c, err := s.dir.Deactivate(ctx, conversationID, callerID)
	if err != nil {
		return ConversationSummary{}, err
	}
	return summarize(c, callerID), nil
}

// EditMessage edits callerID's own message.
func (s *Service) EditMessage(ctx context.Context, messageID, callerID, content string) (Message, error) {
	return s.ledger.Edit(ctx, messageID, strings.TrimSpace(callerID), content)
}

// DeleteMessage soft-deletes callerID's own message.
func (s *Service) DeleteMessage(ctx context.Context, messageID, callerID string) (Message, error) {
	return s.ledger.SoftDelete(ctx, messageID, strings.TrimSpace(callerID))
}

// RepairUnread recomputes the counters of one conversation.
func (s *Service) RepairUnread(ctx context.Context, conversationID string) (map[string]int, error) {
	return s.dir.RecountUnread(ctx, conversationID)
}

// RepairAccount recomputes the counters of every conversation accountID
// participates in and returns how many were repaired.
func (s *Service) RepairAccount(ctx context.Context, accountID string) (int, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, invalidInput("messaging.repair_account", "missing account id")
	}
	cs, err := s.store.ListConversations(ctx, accountID)
	if err != nil {
		return 0, err
	}
	for i, c := range cs {
		counts, err := s.dir.RecountUnread(ctx, c.ID)
		if err != nil {
			return i, err
		}
		s.log.Info("unread.repaired", "conversation_id", c.ID, "counts", counts)
	}
	return len(cs), nil
}

func (s *Service) resolveCaller(ctx context.Context, op, callerID string) (Participant, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return Participant{}, invalidInput(op, "missing caller")
	}
	return s.resolver.ResolveAccount(ctx, callerID)
}

func (s *Service) resolvePair(ctx context.Context, op, callerID, recipient string) (Participant, Participant, error) {
	caller, err := s.resolveCaller(ctx, op, callerID)
	if err != nil {
		return Participant{}, Participant{}, err
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return Participant{}, Participant{}, invalidInput(op, "missing recipient")
	}
	other, err := s.resolver.ResolveRecipient(ctx, recipient)
	if err != nil {
		return Participant{}, Participant{}, err
	}
	if other.AccountID == caller.AccountID {
		return Participant{}, Participant{}, invalidInput(op, "cannot message yourself")
	}
	return caller, other, nil
}
