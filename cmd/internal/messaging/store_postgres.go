package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "convoy/shared/contracts/messaging/v1"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - A unique partial index on pair_key WHERE is_active enforces one active
//     conversation per pair; the losing insert gets ErrConflict.
//   - unread_count is a jsonb map updated by single UPDATE statements, so
//     concurrent senders and readers never lose an increment.
//   - seq is allocated from conversations.next_seq under the row lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	q      pgQuerier
	schema string
	inTx   bool
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "convoy").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("messaging: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("messaging: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "convoy",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	st.q = st.pool
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.withTx(ctx, func(tx *PostgresStore) error { return fn(tx) })
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *PostgresStore) error) error {
	if s == nil || s.pool == nil {
		return errors.New("messaging: nil store")
	}
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	view := &PostgresStore{pool: s.pool, q: tx, schema: s.schema, inTx: true}
	if err := fn(view); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgParticipant struct {
	AccountID   string `json:"account_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

const conversationColumns = `id, participants, unread_count,
       last_message_preview, last_message_sender, last_message_at,
       context_kind, context_related_id, context_related_title,
       is_active, created_at, updated_at`

func (s *PostgresStore) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	const op = "store.create_conversation"
	if c.ID == "" {
		return Conversation{}, errors.New("messaging: missing conversation id")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	parts := make([]pgParticipant, 0, 2)
	ids := make([]string, 0, 2)
	for _, p := range c.Participants {
		parts = append(parts, pgParticipant{
			AccountID:   p.AccountID,
			Role:        p.Role,
			DisplayName: p.DisplayName,
			AvatarRef:   p.AvatarRef,
		})
		ids = append(ids, p.AccountID)
	}
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return Conversation{}, err
	}
	unread := c.UnreadCount
	if unread == nil {
		unread = map[string]int{}
	}
	unreadJSON, err := json.Marshal(unread)
	if err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	_, err = s.q.Exec(ctx,
		`INSERT INTO `+conversations+` (
		     id, pair_key, participants, participant_ids, unread_count,
		     context_kind, context_related_id, context_related_title,
		     is_active, next_seq, created_at, updated_at
		   ) VALUES ($1, $2, $3::jsonb, $4, $5::jsonb, $6, $7, $8, $9, 1, $10, $11)`,
		c.ID, c.PairKey(), string(partsJSON), ids, string(unreadJSON),
		string(c.Context.Kind), c.Context.RelatedID, c.Context.RelatedTitle,
		c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Conversation{}, OpError{Op: op, Kind: ErrConflict, Msg: "active conversation exists for pair"}
		}
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return cloneConversation(c), nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	conversations := pgIdent(s.schema, "conversations")
	c, err := scanConversation(s.q.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, notFound("store.get_conversation", "conversation")
	}
	return c, err
}

func (s *PostgresStore) FindActiveConversation(ctx context.Context, key string) (Conversation, error) {
	conversations := pgIdent(s.schema, "conversations")
	c, err := scanConversation(s.q.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+`
		  WHERE pair_key = $1 AND is_active`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, notFound("store.find_active_conversation", "conversation")
	}
	return c, err
}

func (s *PostgresStore) ListConversations(ctx context.Context, accountID string) ([]Conversation, error) {
	conversations := pgIdent(s.schema, "conversations")
	rows, err := s.q.Query(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+`
		  WHERE $1 = ANY(participant_ids)
		  ORDER BY COALESCE(last_message_at, created_at) DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0, 16)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) SetConversationActive(ctx context.Context, id string, active bool, now time.Time) error {
	const op = "store.set_conversation_active"
	conversations := pgIdent(s.schema, "conversations")
	tag, err := s.q.Exec(ctx,
		`UPDATE `+conversations+` SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, now,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return OpError{Op: op, Kind: ErrConflict, Msg: "active conversation exists for pair"}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op, "conversation")
	}
	return nil
}

func (s *PostgresStore) ApplyNewMessage(ctx context.Context, id, senderID string, last LastMessage) error {
	conversations := pgIdent(s.schema, "conversations")
	// The correlated subquery sees the locked row, so each increment is
	// applied on top of any concurrent committed one.
	tag, err := s.q.Exec(ctx,
		`UPDATE `+conversations+` AS c
		    SET last_message_preview = $3,
		        last_message_sender  = $2,
		        last_message_at      = $4,
		        updated_at           = $4,
		        unread_count = c.unread_count || COALESCE((
		            SELECT jsonb_object_agg(p, COALESCE((c.unread_count ->> p)::int, 0) + 1)
		              FROM unnest(c.participant_ids) AS p
		             WHERE p <> $2
		        ), '{}'::jsonb)
		  WHERE c.id = $1`,
		id, senderID, last.ContentPreview, last.Timestamp,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("store.apply_new_message", "conversation")
	}
	return nil
}

func (s *PostgresStore) ResetUnread(ctx context.Context, id, accountID string, now time.Time) error {
	conversations := pgIdent(s.schema, "conversations")
	tag, err := s.q.Exec(ctx,
		`UPDATE `+conversations+`
		    SET unread_count = jsonb_set(unread_count, ARRAY[$2::text], '0'::jsonb, true),
		        updated_at = $3
		  WHERE id = $1`,
		id, accountID, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("store.reset_unread", "conversation")
	}
	return nil
}

func (s *PostgresStore) SetUnread(ctx context.Context, id string, counts map[string]int, now time.Time) error {
	b, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	conversations := pgIdent(s.schema, "conversations")
	tag, err := s.q.Exec(ctx,
		`UPDATE `+conversations+`
		    SET unread_count = unread_count || $2::jsonb,
		        updated_at = $3
		  WHERE id = $1`,
		id, string(b), now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("store.set_unread", "conversation")
	}
	return nil
}

const messageColumns = `id, conversation_id, seq, sender_id, sender_name, sender_role,
       content, type, metadata, is_edited, edited_at, is_deleted, deleted_at, created_at`

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		return Message{}, errors.New("messaging: missing message id")
	}
	meta, err := v1.EncodeMetadata(m.Metadata)
	if err != nil {
		return Message{}, err
	}
	var metaArg any
	if meta != nil {
		metaArg = string(meta)
	}

	err = s.withTx(ctx, func(tx *PostgresStore) error {
		conversations := pgIdent(tx.schema, "conversations")
		messages := pgIdent(tx.schema, "messages")

		var seq int64
		err := tx.q.QueryRow(ctx,
			`UPDATE `+conversations+`
			    SET next_seq = next_seq + 1
			  WHERE id = $1
			RETURNING (next_seq - 1)`,
			m.ConversationID,
		).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("store.insert_message", "conversation")
		}
		if err != nil {
			return err
		}

		if _, err := tx.q.Exec(ctx,
			`INSERT INTO `+messages+` (
			     id, conversation_id, seq, sender_id, sender_name, sender_role,
			     content, type, metadata, created_at
			   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`,
			m.ID, m.ConversationID, seq, m.Sender.AccountID, m.Sender.DisplayName, m.Sender.Role,
			m.Content, string(m.Type), metaArg, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		m.Seq = seq
		return nil
	})
	if err != nil {
		return Message{}, err
	}

	m.ReadBy = nil
	m.IsEdited, m.EditedAt = false, nil
	m.IsDeleted, m.DeletedAt = false, nil
	return m, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (Message, error) {
	messages := pgIdent(s.schema, "messages")
	m, err := scanMessage(s.q.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, notFound("store.get_message", "message")
	}
	if err != nil {
		return Message{}, err
	}

	receipts, err := s.readReceipts(ctx, []string{m.ID})
	if err != nil {
		return Message{}, err
	}
	m.ReadBy = receipts[m.ID]
	return m, nil
}

func (s *PostgresStore) EditMessage(ctx context.Context, id, content string, now time.Time) (Message, error) {
	messages := pgIdent(s.schema, "messages")
	tag, err := s.q.Exec(ctx,
		`UPDATE `+messages+`
		    SET content = $2, is_edited = true, edited_at = $3
		  WHERE id = $1 AND NOT is_deleted`,
		id, content, now,
	)
	if err != nil {
		return Message{}, err
	}
	if tag.RowsAffected() == 0 {
		return Message{}, notFound("store.edit_message", "message")
	}
	return s.GetMessage(ctx, id)
}

func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, id, placeholder string, now time.Time) (Message, error) {
	messages := pgIdent(s.schema, "messages")
	tag, err := s.q.Exec(ctx,
		`UPDATE `+messages+`
		    SET content = $2, metadata = NULL, is_deleted = true, deleted_at = $3
		  WHERE id = $1 AND NOT is_deleted`,
		id, placeholder, now,
	)
	if err != nil {
		return Message{}, err
	}
	if tag.RowsAffected() == 0 {
		return Message{}, notFound("store.soft_delete_message", "message")
	}
	return s.GetMessage(ctx, id)
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]Message, int, error) {
	if offset < 0 {
		offset = 0
	}
	messages := pgIdent(s.schema, "messages")

	var total int
	if err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM `+messages+` WHERE conversation_id = $1`,
		conversationID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || offset >= total {
		return []Message{}, total, nil
	}

	// Newest-first window, reversed below for delivery.
	rows, err := s.q.Query(ctx,
		`SELECT `+messageColumns+` FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY seq DESC
		  OFFSET $2 LIMIT $3`,
		conversationID, offset, limit,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	ids := make([]string, 0, len(out))
	for _, m := range out {
		ids = append(ids, m.ID)
	}
	receipts, err := s.readReceipts(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].ReadBy = receipts[out[i].ID]
	}
	return out, total, nil
}

func (s *PostgresStore) AddReadReceipts(ctx context.Context, accountID string, messageIDs []string, at time.Time) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	reads := pgIdent(s.schema, "message_reads")
	tag, err := s.q.Exec(ctx,
		`INSERT INTO `+reads+` (message_id, account_id, read_at)
		 SELECT id, $2, $3 FROM unnest($1::text[]) AS id
		 ON CONFLICT (message_id, account_id) DO NOTHING`,
		messageIDs, accountID, at,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountUnreadFor(ctx context.Context, conversationID, accountID string) (int, error) {
	messages := pgIdent(s.schema, "messages")
	reads := pgIdent(s.schema, "message_reads")
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM `+messages+` AS m
		  WHERE m.conversation_id = $1
		    AND m.sender_id <> $2
		    AND NOT EXISTS (
		        SELECT 1 FROM `+reads+` AS r
		         WHERE r.message_id = m.id AND r.account_id = $2)`,
		conversationID, accountID,
	).Scan(&n)
	return n, err
}

func (s *PostgresStore) readReceipts(ctx context.Context, messageIDs []string) (map[string][]ReadReceipt, error) {
	out := make(map[string][]ReadReceipt, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	reads := pgIdent(s.schema, "message_reads")
	rows, err := s.q.Query(ctx,
		`SELECT message_id, account_id, read_at FROM `+reads+`
		  WHERE message_id = ANY($1::text[])
		  ORDER BY read_at ASC, account_id ASC`,
		messageIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			r  ReadReceipt
		)
		if err := rows.Scan(&id, &r.AccountID, &r.ReadAt); err != nil {
			return nil, err
		}
		out[id] = append(out[id], r)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c          Conversation
		partsJSON  []byte
		unreadJSON []byte
		preview    *string
		sender     *string
		lastAt     *time.Time
		kind       string
	)
	if err := row.Scan(
		&c.ID, &partsJSON, &unreadJSON,
		&preview, &sender, &lastAt,
		&kind, &c.Context.RelatedID, &c.Context.RelatedTitle,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return Conversation{}, err
	}

	var parts []pgParticipant
	if err := json.Unmarshal(partsJSON, &parts); err != nil {
		return Conversation{}, fmt.Errorf("decode participants: %w", err)
	}
	if len(parts) != 2 {
		return Conversation{}, fmt.Errorf("decode participants: want 2, got %d", len(parts))
	}
	for i, p := range parts {
		c.Participants[i] = Participant{
			AccountID:   p.AccountID,
			Role:        p.Role,
			DisplayName: p.DisplayName,
			AvatarRef:   p.AvatarRef,
		}
	}

	c.UnreadCount = make(map[string]int, 2)
	if err := json.Unmarshal(unreadJSON, &c.UnreadCount); err != nil {
		return Conversation{}, fmt.Errorf("decode unread_count: %w", err)
	}

	c.Context.Kind = v1.ContextKind(kind)
	if lastAt != nil {
		lm := LastMessage{Timestamp: *lastAt}
		if preview != nil {
			lm.ContentPreview = *preview
		}
		if sender != nil {
			lm.SenderID = *sender
		}
		c.LastMessage = &lm
	}
	return c, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m    Message
		typ  string
		meta []byte
	)
	if err := row.Scan(
		&m.ID, &m.ConversationID, &m.Seq,
		&m.Sender.AccountID, &m.Sender.DisplayName, &m.Sender.Role,
		&m.Content, &typ, &meta,
		&m.IsEdited, &m.EditedAt, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt,
	); err != nil {
		return Message{}, err
	}
	m.Type = v1.MessageType(typ)
	if len(meta) > 0 {
		md, err := v1.DecodeMetadata(m.Type, meta)
		if err != nil {
			return Message{}, err
		}
		m.Metadata = md
	}
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
