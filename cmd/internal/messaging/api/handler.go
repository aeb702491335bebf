package messagingapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"convoy/cmd/internal/auth"
	"convoy/cmd/internal/messaging"
	v1 "convoy/shared/contracts/messaging/v1"
)

// DefaultMaxBodyBytes bounds request bodies. A maximal message is well under it.
const DefaultMaxBodyBytes int64 = 64 << 10

// Config controls messaging API behavior.
type Config struct {
	MaxBodyBytes int64
}

// Handler exposes the messaging Service over HTTP. Every route requires a
// bearer token; the authenticated account is the caller.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	svc      *messaging.Service
	verifier auth.Verifier
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides the clock used for token validation.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs a messaging Handler.
func NewHandler(log *slog.Logger, svc *messaging.Service, verifier auth.Verifier, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("messagingapi: nil service")
	}
	if verifier == nil {
		return nil, errors.New("messagingapi: nil verifier")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		svc:      svc,
		verifier: verifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires messaging routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	authed := auth.RequireBearer(h.verifier, h.now, WriteUnauthorized)
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(fn))
	}

	route("GET /conversations", h.handleListConversations)
	route("GET /conversations/unread", h.handleUnreadTotal)
	route("POST /conversations", h.handleStartConversation)
	route("GET /conversations/{id}", h.handleGetConversation)
	route("POST /conversations/{id}/messages", h.handleSend)
	route("GET /conversations/{id}/messages", h.handleListMessages)
	route("POST /conversations/{id}/read", h.handleMarkRead)
	route("POST /conversations/{id}/deactivate", h.handleDeactivate)
	route("POST /messages", h.handleContact)
	route("PATCH /messages/{id}", h.handleEdit)
	route("DELETE /messages/{id}", h.handleDelete)
}

// ---- conversations ----

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	caller := auth.AccountID(r.Context())
	list, err := h.svc.ListConversations(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, "messaging.list_conversations", err)
		return
	}
	out := v1.ConversationListPayload{Conversations: make([]v1.ConversationSummaryPayload, 0, len(list))}
	for _, s := range list {
		out.Conversations = append(out.Conversations, toSummaryPayload(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUnreadTotal(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.UnreadTotal(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.writeServiceError(w, "messaging.unread_total", err)
		return
	}
	writeJSON(w, http.StatusOK, v1.UnreadTotalPayload{Unread: n})
}

func (h *Handler) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req v1.StartConversationRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	cctx, err := parseContext(req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	s, created, err := h.svc.StartConversation(r.Context(), auth.AccountID(r.Context()), req.RecipientID, cctx)
	if err != nil {
		h.writeServiceError(w, "messaging.start_conversation", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, v1.StartConversationPayload{
		Conversation: toConversationPayload(s.Conversation),
		Created:      created,
	})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.GetConversation(r.Context(), r.PathValue("id"), auth.AccountID(r.Context()))
	if err != nil {
		h.writeServiceError(w, "messaging.get_conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryPayload(s))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkRead(r.Context(), r.PathValue("id"), auth.AccountID(r.Context())); err != nil {
		h.writeServiceError(w, "messaging.mark_read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Deactivate(r.Context(), r.PathValue("id"), auth.AccountID(r.Context()))
	if err != nil {
		h.writeServiceError(w, "messaging.deactivate", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryPayload(s))
}

// ---- messages ----

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req v1.SendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	typ, md, err := parseBody(req.Type, req.Metadata)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	msg, err := h.svc.Send(r.Context(), auth.AccountID(r.Context()), messaging.SendInput{
		ConversationID: r.PathValue("id"),
		Content:        req.Content,
		Type:           typ,
		Metadata:       md,
	})
	if err != nil {
		h.writeServiceError(w, "messaging.send", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessagePayload(msg))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(r, "page")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "page must be a positive integer")
		return
	}
	size, ok := queryInt(r, "page_size")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "page_size must be a positive integer")
		return
	}

	p, err := h.svc.ListMessages(r.Context(), r.PathValue("id"), auth.AccountID(r.Context()), page, size)
	if err != nil {
		h.writeServiceError(w, "messaging.list_messages", err)
		return
	}
	writeJSON(w, http.StatusOK, toPagePayload(p))
}

func (h *Handler) handleContact(w http.ResponseWriter, r *http.Request) {
	var req v1.ContactRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	cctx, err := parseContext(req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	typ, md, err := parseBody(req.Type, req.Metadata)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	res, err := h.svc.Contact(r.Context(), auth.AccountID(r.Context()), messaging.ContactInput{
		Recipient: req.RecipientID,
		Context:   cctx,
		Content:   req.Content,
		Type:      typ,
		Metadata:  md,
	})
	if err != nil {
		h.writeServiceError(w, "messaging.contact", err)
		return
	}
	writeJSON(w, http.StatusCreated, v1.SendResultPayload{
		Conversation: toConversationPayload(res.Conversation.Conversation),
		Message:      toMessagePayload(res.Message),
		Created:      res.Created,
	})
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req v1.EditMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	msg, err := h.svc.EditMessage(r.Context(), r.PathValue("id"), auth.AccountID(r.Context()), req.Content)
	if err != nil {
		h.writeServiceError(w, "messaging.edit", err)
		return
	}
	writeJSON(w, http.StatusOK, toMessagePayload(msg))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.DeleteMessage(r.Context(), r.PathValue("id"), auth.AccountID(r.Context()))
	if err != nil {
		h.writeServiceError(w, "messaging.delete", err)
		return
	}
	writeJSON(w, http.StatusOK, toMessagePayload(msg))
}

// ---- helpers ----

// writeServiceError maps messaging error kinds to HTTP statuses. Anything
// unrecognized is logged and reported as a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var oe messaging.OpError
	msg := ""
	if errors.As(err, &oe) {
		msg = oe.Msg
	}

	switch {
	case messaging.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_input", fallback(msg, "invalid input"))
	case messaging.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", fallback(msg, "not found"))
	case messaging.IsForbidden(err):
		writeError(w, http.StatusForbidden, "forbidden", fallback(msg, "forbidden"))
	case messaging.IsRateLimited(err):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many messages")
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// parseBody parses the wire type and metadata of a user-authored message.
// System notes are produced by the platform and never accepted over HTTP.
func parseBody(rawType string, rawMeta []byte) (v1.MessageType, v1.Metadata, error) {
	typ, err := v1.ParseMessageType(rawType)
	if err != nil {
		return "", nil, err
	}
	if typ == v1.TypeSystem {
		return "", nil, errors.New("system messages cannot be sent by clients")
	}
	md, err := v1.DecodeMetadata(typ, rawMeta)
	if err != nil {
		return "", nil, err
	}
	return typ, md, nil
}

// queryInt returns 0 when the parameter is absent so the service default applies.
func queryInt(r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
