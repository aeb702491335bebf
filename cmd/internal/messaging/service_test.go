package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	v1 "convoy/shared/contracts/messaging/v1"
)

const (
	accDriver   = "acc-driver"
	accEmployer = "acc-employer"
	accOutsider = "acc-outsider"
)

type fakeResolver struct {
	accounts map[string]Participant
	profiles map[string]string // profile id -> account id
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		accounts: map[string]Participant{
			accDriver:   {AccountID: accDriver, Role: "driver", DisplayName: "Jean Dupont"},
			accEmployer: {AccountID: accEmployer, Role: "employer", DisplayName: "Transports Martin"},
			accOutsider: {AccountID: accOutsider, Role: "driver", DisplayName: "Paul"},
		},
		profiles: map[string]string{"drv-profile-1": accDriver},
	}
}

func (r *fakeResolver) ResolveAccount(_ context.Context, id string) (Participant, error) {
	p, ok := r.accounts[id]
	if !ok {
		return Participant{}, notFound("fake.resolve", "account")
	}
	return p, nil
}

func (r *fakeResolver) ResolveRecipient(ctx context.Context, id string) (Participant, error) {
	if p, err := r.ResolveAccount(ctx, id); err == nil {
		return p, nil
	}
	if acc, ok := r.profiles[id]; ok {
		return r.ResolveAccount(ctx, acc)
	}
	return Participant{}, notFound("fake.resolve", "recipient")
}

type notification struct {
	AccountID string
	Kind      string
	Payload   map[string]any
}

type recordingEmitter struct {
	mu   sync.Mutex
	got  []notification
	fail error
}

func (e *recordingEmitter) Notify(_ context.Context, accountID, kind string, payload map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return e.fail
	}
	e.got = append(e.got, notification{AccountID: accountID, Kind: kind, Payload: payload})
	return nil
}

func (e *recordingEmitter) all() []notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]notification(nil), e.got...)
}

type stubLimiter struct {
	allow bool
	err   error
}

func (l stubLimiter) Allow(context.Context, string, time.Time) (bool, error) { return l.allow, l.err }

// steppingClock advances by one millisecond per reading so ordering by time
// is deterministic.
func steppingClock() func() time.Time {
	var (
		mu  sync.Mutex
		cur = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Millisecond)
		return cur
	}
}

type fixture struct {
	svc     *Service
	store   *InMemoryStore
	emitter *recordingEmitter
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()

	st := NewInMemoryStore()
	em := &recordingEmitter{}
	reg := prometheus.NewRegistry()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEmitter(em),
		WithMetrics(NewMetrics(reg)),
		WithClock(steppingClock()),
	}
	svc, err := NewService(st, newFakeResolver(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return fixture{svc: svc, store: st, emitter: em, reg: reg}
}

func (f fixture) start(t *testing.T) Conversation {
	t.Helper()
	s, _, err := f.svc.StartConversation(context.Background(), accDriver, accEmployer, ConversationContext{Kind: v1.ContextProfileContact})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	return s.Conversation
}

func (f fixture) send(t *testing.T, from, convID, content string) Message {
	t.Helper()
	m, err := f.svc.Send(context.Background(), from, SendInput{ConversationID: convID, Content: content})
	if err != nil {
		t.Fatalf("Send(%s): %v", from, err)
	}
	return m
}

func (f fixture) conv(t *testing.T, id string) Conversation {
	t.Helper()
	c, err := f.store.GetConversation(context.Background(), id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	return c
}

func participantsOf(a, b string) (Participant, Participant) {
	r := newFakeResolver()
	return r.accounts[a], r.accounts[b]
}

func TestFindOrCreate_IdempotentPairing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a, b := participantsOf(accDriver, accEmployer)

	ctx1 := ConversationContext{Kind: v1.ContextOfferApplication, RelatedID: "offer-1", RelatedTitle: "Chauffeur PL"}
	ctx2 := ConversationContext{Kind: v1.ContextDirectOffer, RelatedID: "offer-2"}

	c1, created1, err := f.svc.Directory().FindOrCreate(ctx, a, b, ctx1)
	if err != nil {
		t.Fatalf("FindOrCreate(a,b): %v", err)
	}
	c2, created2, err := f.svc.Directory().FindOrCreate(ctx, b, a, ctx2)
	if err != nil {
		t.Fatalf("FindOrCreate(b,a): %v", err)
	}

	if c1.ID != c2.ID {
		t.Fatalf("expected same conversation, got %s and %s", c1.ID, c2.ID)
	}
	if !created1 || created2 {
		t.Fatalf("created flags: got %v, %v", created1, created2)
	}
	if c2.Context != ctx1 {
		t.Fatalf("first-contact context must win: got %+v", c2.Context)
	}
	if c1.LastMessage != nil {
		t.Fatalf("new conversation must have no last message")
	}
	if c1.Unread(accDriver) != 0 || c1.Unread(accEmployer) != 0 || len(c1.UnreadCount) != 2 {
		t.Fatalf("unread must start at zero for both: %v", c1.UnreadCount)
	}
}

func TestFindOrCreate_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a, _ := participantsOf(accDriver, accEmployer)

	if _, _, err := f.svc.Directory().FindOrCreate(ctx, a, a, ConversationContext{}); !IsInvalidInput(err) {
		t.Fatalf("same participant: expected invalid input, got %v", err)
	}
	if _, _, err := f.svc.Directory().FindOrCreate(ctx, a, Participant{}, ConversationContext{}); !IsInvalidInput(err) {
		t.Fatalf("missing participant: expected invalid input, got %v", err)
	}
	b := Participant{AccountID: accEmployer}
	if _, _, err := f.svc.Directory().FindOrCreate(ctx, a, b, ConversationContext{Kind: "gossip"}); !IsInvalidInput(err) {
		t.Fatalf("unknown context: expected invalid input, got %v", err)
	}
	if _, _, err := f.svc.StartConversation(ctx, accDriver, accDriver, ConversationContext{}); !IsInvalidInput(err) {
		t.Fatalf("self conversation: expected invalid input, got %v", err)
	}
}

func TestFindOrCreate_ConcurrentFirstContact(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, b := participantsOf(accDriver, accEmployer)

	const n = 32
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		ids   = make([]string, n)
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			x, y := a, b
			if i%2 == 1 {
				x, y = b, a
			}
			c, _, err := f.svc.Directory().FindOrCreate(context.Background(), x, y, ConversationContext{})
			ids[i], errs[i] = c.ID, err
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}

	list, err := f.svc.ListConversations(context.Background(), accDriver)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one persisted conversation, got %d", len(list))
	}
	created := testutil.ToFloat64(f.svc.dir.metrics.conversationsCreated)
	if created != 1 {
		t.Fatalf("conversations_created_total: got %v", created)
	}
}

func TestFindOrCreate_NewConversationAfterDeactivate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)

	if _, err := f.svc.Deactivate(ctx, c.ID, accOutsider); !IsForbidden(err) {
		t.Fatalf("outsider deactivate: expected forbidden, got %v", err)
	}
	s, err := f.svc.Deactivate(ctx, c.ID, accEmployer)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if s.Conversation.IsActive {
		t.Fatalf("expected inactive")
	}
	if _, err := f.svc.Deactivate(ctx, c.ID, accEmployer); err != nil {
		t.Fatalf("Deactivate is idempotent: %v", err)
	}

	_, err = f.svc.Send(ctx, accDriver, SendInput{ConversationID: c.ID, Content: "Toujours là ?"})
	if !IsForbidden(err) {
		t.Fatalf("send to inactive: expected forbidden, got %v", err)
	}

	fresh, created, err := f.svc.StartConversation(ctx, accEmployer, accDriver, ConversationContext{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if !created || fresh.Conversation.ID == c.ID {
		t.Fatalf("expected a new conversation after deactivation")
	}

	// History of the old one stays readable.
	if _, err := f.svc.ListMessages(ctx, c.ID, accDriver, 1, 10); err != nil {
		t.Fatalf("ListMessages(inactive): %v", err)
	}
}

func TestAppend_UnreadAccounting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)

	const k = 5
	for i := 0; i < k; i++ {
		f.send(t, accDriver, c.ID, "message")
	}

	got := f.conv(t, c.ID)
	if got.Unread(accEmployer) != k || got.Unread(accDriver) != 0 {
		t.Fatalf("after %d sends: %v", k, got.UnreadCount)
	}
	total, err := f.svc.UnreadTotal(ctx, accEmployer)
	if err != nil || total != k {
		t.Fatalf("UnreadTotal: got %d, %v", total, err)
	}

	if _, err := f.svc.ListMessages(ctx, c.ID, accEmployer, 1, 0); err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	got = f.conv(t, c.ID)
	if got.Unread(accEmployer) != 0 {
		t.Fatalf("after reading: %v", got.UnreadCount)
	}
}

func TestAppend_ConcurrentSendsLoseNoIncrement(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.start(t)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.Send(context.Background(), accDriver, SendInput{ConversationID: c.ID, Content: "a"})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.Send(context.Background(), accEmployer, SendInput{ConversationID: c.ID, Content: "b"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	got := f.conv(t, c.ID)
	if got.Unread(accDriver) != n || got.Unread(accEmployer) != n {
		t.Fatalf("expected %d each, got %v", n, got.UnreadCount)
	}

	page, err := f.svc.ListMessages(context.Background(), c.ID, accDriver, 1, maxPageSize)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	for i := 1; i < len(page.Messages); i++ {
		if page.Messages[i].Seq != page.Messages[i-1].Seq+1 {
			t.Fatalf("seq not contiguous at %d: %d after %d", i, page.Messages[i].Seq, page.Messages[i-1].Seq)
		}
	}
}

func TestList_PagesTileOldestToNewest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)

	var sent []Message
	for i := 0; i < 7; i++ {
		sent = append(sent, f.send(t, accDriver, c.ID, string(rune('a'+i))))
	}

	var seen []string
	for page := 3; page >= 1; page-- {
		p, err := f.svc.ListMessages(ctx, c.ID, accEmployer, page, 3)
		if err != nil {
			t.Fatalf("ListMessages(page %d): %v", page, err)
		}
		if p.Total != 7 {
			t.Fatalf("total: got %d", p.Total)
		}
		if wantMore := page < 3; p.HasMore != wantMore {
			t.Fatalf("page %d hasMore: got %v", page, p.HasMore)
		}
		for _, m := range p.Messages {
			seen = append(seen, m.ID)
		}
	}

	if len(seen) != len(sent) {
		t.Fatalf("pages returned %d messages, want %d", len(seen), len(sent))
	}
	for i := range sent {
		if seen[i] != sent[i].ID {
			t.Fatalf("position %d: got %s want %s", i, seen[i], sent[i].ID)
		}
	}

	empty, err := f.svc.ListMessages(ctx, c.ID, accEmployer, 9, 3)
	if err != nil {
		t.Fatalf("ListMessages(past end): %v", err)
	}
	if len(empty.Messages) != 0 || empty.HasMore {
		t.Fatalf("past end: got %+v", empty)
	}
}

func TestList_HugePageIsPastTheEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)
	for i := 0; i < 5; i++ {
		f.send(t, accDriver, c.ID, "message")
	}

	for _, page := range []int{math.MaxInt/100 + 2, math.MaxInt} {
		p, err := f.svc.ListMessages(ctx, c.ID, accEmployer, page, 100)
		if err != nil {
			t.Fatalf("ListMessages(page %d): %v", page, err)
		}
		if len(p.Messages) != 0 || p.HasMore || p.Total != 5 {
			t.Fatalf("page %d: got %d messages, hasMore=%v, total=%d", page, len(p.Messages), p.HasMore, p.Total)
		}
	}

	all, _, err := f.store.ListMessages(ctx, c.ID, 0, 100)
	if err != nil {
		t.Fatalf("store.ListMessages: %v", err)
	}
	for _, m := range all {
		if m.ReadByAccount(accEmployer) {
			t.Fatalf("message %s gained a receipt from a page past the end", m.ID)
		}
	}
}

func TestPageOffset_Saturates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		page, size, want int
	}{
		{1, 30, 0},
		{2, 30, 30},
		{4, 100, 300},
		{math.MaxInt, 100, math.MaxInt - 100},
		{math.MaxInt/100 + 2, 100, math.MaxInt - 100},
	}
	for _, tc := range cases {
		if got := pageOffset(tc.page, tc.size); got != tc.want {
			t.Fatalf("pageOffset(%d, %d): got %d want %d", tc.page, tc.size, got, tc.want)
		}
	}
}

func TestList_ReceiptsArePageScopedUnreadIsNot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)

	for i := 0; i < 35; i++ {
		f.send(t, accDriver, c.ID, "ligne")
	}
	mine := f.send(t, accEmployer, c.ID, "ma réponse")

	page, err := f.svc.ListMessages(ctx, c.ID, accEmployer, 1, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if page.PageSize != defaultPageSize || len(page.Messages) != defaultPageSize || !page.HasMore {
		t.Fatalf("default page: size=%d len=%d hasMore=%v", page.PageSize, len(page.Messages), page.HasMore)
	}
	for _, m := range page.Messages {
		if m.ID == mine.ID {
			if m.ReadByAccount(accEmployer) {
				t.Fatalf("own message must not be marked read")
			}
			continue
		}
		if !m.ReadByAccount(accEmployer) {
			t.Fatalf("shown message %s lacks receipt", m.ID)
		}
	}

	got := f.conv(t, c.ID)
	if got.Unread(accEmployer) != 0 {
		t.Fatalf("viewing page 1 zeroes the whole conversation: %v", got.UnreadCount)
	}

	// Page 2 messages were never shown, yet a repair keeps the reset.
	counts, err := f.svc.RepairUnread(ctx, c.ID)
	if err != nil {
		t.Fatalf("RepairUnread: %v", err)
	}
	if counts[accEmployer] != 0 {
		t.Fatalf("recount for employer: got %d want 0", counts[accEmployer])
	}
	if counts[accDriver] != 1 {
		t.Fatalf("recount for driver: got %d want 1", counts[accDriver])
	}
}

func TestList_ReadReceiptsAreMonotonic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)
	m := f.send(t, accDriver, c.ID, "Bonjour")

	first, err := f.svc.ListMessages(ctx, c.ID, accEmployer, 1, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	readAt := first.Messages[0].ReadBy[0].ReadAt

	f.send(t, accEmployer, c.ID, "Bonjour à vous")
	if _, err := f.svc.EditMessage(ctx, m.ID, accDriver, "Bonjour !"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if _, err := f.svc.ListMessages(ctx, c.ID, accEmployer, 1, 10); err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if _, err := f.svc.DeleteMessage(ctx, m.ID, accDriver); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	got, err := f.store.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if len(got.ReadBy) != 1 || got.ReadBy[0].AccountID != accEmployer || !got.ReadBy[0].ReadAt.Equal(readAt) {
		t.Fatalf("receipt changed: %+v", got.ReadBy)
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)
	m := f.send(t, accDriver, c.ID, "Bonjour")

	for i := 0; i < 2; i++ {
		if err := f.svc.MarkRead(ctx, c.ID, accEmployer); err != nil {
			t.Fatalf("MarkRead: %v", err)
		}
	}
	if got := f.conv(t, c.ID); got.Unread(accEmployer) != 0 {
		t.Fatalf("unread: %v", got.UnreadCount)
	}
	// Explicit mark-read leaves receipts alone.
	got, _ := f.store.GetMessage(ctx, m.ID)
	if len(got.ReadBy) != 0 {
		t.Fatalf("mark read must not add receipts: %+v", got.ReadBy)
	}
	if err := f.svc.MarkRead(ctx, c.ID, accOutsider); !IsForbidden(err) {
		t.Fatalf("outsider: expected forbidden, got %v", err)
	}
	if err := f.svc.MarkRead(ctx, "nope", accEmployer); !IsNotFound(err) {
		t.Fatalf("unknown conversation: expected not found, got %v", err)
	}
}

func TestRepairUnread_OnlyLowersDriftedCounters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)
	for i := 0; i < 5; i++ {
		f.send(t, accDriver, c.ID, "message")
	}

	// Reading page 1 receipts two messages and zeroes the whole counter;
	// repair must not bring back the three never fetched.
	if _, err := f.svc.ListMessages(ctx, c.ID, accEmployer, 1, 2); err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	counts, err := f.svc.RepairUnread(ctx, c.ID)
	if err != nil {
		t.Fatalf("RepairUnread: %v", err)
	}
	if counts[accEmployer] != 0 || counts[accDriver] != 0 {
		t.Fatalf("after page-1 read: got %v", counts)
	}

	// Counters above the unreceipted count are lowered to it.
	if err := f.store.SetUnread(ctx, c.ID, map[string]int{accDriver: 7, accEmployer: 9}, time.Now()); err != nil {
		t.Fatalf("SetUnread: %v", err)
	}
	counts, err = f.svc.RepairUnread(ctx, c.ID)
	if err != nil {
		t.Fatalf("RepairUnread: %v", err)
	}
	if counts[accEmployer] != 3 || counts[accDriver] != 0 {
		t.Fatalf("after drift: got %v", counts)
	}
	got := f.conv(t, c.ID)
	if got.Unread(accEmployer) != 3 || got.Unread(accDriver) != 0 {
		t.Fatalf("stored counters: got %v", got.UnreadCount)
	}

	n, err := f.svc.RepairAccount(ctx, accEmployer)
	if err != nil || n != 1 {
		t.Fatalf("RepairAccount: got %d, %v", n, err)
	}
	if _, err := f.svc.RepairAccount(ctx, " "); !IsInvalidInput(err) {
		t.Fatalf("blank account: expected invalid input, got %v", err)
	}
	if _, err := f.svc.RepairUnread(ctx, "nope"); !IsNotFound(err) {
		t.Fatalf("unknown conversation: expected not found, got %v", err)
	}
}

func TestSend_ContentBoundary(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.start(t)

	cases := []struct {
		name    string
		content string
		ok      bool
	}{
		{"empty", "", false},
		{"whitespace", " \t\n ", false},
		{"exactly max", strings.Repeat("é", v1.MaxContentChars), true},
		{"one over", strings.Repeat("a", v1.MaxContentChars+1), false},
		{"padded max", "  " + strings.Repeat("a", v1.MaxContentChars) + "  ", true},
	}
	for _, tc := range cases {
		_, err := f.svc.Send(context.Background(), accDriver, SendInput{ConversationID: c.ID, Content: tc.content})
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !IsInvalidInput(err) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
	}

	if got := f.conv(t, c.ID); got.Unread(accEmployer) != 2 {
		t.Fatalf("rejected sends must leave no state: %v", got.UnreadCount)
	}
}

func TestSend_MetadataMustMatchType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)

	_, err := f.svc.Send(ctx, accEmployer, SendInput{ConversationID: c.ID, Content: "Voir l'offre", Type: v1.TypeOfferLink})
	if !IsInvalidInput(err) {
		t.Fatalf("offer link without metadata: expected invalid input, got %v", err)
	}
	_, err = f.svc.Send(ctx, accEmployer, SendInput{ConversationID: c.ID, Content: "x", Metadata: v1.ContactInfo{Phone: "0600000000"}})
	if !IsInvalidInput(err) {
		t.Fatalf("text with metadata: expected invalid input, got %v", err)
	}

	offer := v1.OfferLink{OfferID: "offer-9", Title: "Chauffeur SPL", URL: "https://example.com/offers/offer-9"}
	m, err := f.svc.Send(ctx, accEmployer, SendInput{ConversationID: c.ID, Content: "Voir l'offre", Type: v1.TypeOfferLink, Metadata: offer})
	if err != nil {
		t.Fatalf("Send(offer link): %v", err)
	}
	if m.Type != v1.TypeOfferLink || m.Metadata != offer {
		t.Fatalf("stored: type=%s metadata=%+v", m.Type, m.Metadata)
	}
}

func TestEdit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)
	m := f.send(t, accDriver, c.ID, "Bonjour")

	if _, err := f.svc.EditMessage(ctx, m.ID, accEmployer, "piraté"); !IsForbidden(err) {
		t.Fatalf("non-sender edit: expected forbidden, got %v", err)
	}
	if _, err := f.svc.EditMessage(ctx, m.ID, accDriver, "   "); !IsInvalidInput(err) {
		t.Fatalf("empty edit: expected invalid input, got %v", err)
	}
	if _, err := f.svc.EditMessage(ctx, "missing", accDriver, "x"); !IsNotFound(err) {
		t.Fatalf("unknown message: expected not found, got %v", err)
	}

	edited, err := f.svc.EditMessage(ctx, m.ID, accDriver, "Bonjour, je suis disponible")
	if err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if !edited.IsEdited || edited.EditedAt == nil || edited.Content != "Bonjour, je suis disponible" {
		t.Fatalf("edited: %+v", edited)
	}
	if got := f.conv(t, c.ID); got.LastMessage.ContentPreview != "Bonjour" {
		t.Fatalf("edit must not rewrite last message: %+v", got.LastMessage)
	}
}

func TestSoftDelete_PreservesHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)
	f.send(t, accDriver, c.ID, "premier")
	last := f.send(t, accDriver, c.ID, "dernier")

	before, err := f.svc.ListMessages(ctx, c.ID, accDriver, 1, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	if _, err := f.svc.DeleteMessage(ctx, last.ID, accEmployer); !IsForbidden(err) {
		t.Fatalf("non-sender delete: expected forbidden, got %v", err)
	}
	deleted, err := f.svc.DeleteMessage(ctx, last.ID, accDriver)
	if err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if !deleted.IsDeleted || deleted.DeletedAt == nil || deleted.Content != v1.DeletedPlaceholder {
		t.Fatalf("deleted: %+v", deleted)
	}

	after, err := f.svc.ListMessages(ctx, c.ID, accDriver, 1, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if after.Total != before.Total || len(after.Messages) != len(before.Messages) {
		t.Fatalf("delete changed pagination: before=%d after=%d", before.Total, after.Total)
	}
	tail := after.Messages[len(after.Messages)-1]
	if tail.ID != last.ID || !tail.IsDeleted || tail.Content != v1.DeletedPlaceholder {
		t.Fatalf("deleted message not retrievable: %+v", tail)
	}

	if got := f.conv(t, c.ID); got.LastMessage.ContentPreview != "dernier" {
		t.Fatalf("delete must not rewrite last message: %+v", got.LastMessage)
	}

	if _, err := f.svc.DeleteMessage(ctx, last.ID, accDriver); !IsNotFound(err) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
	if _, err := f.svc.EditMessage(ctx, last.ID, accDriver, "retour"); !IsNotFound(err) {
		t.Fatalf("edit deleted: expected not found, got %v", err)
	}
}

func TestAuthorization_NonParticipantAlwaysForbidden(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)
	m := f.send(t, accDriver, c.ID, "privé")

	if _, err := f.svc.ListMessages(ctx, c.ID, accOutsider, 1, 10); !IsForbidden(err) {
		t.Fatalf("list: expected forbidden, got %v", err)
	}
	for _, content := range []string{"intrus", "", strings.Repeat("x", 2000)} {
		if _, err := f.svc.Send(ctx, accOutsider, SendInput{ConversationID: c.ID, Content: content}); !IsForbidden(err) {
			t.Fatalf("append(%d chars): expected forbidden, got %v", len(content), err)
		}
	}
	if _, err := f.svc.EditMessage(ctx, m.ID, accOutsider, ""); !IsForbidden(err) {
		t.Fatalf("edit: expected forbidden, got %v", err)
	}
	if _, err := f.svc.DeleteMessage(ctx, m.ID, accOutsider); !IsForbidden(err) {
		t.Fatalf("delete: expected forbidden, got %v", err)
	}
	if _, err := f.svc.GetConversation(ctx, c.ID, accOutsider); !IsForbidden(err) {
		t.Fatalf("get: expected forbidden, got %v", err)
	}

	// Outsider attempts left no trace.
	got := f.conv(t, c.ID)
	if got.Unread(accEmployer) != 1 || got.Unread(accDriver) != 0 {
		t.Fatalf("state changed: %v", got.UnreadCount)
	}
	stored, _ := f.store.GetMessage(ctx, m.ID)
	if stored.Content != "privé" || len(stored.ReadBy) != 0 {
		t.Fatalf("message changed: %+v", stored)
	}

	if _, err := f.svc.Send(ctx, accDriver, SendInput{ConversationID: "missing", Content: "x"}); !IsNotFound(err) {
		t.Fatalf("unknown conversation: expected not found, got %v", err)
	}
}

func TestSend_NotificationFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.emitter.fail = errors.New("smtp down")
	c := f.start(t)

	m, err := f.svc.Send(context.Background(), accDriver, SendInput{ConversationID: c.ID, Content: "Bonjour"})
	if err != nil {
		t.Fatalf("Send must not fail on notification error: %v", err)
	}
	if _, err := f.store.GetMessage(context.Background(), m.ID); err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	failed := testutil.ToFloat64(f.svc.ledger.metrics.notifications.WithLabelValues("error"))
	if failed != 1 {
		t.Fatalf("notifications_total{result=error}: got %v", failed)
	}
}

func TestSend_Throttle(t *testing.T) {
	t.Parallel()

	denied := newFixture(t, WithLimiter(stubLimiter{allow: false}))
	c := denied.start(t)
	_, err := denied.svc.Send(context.Background(), accDriver, SendInput{ConversationID: c.ID, Content: "spam"})
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limited, got %v", err)
	}

	broken := newFixture(t, WithLimiter(stubLimiter{err: errors.New("redis: connection refused")}))
	c = broken.start(t)
	if _, err := broken.svc.Send(context.Background(), accDriver, SendInput{ConversationID: c.ID, Content: "ok"}); err != nil {
		t.Fatalf("limiter failure must fail open: %v", err)
	}
}

func TestContact_ValidatesBeforeCreating(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Contact(ctx, accDriver, ContactInput{Recipient: accEmployer, Content: "   "})
	if !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	_, err = f.svc.Contact(ctx, accDriver, ContactInput{Content: "Bonjour"})
	if !IsInvalidInput(err) {
		t.Fatalf("missing recipient: expected invalid input, got %v", err)
	}
	_, err = f.svc.Contact(ctx, accDriver, ContactInput{Recipient: "ghost", Content: "Bonjour"})
	if !IsNotFound(err) {
		t.Fatalf("unknown recipient: expected not found, got %v", err)
	}

	list, _ := f.svc.ListConversations(ctx, accDriver)
	if len(list) != 0 {
		t.Fatalf("failed contacts created %d conversations", len(list))
	}
}

func TestContact_ProfileIDRedirectsToAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.svc.Contact(context.Background(), accEmployer, ContactInput{
		Recipient: "drv-profile-1",
		Context:   ConversationContext{Kind: v1.ContextProfileContact, RelatedID: "drv-profile-1"},
		Content:   "Votre profil nous intéresse",
	})
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if res.Conversation.Other.AccountID != accDriver {
		t.Fatalf("other participant: got %+v", res.Conversation.Other)
	}
	if !res.Created || res.Conversation.Unread != 0 {
		t.Fatalf("result: %+v", res)
	}
	if res.Conversation.Conversation.Unread(accDriver) != 1 {
		t.Fatalf("driver unread: %v", res.Conversation.Conversation.UnreadCount)
	}
}

func TestListConversations_SortedByRecency(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	withEmployer := f.start(t)
	withOutsider, _, err := f.svc.StartConversation(ctx, accDriver, accOutsider, ConversationContext{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	// Newest creation first while neither has messages.
	list, _ := f.svc.ListConversations(ctx, accDriver)
	if len(list) != 2 || list[0].Conversation.ID != withOutsider.Conversation.ID {
		t.Fatalf("initial order: %+v", list)
	}

	f.send(t, accEmployer, withEmployer.ID, "Nouvelle mission")
	list, _ = f.svc.ListConversations(ctx, accDriver)
	if list[0].Conversation.ID != withEmployer.ID {
		t.Fatalf("most recent message should sort first")
	}
	if list[0].Other.AccountID != accEmployer || list[0].Unread != 1 {
		t.Fatalf("summary: %+v", list[0])
	}
	if list[1].Other.AccountID != accOutsider || list[1].Unread != 0 {
		t.Fatalf("summary: %+v", list[1])
	}
}

func TestScenario_FirstContactAndReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Contact(ctx, accDriver, ContactInput{Recipient: accEmployer, Content: "Bonjour, je suis intéressé"})
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	c := res.Conversation.Conversation
	if !res.Created {
		t.Fatalf("expected conversation to be created")
	}
	if c.Unread(accDriver) != 0 || c.Unread(accEmployer) != 1 {
		t.Fatalf("after first message: %v", c.UnreadCount)
	}
	if c.LastMessage == nil || c.LastMessage.ContentPreview != "Bonjour, je suis intéressé" {
		t.Fatalf("last message: %+v", c.LastMessage)
	}

	page, err := f.svc.ListMessages(ctx, c.ID, accEmployer, 1, 20)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page.Messages) != 1 || !page.Messages[0].ReadByAccount(accEmployer) {
		t.Fatalf("receipt not recorded: %+v", page.Messages)
	}
	if got := f.conv(t, c.ID); got.Unread(accEmployer) != 0 {
		t.Fatalf("after B reads: %v", got.UnreadCount)
	}

	f.send(t, accEmployer, c.ID, "Merci, je vous recontacte")
	got := f.conv(t, c.ID)
	if got.Unread(accDriver) != 1 || got.Unread(accEmployer) != 0 {
		t.Fatalf("after reply: %v", got.UnreadCount)
	}

	var toDriver []notification
	for _, n := range f.emitter.all() {
		if n.AccountID == accDriver {
			toDriver = append(toDriver, n)
		}
	}
	if len(toDriver) != 1 {
		t.Fatalf("expected one notification to A, got %d", len(toDriver))
	}
	n := toDriver[0]
	if n.Kind != NotificationNewMessage || n.Payload["conversation_id"] != c.ID || n.Payload["sender_name"] != "Transports Martin" {
		t.Fatalf("notification: %+v", n)
	}
}

func TestSender_SnapshotSurvivesProfileChange(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	res := newFakeResolver()
	svc, err := NewService(st, res, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	s, _, err := svc.StartConversation(ctx, accDriver, accEmployer, ConversationContext{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if _, err := svc.Send(ctx, accDriver, SendInput{ConversationID: s.Conversation.ID, Content: "Bonjour"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	res.accounts[accDriver] = Participant{AccountID: accDriver, Role: "driver", DisplayName: "J. Dupont"}

	page, err := svc.ListMessages(ctx, s.Conversation.ID, accEmployer, 1, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if page.Messages[0].Sender.DisplayName != "Jean Dupont" {
		t.Fatalf("history rewritten: %+v", page.Messages[0].Sender)
	}
}

func TestInMemoryStore_WithinTxRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	c := f.start(t)

	boom := errors.New("boom")
	err := f.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.ApplyNewMessage(ctx, c.ID, accDriver, LastMessage{ContentPreview: "x", SenderID: accDriver, Timestamp: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx: %v", err)
	}
	got := f.conv(t, c.ID)
	if got.Unread(accEmployer) != 0 || got.LastMessage != nil {
		t.Fatalf("rollback failed: %+v", got)
	}
}
