// Package main provides a CI-friendly HTTP smoke test for the Convoy messaging API.
//
// It validates, against a running server:
//   - first contact creates the conversation and bumps the recipient's unread count
//   - listing messages records receipts and zeroes the reader's counter
//   - a reply flips the counters
//   - a second first-contact reuses the same conversation
//
// The scenario expects a fresh store. Tokens are minted locally from the issuer's v4 secret key (hex). The
// defaults match the accounts seeded by CONVOY_DEV_SEED=true.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	v1 "convoy/shared/contracts/messaging/v1"
)

type smokeClient struct {
	name    string
	base    string
	token   string
	http    *http.Client
	verbose bool
}

func main() {
	var (
		baseURL   = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		secretHex = flag.String("secret-hex", os.Getenv("CONVOY_PASETO_V4_SECRET_KEY_HEX"), "Issuer v4 secret key (hex)")
		issuer    = flag.String("issuer", "convoy", "Token issuer")
		driver    = flag.String("driver", "acc-driver-demo", "Driver account id")
		employer  = flag.String("employer", "acc-employer-demo", "Employer account id")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-request timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(*secretHex))
	if err != nil {
		fatalf("invalid -secret-hex: %v", err)
	}

	hc := &http.Client{Timeout: *timeout}
	a := &smokeClient{name: "driver", base: strings.TrimRight(*baseURL, "/"), token: mintToken(secret, *issuer, *driver), http: hc, verbose: *verbose}
	b := &smokeClient{name: "employer", base: a.base, token: mintToken(secret, *issuer, *employer), http: hc, verbose: *verbose}

	ctx := context.Background()

	// A contacts B for the first time.
	const first = "Bonjour, je suis intéressé"
	var contact v1.SendResultPayload
	a.mustDo(ctx, http.MethodPost, "/messages", v1.ContactRequest{
		RecipientID: *employer,
		Context:     &v1.ContextPayload{Kind: string(v1.ContextProfileContact)},
		Content:     first,
	}, http.StatusCreated, &contact)

	conv := contact.Conversation
	if conv.LastMessage == nil || conv.LastMessage.ContentPreview != first {
		fatalf("contact: unexpected last message: %+v", conv.LastMessage)
	}
	assertUnread(conv, *driver, 0, *employer, 1)
	if !contact.Created {
		fatalf("contact: expected a new conversation; run against a fresh store")
	}

	// B reads the conversation.
	var page v1.MessagePagePayload
	b.mustDo(ctx, http.MethodGet, "/conversations/"+conv.ID+"/messages", nil, http.StatusOK, &page)
	if len(page.Messages) == 0 {
		fatalf("list: empty page")
	}
	last := page.Messages[len(page.Messages)-1]
	if last.ID != contact.Message.ID || !hasReceipt(last, *employer) {
		fatalf("list: expected receipt by %s on %s, got %+v", *employer, contact.Message.ID, last.ReadBy)
	}

	var afterRead v1.ConversationSummaryPayload
	b.mustDo(ctx, http.MethodGet, "/conversations/"+conv.ID, nil, http.StatusOK, &afterRead)
	if afterRead.UnreadCount != 0 {
		fatalf("after read: employer unread=%d want 0", afterRead.UnreadCount)
	}

	// B replies.
	var reply v1.MessagePayload
	b.mustDo(ctx, http.MethodPost, "/conversations/"+conv.ID+"/messages", v1.SendMessageRequest{
		Content: "Merci, je vous recontacte",
	}, http.StatusCreated, &reply)

	var again v1.StartConversationPayload
	a.mustDo(ctx, http.MethodPost, "/conversations", v1.StartConversationRequest{RecipientID: *employer}, http.StatusOK, &again)
	if again.Created || again.Conversation.ID != conv.ID {
		fatalf("start: expected existing conversation %s, got %+v", conv.ID, again)
	}
	assertUnread(again.Conversation, *driver, 1, *employer, 0)

	fmt.Printf("OK: conv_id=%s first_msg=%s reply_seq=%d\n", conv.ID, contact.Message.ID, reply.Seq)
}

func mintToken(secret paseto.V4AsymmetricSecretKey, issuer, accountID string) string {
	now := time.Now().UTC()
	tok := paseto.NewToken()
	tok.SetIssuer(issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(10 * time.Minute))
	if err := tok.Set("uid", accountID); err != nil {
		fatalf("mint token: %v", err)
	}
	return tok.V4Sign(secret, nil)
}

func (c *smokeClient) mustDo(ctx context.Context, method, path string, body any, wantStatus int, out any) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("%s: marshal: %v", c.name, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		fatalf("%s: build request: %v", c.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		fatalf("%s: %s %s: %v", c.name, method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		fatalf("%s: read body: %v", c.name, err)
	}
	if c.verbose {
		fmt.Printf("%s %s %s -> %d %s\n", c.name, method, path, res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if res.StatusCode != wantStatus {
		fatalf("%s: %s %s: status=%d want=%d body=%s", c.name, method, path, res.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s: decode %s %s: %v", c.name, method, path, err)
		}
	}
}

func assertUnread(c v1.ConversationPayload, a string, wantA int, b string, wantB int) {
	if c.UnreadCount[a] != wantA || c.UnreadCount[b] != wantB {
		fatalf("unread: got %v want {%s:%d %s:%d}", c.UnreadCount, a, wantA, b, wantB)
	}
}

func hasReceipt(m v1.MessagePayload, accountID string) bool {
	for _, r := range m.ReadBy {
		if r.AccountID == accountID {
			return true
		}
	}
	return false
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
