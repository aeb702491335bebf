// Package v1 defines the Convoy messaging contract v1.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and its clients to keep message types,
// content rules and metadata payloads authoritative.
package v1

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Version is the contract version identifier.
const Version = "v1"

// Content rules (wire-stable).
const (
	// MaxContentChars is the maximum message length in runes after trimming.
	MaxContentChars = 1000

	// PreviewChars bounds the conversation last-message snapshot.
	PreviewChars = 100

	// DeletedPlaceholder replaces the content of a soft-deleted message.
	DeletedPlaceholder = "Ce message a été supprimé"
)

var (
	// ErrEmptyContent is returned for empty or whitespace-only content.
	ErrEmptyContent = errors.New("content is empty")

	// ErrContentTooLong is returned when content exceeds MaxContentChars.
	ErrContentTooLong = errors.New("content too long")
)

// MessageType governs which metadata payload a message may carry.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeSystem      MessageType = "system"
	TypeOfferLink   MessageType = "offer_link"
	TypeContactInfo MessageType = "contact_info"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeSystem, TypeOfferLink, TypeContactInfo:
		return true
	default:
		return false
	}
}

// ParseMessageType parses a wire value. Empty defaults to TypeText.
func ParseMessageType(s string) (MessageType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TypeText, nil
	}
	t := MessageType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown message type: %q", s)
	}
	return t, nil
}

// ContextKind describes why a conversation exists.
type ContextKind string

const (
	ContextProfileContact   ContextKind = "profile_contact"
	ContextOfferApplication ContextKind = "offer_application"
	ContextDirectOffer      ContextKind = "direct_offer"
	ContextGeneral          ContextKind = "general"
)

// Valid reports whether k is a known context kind.
func (k ContextKind) Valid() bool {
	switch k {
	case ContextProfileContact, ContextOfferApplication, ContextDirectOffer, ContextGeneral:
		return true
	default:
		return false
	}
}

// ParseContextKind parses a wire value. Empty defaults to ContextGeneral.
func ParseContextKind(s string) (ContextKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ContextGeneral, nil
	}
	k := ContextKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown context kind: %q", s)
	}
	return k, nil
}

// NormalizeContent trims content and enforces the 1..MaxContentChars rune window.
func NormalizeContent(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(s) > MaxContentChars {
		return "", ErrContentTooLong
	}
	return s, nil
}

// Preview truncates content to PreviewChars runes.
func Preview(s string) string {
	if utf8.RuneCountInString(s) <= PreviewChars {
		return s
	}
	r := []rune(s)
	return string(r[:PreviewChars])
}
