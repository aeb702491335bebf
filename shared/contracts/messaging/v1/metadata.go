package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Metadata is the typed payload attached to a message.
// The concrete variant is selected by MessageType; TypeText carries none.
type Metadata interface {
	MessageType() MessageType
	Validate() error
}

// OfferLink points at a job offer discussed in the conversation.
type OfferLink struct {
	OfferID string `json:"offer_id"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (OfferLink) MessageType() MessageType { return TypeOfferLink }

func (m OfferLink) Validate() error {
	if strings.TrimSpace(m.OfferID) == "" {
		return errors.New("offer_link: missing offer_id")
	}
	if len(m.Title) > 200 {
		return errors.New("offer_link: title too long")
	}
	return nil
}

// ContactInfo shares a phone number and/or email address.
type ContactInfo struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

func (ContactInfo) MessageType() MessageType { return TypeContactInfo }

func (m ContactInfo) Validate() error {
	if strings.TrimSpace(m.Phone) == "" && strings.TrimSpace(m.Email) == "" {
		return errors.New("contact_info: phone or email required")
	}
	if m.Email != "" && !strings.Contains(m.Email, "@") {
		return errors.New("contact_info: invalid email")
	}
	return nil
}

// SystemNote describes a server-generated event.
type SystemNote struct {
	Event     string `json:"event"`
	RelatedID string `json:"related_id,omitempty"`
}

func (SystemNote) MessageType() MessageType { return TypeSystem }

func (m SystemNote) Validate() error {
	if strings.TrimSpace(m.Event) == "" {
		return errors.New("system: missing event")
	}
	return nil
}

// CheckMetadata enforces the type/payload pairing:
//   - text: no metadata
//   - offer_link, contact_info: matching payload required
//   - system: matching payload optional
func CheckMetadata(t MessageType, m Metadata) error {
	if !t.Valid() {
		return fmt.Errorf("unknown message type: %q", t)
	}
	if m == nil {
		switch t {
		case TypeOfferLink, TypeContactInfo:
			return fmt.Errorf("%s: metadata required", t)
		default:
			return nil
		}
	}
	if t == TypeText {
		return errors.New("text: metadata not allowed")
	}
	if m.MessageType() != t {
		return fmt.Errorf("metadata variant %q does not match type %q", m.MessageType(), t)
	}
	return m.Validate()
}

// DecodeMetadata decodes raw JSON into the variant selected by t.
// Empty or null input yields nil.
func DecodeMetadata(t MessageType, raw json.RawMessage) (Metadata, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var (
		m   Metadata
		err error
	)
	switch t {
	case TypeOfferLink:
		var v OfferLink
		err = strictUnmarshal(trimmed, &v)
		m = v
	case TypeContactInfo:
		var v ContactInfo
		err = strictUnmarshal(trimmed, &v)
		m = v
	case TypeSystem:
		var v SystemNote
		err = strictUnmarshal(trimmed, &v)
		m = v
	case TypeText:
		return nil, errors.New("text: metadata not allowed")
	default:
		return nil, fmt.Errorf("unknown message type: %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: decode metadata: %w", t, err)
	}
	return m, nil
}

// EncodeMetadata encodes m for storage or transport. Nil yields nil.
func EncodeMetadata(m Metadata) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func strictUnmarshal(b []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
