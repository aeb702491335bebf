package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a dev-only account store used when no database is configured
// and by unit tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	profiles map[string]Profile
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[string]Account),
		profiles: make(map[string]Profile),
	}
}

// PutAccount inserts or replaces an account.
func (s *InMemoryStore) PutAccount(a Account) error {
	const op = "identity.PutAccount"

	a.ID = NormalizeID(a.ID)
	if a.ID == "" || !a.Role.Valid() || strings.TrimSpace(a.DisplayName) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.accounts[a.ID] = a
	s.mu.Unlock()
	return nil
}

// PutProfile registers a role profile. The owning account must exist and
// profile ids are unique across kinds.
func (s *InMemoryStore) PutProfile(p Profile) error {
	const op = "identity.PutProfile"

	p.ID = NormalizeID(p.ID)
	p.AccountID = NormalizeID(p.AccountID)
	if p.ID == "" || p.AccountID == "" {
		return OpError{Op: op, Kind: ErrInvalidInput}
	}
	if p.Kind != ProfileDriver && p.Kind != ProfileEmployer {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown profile kind"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[p.AccountID]; !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	if existing, ok := s.profiles[p.ID]; ok && existing.Kind != p.Kind {
		return ConflictError{Op: op, Field: "profile_id"}
	}
	s.profiles[p.ID] = p
	return nil
}

// GetAccount implements Store.
func (s *InMemoryStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.RLock()
	a, ok := s.accounts[NormalizeID(accountID)]
	s.mu.RUnlock()
	if !ok {
		return Account{}, NotFoundError{Op: "identity.GetAccount", Resource: "account"}
	}
	return a, nil
}

// GetProfile implements Store.
func (s *InMemoryStore) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	s.mu.RLock()
	p, ok := s.profiles[NormalizeID(profileID)]
	s.mu.RUnlock()
	if !ok {
		return Profile{}, NotFoundError{Op: "identity.GetProfile", Resource: "profile"}
	}
	return p, nil
}
