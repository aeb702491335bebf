package identity

import (
	"context"
	"errors"
)

// Resolver maps identifiers onto participant attributes.
// It has no side effects.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver over an account store.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, OpError{Op: "identity.NewResolver", Kind: ErrInvalidInput, Msg: "nil store"}
	}
	return &Resolver{store: store}, nil
}

// ResolveAccount resolves an account id. Unknown or deactivated accounts are ErrNotFound.
func (r *Resolver) ResolveAccount(ctx context.Context, accountID string) (Participant, error) {
	const op = "identity.ResolveAccount"

	accountID = NormalizeID(accountID)
	if accountID == "" {
		return Participant{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing account id"}
	}
	if err := ctx.Err(); err != nil {
		return Participant{}, err
	}

	acc, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return Participant{}, err
	}
	if !acc.IsActive {
		return Participant{}, NotFoundError{Op: op, Resource: "account"}
	}
	return toParticipant(acc), nil
}

// ResolveRecipient resolves an account id, or a driver/employer profile id
// redirected to its owning account.
func (r *Resolver) ResolveRecipient(ctx context.Context, identifier string) (Participant, error) {
	const op = "identity.ResolveRecipient"

	identifier = NormalizeID(identifier)
	if identifier == "" {
		return Participant{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing recipient"}
	}

	p, err := r.ResolveAccount(ctx, identifier)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Participant{}, err
	}

	prof, err := r.store.GetProfile(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Participant{}, NotFoundError{Op: op, Resource: "recipient"}
		}
		return Participant{}, err
	}
	return r.ResolveAccount(ctx, prof.AccountID)
}

func toParticipant(a Account) Participant {
	p := Participant{
		AccountID:   a.ID,
		Role:        a.Role,
		DisplayName: NormalizeDisplayName(a.DisplayName),
	}
	if a.AvatarRef != nil {
		p.AvatarRef = *a.AvatarRef
	}
	return p
}
