package messaging

import (
	"context"

	"convoy/cmd/identity"
)

// IdentityResolver adapts the account resolver to ParticipantResolver and
// translates its error kinds into this package's.
type IdentityResolver struct {
	r *identity.Resolver
}

// NewIdentityResolver wraps r.
func NewIdentityResolver(r *identity.Resolver) *IdentityResolver {
	return &IdentityResolver{r: r}
}

func (a *IdentityResolver) ResolveAccount(ctx context.Context, accountID string) (Participant, error) {
	p, err := a.r.ResolveAccount(ctx, accountID)
	if err != nil {
		return Participant{}, translateIdentityErr("identity.resolve_account", err)
	}
	return fromIdentity(p), nil
}

func (a *IdentityResolver) ResolveRecipient(ctx context.Context, identifier string) (Participant, error) {
	p, err := a.r.ResolveRecipient(ctx, identifier)
	if err != nil {
		return Participant{}, translateIdentityErr("identity.resolve_recipient", err)
	}
	return fromIdentity(p), nil
}

func fromIdentity(p identity.Participant) Participant {
	return Participant{
		AccountID:   p.AccountID,
		Role:        string(p.Role),
		DisplayName: p.DisplayName,
		AvatarRef:   p.AvatarRef,
	}
}

func translateIdentityErr(op string, err error) error {
	switch {
	case identity.IsNotFound(err):
		return OpError{Op: op, Kind: ErrNotFound, Msg: "account", Err: err}
	case identity.IsInvalidInput(err):
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid identifier", Err: err}
	default:
		return err
	}
}
