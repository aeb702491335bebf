package auth

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the identity envelope carried by an access token.
type Claims struct {
	AccountID string
	SessionID string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// Verifier checks access tokens.
type Verifier interface {
	Verify(token string, now time.Time) (Claims, error)
}

type pasetoV4PublicVerifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicVerifier builds a Verifier for PASETO v4.public tokens.
//
// It enforces issuer and expiration rules. Clock skew is applied during
// verification via ValidAt to tolerate minor clock differences.
func NewPasetoV4PublicVerifier(cfg Config) (Verifier, error) {
	public, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(cfg.PasetoV4PublicKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	if strings.TrimSpace(cfg.Issuer) == "" || cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}
	return &pasetoV4PublicVerifier{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		public:    public,
	}, nil
}

func (v *pasetoV4PublicVerifier) Verify(token string, now time.Time) (Claims, error) {
	// Validate slightly in the future to avoid failing "nbf" when clocks differ.
	validNow := now.Add(v.clockSkew)

	// Build a fresh parser per call to avoid accumulating rules across verifies.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(v.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return Claims{}, ErrInvalidToken
	}
	// Session id is optional for API access.
	sid, _ := parsed.GetString("sid")

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		AccountID: strings.TrimSpace(uid),
		SessionID: sid,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}
