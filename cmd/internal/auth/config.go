package auth

import (
	"os"
	"strings"
	"time"
)

// Config defines token verification settings.
type Config struct {
	// Issuer is the required value of the "iss" claim.
	Issuer string

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4PublicKeyHex is the hex-encoded Ed25519 public key of the issuer.
	PasetoV4PublicKeyHex string
}

// DefaultConfig returns defaults suitable for development. The public key has
// no default.
func DefaultConfig() Config {
	return Config{
		Issuer:    "convoy",
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads verification settings from environment variables.
//
// Required:
//   - CONVOY_PASETO_V4_PUBLIC_KEY_HEX
//
// Optional:
//   - CONVOY_AUTH_ISSUER
//   - CONVOY_AUTH_CLOCK_SKEW (Go duration, >= 0)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("CONVOY_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv("CONVOY_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4PublicKeyHex = strings.TrimSpace(os.Getenv("CONVOY_PASETO_V4_PUBLIC_KEY_HEX"))
	if cfg.PasetoV4PublicKeyHex == "" {
		return Config{}, ErrConfig
	}
	return cfg, nil
}
