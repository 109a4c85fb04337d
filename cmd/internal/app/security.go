package app

import (
	"errors"
	"fmt"

	"orderdesk/cmd/internal/api"
	"orderdesk/cmd/security/token"
)

// NewTokenCodec builds the magic link token codec and enforces the pepper policy.
// Startup fails rather than silently falling back to unpeppered hashing when a
// pepper is required or configured but unusable.
func NewTokenCodec(cfg Config) (*token.Codec, error) {
	if cfg.TokenPepper == "" {
		if cfg.RequireTokenPepper {
			return nil, errors.New("security policy: ORDERDESK_REQUIRE_TOKEN_PEPPER=true but ORDERDESK_TOKEN_PEPPER is missing")
		}
		return token.NewCodec()
	}

	codec, err := token.NewCodec(token.WithPepper([]byte(cfg.TokenPepper)))
	switch {
	case errors.Is(err, token.ErrPepperTooShort):
		return nil, fmt.Errorf("security policy: ORDERDESK_TOKEN_PEPPER is too short (min %d bytes)", token.MinPepperBytes)
	case err != nil:
		return nil, err
	}
	if cfg.RequireTokenPepper && !codec.Peppered() {
		return nil, errors.New("security policy: token codec is not in HMAC mode")
	}
	return codec, nil
}

// NewStaffAuth builds the staff bearer token verifier.
func NewStaffAuth(cfg Config) (*api.StaffAuth, error) {
	if cfg.StaffJWTSecret == "" {
		return nil, errors.New("security policy: ORDERDESK_STAFF_JWT_SECRET is required")
	}
	return api.NewStaffAuth(api.StaffAuthConfig{
		Secret:   []byte(cfg.StaffJWTSecret),
		Issuer:   cfg.StaffJWTIssuer,
		Audience: cfg.StaffJWTAudience,
	})
}
