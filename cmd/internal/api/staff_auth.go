package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinStaffSecretBytes is the minimum HS256 secret size.
const MinStaffSecretBytes = 32

const staffLeeway = 30 * time.Second

var (
	ErrStaffSecretTooShort = errors.New("staff jwt secret too short")
	ErrStaffTokenInvalid   = errors.New("staff token invalid")
)

// StaffAuthConfig defines how staff bearer tokens are minted and verified.
type StaffAuthConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Now      func() time.Time
}

// StaffAuth mints and verifies HS256 staff tokens whose subject is the staff id.
type StaffAuth struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewStaffAuth validates cfg.
func NewStaffAuth(cfg StaffAuthConfig) (*StaffAuth, error) {
	if len(cfg.Secret) < MinStaffSecretBytes {
		return nil, ErrStaffSecretTooShort
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &StaffAuth{
		secret:   append([]byte(nil), cfg.Secret...),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		now:      cfg.Now,
	}, nil
}

// Mint signs a token for staffID valid for ttl.
func (a *StaffAuth) Mint(staffID string, ttl time.Duration) (string, time.Time, error) {
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return "", time.Time{}, errors.New("staff id is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be positive")
	}
	now := a.now().UTC()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   staffID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign staff token: %w", err)
	}
	return signed, exp, nil
}

// Verify returns the staff id carried by raw.
func (a *StaffAuth) Verify(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrStaffTokenInvalid
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(staffLeeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStaffTokenInvalid, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrStaffTokenInvalid)
	}
	return sub, nil
}

type staffKey struct{}

// StaffID returns the authenticated staff id stored by RequireStaff.
func StaffID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(staffKey{}).(string)
	return id, ok && id != ""
}

// bearerToken reads the Authorization header. WebSocket handshakes may pass the
// token as access_token because browsers cannot set headers on upgrade.
func bearerToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

// RequireStaff rejects requests without a valid staff token.
func (a *StaffAuth) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="staff"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		staffID, err := a.Verify(tok)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="staff", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), staffKey{}, staffID)))
	})
}

// FeedIdentity adapts StaffID for handlers mounted behind RequireStaff.
func FeedIdentity(r *http.Request) (string, bool) {
	return StaffID(r.Context())
}
