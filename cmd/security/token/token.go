package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// RawBytes is the entropy of a raw token in bytes (256 bits).
	RawBytes = 32

	// RawLen is the encoded length of a raw token (base64url, no padding).
	RawLen = 43

	// HashLen is the length of a hex-encoded token hash.
	HashLen = 64

	// PrefixLen is the number of hash characters safe to log or audit.
	PrefixLen = 8

	// MinPepperBytes is the minimum pepper size accepted in peppered mode.
	MinPepperBytes = 32

	maxRawInput = 512

	hkdfInfo = "orderdesk magic-link v1"
)

// Codec issues raw tokens and derives their lookup hashes.
// The zero value is ready to use in SHA-256 mode.
type Codec struct {
	key []byte
	rnd io.Reader
}

// Option configures a Codec.
type Option func(*Codec) error

// WithPepper enables HMAC mode. The HMAC key is derived from pepper with HKDF-SHA256
// so the configured secret is never used directly as a MAC key.
func WithPepper(pepper []byte) Option {
	return func(c *Codec) error {
		if len(pepper) == 0 {
			return ErrPepperMissing
		}
		if len(pepper) < MinPepperBytes {
			return ErrPepperTooShort
		}
		key := make([]byte, sha256.Size)
		if _, err := io.ReadFull(hkdf.New(sha256.New, pepper, nil, []byte(hkdfInfo)), key); err != nil {
			return err
		}
		c.key = key
		return nil
	}
}

// WithRandom overrides the entropy source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) error {
		if r != nil {
			c.rnd = r
		}
		return nil
	}
}

// NewCodec constructs a Codec.
func NewCodec(opts ...Option) (*Codec, error) {
	c := &Codec{rnd: rand.Reader}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Peppered reports whether the codec runs in HMAC mode.
func (c *Codec) Peppered() bool { return c != nil && len(c.key) > 0 }

// Issue returns a fresh raw token and its lookup hash.
func (c *Codec) Issue() (raw string, hash string, err error) {
	r := io.Reader(rand.Reader)
	if c != nil && c.rnd != nil {
		r = c.rnd
	}
	b := make([]byte, RawBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, c.Hash(raw), nil
}

// Hash derives the hex lookup hash of raw.
func (c *Codec) Hash(raw string) string {
	if c == nil || len(c.key) == 0 {
		sum := sha256.Sum256([]byte(raw))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, c.key)
	_, _ = m.Write([]byte(raw))
	return hex.EncodeToString(m.Sum(nil))
}

// Verify recomputes the hash of raw and compares it with hash in constant time.
func (c *Codec) Verify(raw, hash string) bool {
	got := c.Hash(raw)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(hash))) == 1
}

// WellFormed reports whether raw could have been produced by Issue.
// Inputs that fail are never looked up.
func WellFormed(raw string) bool {
	if raw == "" || len(raw) > maxRawInput {
		return false
	}
	if len(raw) != RawLen {
		return false
	}
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			return false
		}
	}
	return true
}

// Prefix returns the loggable prefix of a token hash.
func Prefix(hash string) string {
	if len(hash) <= PrefixLen {
		return hash
	}
	return hash[:PrefixLen]
}
