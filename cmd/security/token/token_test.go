package token

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestCodec_IssueAndVerify(t *testing.T) {
	t.Parallel()

	c, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	raw, hash, err := c.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(raw) != RawLen {
		t.Fatalf("raw len=%d want=%d", len(raw), RawLen)
	}
	if len(hash) != HashLen {
		t.Fatalf("hash len=%d want=%d", len(hash), HashLen)
	}
	if !WellFormed(raw) {
		t.Fatalf("issued token not well formed: %q", raw)
	}
	if !c.Verify(raw, hash) {
		t.Fatalf("expected verify ok")
	}
	if c.Verify(raw+"x", hash) {
		t.Fatalf("expected verify to fail for a different token")
	}
	if strings.Contains(hash, raw) {
		t.Fatalf("hash must not embed the raw token")
	}
}

func TestCodec_HashDeterministic(t *testing.T) {
	t.Parallel()

	var zero Codec
	a := zero.Hash("abc")
	b := zero.Hash("abc")
	if a != b {
		t.Fatalf("hash not deterministic: %q != %q", a, b)
	}
	// SHA-256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if a != want {
		t.Fatalf("Hash(abc)=%q want=%q", a, want)
	}
}

func TestCodec_Pepper(t *testing.T) {
	t.Parallel()

	if _, err := NewCodec(WithPepper(nil)); !errors.Is(err, ErrPepperMissing) {
		t.Fatalf("expected ErrPepperMissing, got %v", err)
	}
	if _, err := NewCodec(WithPepper([]byte("short"))); !errors.Is(err, ErrPepperTooShort) {
		t.Fatalf("expected ErrPepperTooShort, got %v", err)
	}

	pepper := bytes.Repeat([]byte("k"), MinPepperBytes)
	peppered, err := NewCodec(WithPepper(pepper))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if !peppered.Peppered() {
		t.Fatalf("expected peppered mode")
	}
	plain, _ := NewCodec()
	if peppered.Hash("abc") == plain.Hash("abc") {
		t.Fatalf("peppered hash must differ from plain SHA-256")
	}
	if len(peppered.Hash("abc")) != HashLen {
		t.Fatalf("peppered hash must keep the hex length")
	}
}

func TestCodec_WithRandom(t *testing.T) {
	t.Parallel()

	c, err := NewCodec(WithRandom(bytes.NewReader(make([]byte, RawBytes))))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	raw, _, err := c.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if raw != strings.Repeat("A", RawLen) {
		t.Fatalf("unexpected raw token %q", raw)
	}
	if _, _, err := c.Issue(); err == nil {
		t.Fatalf("expected exhausted entropy source to fail")
	}
}

func TestWellFormed(t *testing.T) {
	t.Parallel()

	valid := strings.Repeat("a", RawLen)
	cases := []struct {
		in   string
		want bool
	}{
		{in: valid, want: true},
		{in: "", want: false},
		{in: valid[:RawLen-1], want: false},
		{in: valid + "a", want: false},
		{in: strings.Repeat("a", RawLen-1) + " ", want: false},
		{in: strings.Repeat("a", RawLen-1) + "=", want: false},
		{in: strings.Repeat("x", 4096), want: false},
	}
	for _, tc := range cases {
		if got := WellFormed(tc.in); got != tc.want {
			t.Fatalf("WellFormed(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestPrefix(t *testing.T) {
	t.Parallel()

	if got := Prefix("0123456789abcdef"); got != "01234567" {
		t.Fatalf("Prefix=%q", got)
	}
	if got := Prefix("abc"); got != "abc" {
		t.Fatalf("Prefix short=%q", got)
	}
}
