package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.RefreshSecret = []byte(strings.Repeat("r", 32))
	return cfg
}

func testCodec(t *testing.T) TokenCodec {
	t.Helper()
	codec, err := NewHS256Codec(testConfig())
	if err != nil {
		t.Fatalf("NewHS256Codec: %v", err)
	}
	return codec
}

func TestAccessTokenRoundTrip(t *testing.T) {
	t.Parallel()

	codec := testCodec(t)
	now := time.Now().UTC()

	tok, err := codec.IssueAccess("user-1", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	userID, err := codec.VerifyAccess(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("got user %q, want user-1", userID)
	}
}

func TestAccessTokenExpires(t *testing.T) {
	t.Parallel()

	codec := testCodec(t)
	now := time.Now().UTC()

	tok, err := codec.IssueAccess("user-1", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	_, err = codec.VerifyAccess(tok, now.Add(16*time.Minute))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestRefreshEnvelopeCarriesSessionID(t *testing.T) {
	t.Parallel()

	codec := testCodec(t)
	now := time.Now().UTC()

	tok, err := codec.IssueRefreshEnvelope("sess-abc", now, time.Hour)
	if err != nil {
		t.Fatalf("IssueRefreshEnvelope: %v", err)
	}

	sessionID, err := codec.VerifyRefresh(tok, now)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if sessionID != "sess-abc" {
		t.Fatalf("got session %q, want sess-abc", sessionID)
	}
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	t.Parallel()

	codec := testCodec(t)
	now := time.Now().UTC()

	access, err := codec.IssueAccess("user-1", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	refresh, err := codec.IssueRefreshEnvelope("sess-1", now, time.Hour)
	if err != nil {
		t.Fatalf("IssueRefreshEnvelope: %v", err)
	}

	if _, err := codec.VerifyRefresh(access, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
	if _, err := codec.VerifyAccess(refresh, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh envelope accepted as access: %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	codec := testCodec(t)
	now := time.Now().UTC()

	tok, err := codec.IssueAccess("user-1", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	tampered := tok[:len(tok)-2] + "xx"
	if _, err := codec.VerifyAccess(tampered, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token accepted: %v", err)
	}

	if _, err := codec.VerifyAccess("not-a-jwt", now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage accepted: %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	codec, err := NewHS256Codec(cfg)
	if err != nil {
		t.Fatalf("NewHS256Codec: %v", err)
	}

	other := cfg
	other.Issuer = "someone-else"
	otherCodec, err := NewHS256Codec(other)
	if err != nil {
		t.Fatalf("NewHS256Codec: %v", err)
	}

	now := time.Now().UTC()
	tok, err := otherCodec.IssueAccess("user-1", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	if _, err := codec.VerifyAccess(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token from foreign issuer accepted: %v", err)
	}
}

func TestVerifyAllowsClockSkewWithinLeeway(t *testing.T) {
	t.Parallel()

	codec := testCodec(t)
	now := time.Now().UTC()

	tok, err := codec.IssueAccess("user-1", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	// 10s behind the issuer is inside the default 30s leeway.
	if _, err := codec.VerifyAccess(tok, now.Add(-10*time.Second)); err != nil {
		t.Fatalf("token rejected within leeway: %v", err)
	}
}
