package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	svc, err := NewService(store, testCodec(t), testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestIssueCreatesLiveSession(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}

	row, err := store.GetByID(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.Revoked() {
		t.Fatal("fresh session is revoked")
	}
	if row.RefreshTokenHash == pair.RefreshToken {
		t.Fatal("refresh token stored unhashed")
	}
	if !refreshHashMatches(pair.RefreshToken, row.RefreshTokenHash) {
		t.Fatal("stored hash does not match issued token")
	}

	userID, err := svc.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("access token bound to %q", userID)
	}
}

func TestEachLoginGetsItsOwnSession(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	a, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if a.SessionID == b.SessionID {
		t.Fatal("two logins shared a session")
	}

	live, total := store.count("user-1")
	if live != 2 || total != 2 {
		t.Fatalf("live=%d total=%d, want 2/2", live, total)
	}
}

func TestRotateRetiresOldSession(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next, err := svc.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if next.SessionID == pair.SessionID {
		t.Fatal("rotation reused the session id")
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation reissued the same refresh token")
	}
	if next.UserID != "user-1" {
		t.Fatalf("rotated pair bound to %q", next.UserID)
	}

	old, err := store.GetByID(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("GetByID(old): %v", err)
	}
	if !old.Revoked() {
		t.Fatal("old session still live after rotation")
	}
	if old.ReplacedBySessionID == nil || *old.ReplacedBySessionID != next.SessionID {
		t.Fatalf("rotation chain not recorded: %v", old.ReplacedBySessionID)
	}

	// New credential keeps working.
	if _, err := svc.Rotate(ctx, next.RefreshToken); err != nil {
		t.Fatalf("second Rotate: %v", err)
	}
}

func TestRotateWithRetiredTokenRevokesEverything(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	stolen, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	other, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Legitimate client rotates; the attacker now replays the retired token.
	if _, err := svc.Rotate(ctx, stolen.RefreshToken); err != nil {
		t.Fatalf("legit Rotate: %v", err)
	}

	_, err = svc.Rotate(ctx, stolen.RefreshToken)
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}

	// Every session of the user is gone, including the untouched one.
	live, _ := store.count("user-1")
	if live != 0 {
		t.Fatalf("%d sessions still live after cascade", live)
	}

	if _, err := svc.Rotate(ctx, other.RefreshToken); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("revoked bystander session should cascade too, got %v", err)
	}
}

func TestRotateConcurrentDoubleSpend(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Rotate(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	var ok, reuse int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrReuseDetected):
			reuse++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || reuse != 1 {
		t.Fatalf("got %d successes and %d reuse errors, want exactly 1/1", ok, reuse)
	}

	// The loser cascaded, so even the winner's fresh session is revoked.
	live, _ := store.count("user-1")
	if live != 0 {
		t.Fatalf("%d sessions live after concurrent double spend", live)
	}
}

func TestRotateExpiredSession(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if !store.mutate(pair.SessionID, func(r *Row) {
		r.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	}) {
		t.Fatal("session row missing")
	}

	if _, err := svc.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestRotateRejectsHashMismatchWithoutCascade(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Same session id, different stored hash: the presented envelope was not
	// the one this row was created with.
	if !store.mutate(pair.SessionID, func(r *Row) {
		r.RefreshTokenHash = "deadbeef"
	}) {
		t.Fatal("session row missing")
	}

	if _, err := svc.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	// A mismatch is not proof of theft; the session survives.
	live, _ := store.count("user-1")
	if live != 1 {
		t.Fatalf("%d sessions live, want 1", live)
	}
}

func TestRotateUnknownSession(t *testing.T) {
	t.Parallel()

	svc, _ := testService(t)
	ctx := context.Background()

	codec := testCodec(t)
	tok, err := codec.IssueRefreshEnvelope("never-stored", time.Now().UTC(), time.Hour)
	if err != nil {
		t.Fatalf("IssueRefreshEnvelope: %v", err)
	}

	if _, err := svc.Rotate(ctx, tok); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRotateGarbageToken(t *testing.T) {
	t.Parallel()

	svc, _ := testService(t)

	if _, err := svc.Rotate(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("first Logout: %v", err)
	}

	row, err := store.GetByID(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !row.Revoked() {
		t.Fatal("session still live after logout")
	}

	// Repeats, garbage, and unknown sessions all succeed silently.
	if err := svc.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("repeat Logout: %v", err)
	}
	if err := svc.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("garbage Logout: %v", err)
	}

	codec := testCodec(t)
	tok, _ := codec.IssueRefreshEnvelope("never-stored", time.Now().UTC(), time.Hour)
	if err := svc.Logout(ctx, tok); err != nil {
		t.Fatalf("unknown-session Logout: %v", err)
	}
}

func TestLogoutDoesNotCascade(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	a, _ := svc.Issue(ctx, "user-1")
	if _, err := svc.Issue(ctx, "user-1"); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Logout(ctx, a.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	live, _ := store.count("user-1")
	if live != 1 {
		t.Fatalf("%d sessions live after single logout, want 1", live)
	}
}

func TestLogoutAll(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Issue(ctx, "user-1"); err != nil {
			t.Fatalf("Issue: %v", err)
		}
	}
	other, err := svc.Issue(ctx, "user-2")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	n, err := svc.LogoutAll(ctx, "user-1")
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked %d sessions, want 3", n)
	}

	// Other users are untouched.
	if _, err := svc.Rotate(ctx, other.RefreshToken); err != nil {
		t.Fatalf("user-2 rotation failed after user-1 logout: %v", err)
	}
	if live, _ := store.count("user-1"); live != 0 {
		t.Fatalf("%d user-1 sessions still live", live)
	}
}

func TestValidateAccessRejectsRefreshEnvelope(t *testing.T) {
	t.Parallel()

	svc, _ := testService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.ValidateAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh envelope accepted as access token: %v", err)
	}
}

func TestValidateAccessSurvivesRevocation(t *testing.T) {
	t.Parallel()

	svc, _ := testService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.LogoutAll(ctx, "user-1"); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}

	// Access tokens are stateless; revocation only bites at the next refresh.
	if _, err := svc.ValidateAccess(pair.AccessToken); err != nil {
		t.Fatalf("access token rejected after revocation: %v", err)
	}
}

func TestDeleteExpiredSweepsOnlyExpiredRows(t *testing.T) {
	t.Parallel()

	svc, store := testService(t)
	ctx := context.Background()

	keep, _ := svc.Issue(ctx, "user-1")
	gone, _ := svc.Issue(ctx, "user-1")

	store.mutate(gone.SessionID, func(r *Row) {
		r.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	})

	n, err := svc.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d rows, want 1", n)
	}

	if _, err := store.GetByID(ctx, gone.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired row survived: %v", err)
	}
	if _, err := store.GetByID(ctx, keep.SessionID); err != nil {
		t.Fatalf("live row swept: %v", err)
	}
}
