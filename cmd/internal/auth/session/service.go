package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TokenPair is what a successful issue or rotation hands the transport
// layer: both credentials plus the metadata it needs for cookies and bodies.
type TokenPair struct {
	UserID           string
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Service owns the credential lifecycle on top of a Store and a TokenCodec.
// It is safe for concurrent use when its Store is.
type Service struct {
	store Store
	codec TokenCodec

	accessTTL  time.Duration
	refreshTTL time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewService wires a Service from a validated Config.
func NewService(store Store, codec TokenCodec, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || codec == nil {
		return nil, ErrConfig
	}
	return &Service{
		store:      store,
		codec:      codec,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue starts a brand new session for userID and returns its token pair.
// Every login gets its own session row; logins never share refresh state.
func (s *Service) Issue(ctx context.Context, userID string) (TokenPair, error) {
	now := s.now()

	row, refresh, err := s.mintSessionRow(userID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.Create(ctx, row); err != nil {
		return TokenPair{}, err
	}

	return s.pairFor(row, refresh, now)
}

// Rotate exchanges a live refresh credential for a fresh token pair and
// retires the presented one.
//
// Presenting a credential whose session row is already revoked is treated as
// theft: every session of that user is revoked and ErrReuseDetected is
// returned. The same applies when Rotate loses the race against a concurrent
// rotation of the same session; the row it tried to retire is revoked by
// then, and cascading is the safe read of that situation.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (TokenPair, error) {
	now := s.now()

	sessionID, err := s.codec.VerifyRefresh(refreshToken, now)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	row, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return TokenPair{}, err
	}

	if row.Revoked() {
		return TokenPair{}, s.cascade(ctx, row.UserID, now)
	}
	if row.Expired(now) {
		return TokenPair{}, ErrSessionExpired
	}
	if !refreshHashMatches(refreshToken, row.RefreshTokenHash) {
		// Valid signature, wrong string for this row. Someone is holding a
		// credential this session never issued.
		return TokenPair{}, ErrInvalidToken
	}

	newRow, refresh, err := s.mintSessionRow(row.UserID, now)
	if err != nil {
		return TokenPair{}, err
	}

	switch err := s.store.Replace(ctx, row.ID, newRow, now); {
	case err == nil:
	case errors.Is(err, ErrSessionRevoked):
		// Lost a concurrent rotation on the same session.
		return TokenPair{}, s.cascade(ctx, row.UserID, now)
	default:
		return TokenPair{}, err
	}

	return s.pairFor(newRow, refresh, now)
}

// Logout revokes the session behind a refresh credential. It is idempotent:
// invalid, unknown, expired, and already revoked credentials all succeed
// silently. Only infrastructure failures surface.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	now := s.now()

	sessionID, err := s.codec.VerifyRefresh(refreshToken, now)
	if err != nil {
		return nil
	}

	row, err := s.store.GetByID(ctx, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return nil
	case err != nil:
		return err
	}

	if !refreshHashMatches(refreshToken, row.RefreshTokenHash) {
		return nil
	}
	return s.store.Revoke(ctx, row.ID, now)
}

// LogoutAll revokes every session of a user, for account-wide sign out.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	return s.store.RevokeAllForUser(ctx, userID, s.now())
}

// ValidateAccess checks an access token and returns the user id it is bound
// to. It is purely computational; the store is never consulted.
func (s *Service) ValidateAccess(token string) (string, error) {
	return s.codec.VerifyAccess(token, s.now())
}

// DeleteExpired sweeps expired session rows; the app runs this periodically.
func (s *Service) DeleteExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

func (s *Service) mintSessionRow(userID string, now time.Time) (Row, string, error) {
	sessionID := uuid.NewString()

	refresh, err := s.codec.IssueRefreshEnvelope(sessionID, now, s.refreshTTL)
	if err != nil {
		return Row{}, "", err
	}

	return Row{
		ID:               sessionID,
		UserID:           userID,
		RefreshTokenHash: hashRefreshTokenHex(refresh),
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.refreshTTL),
	}, refresh, nil
}

func (s *Service) pairFor(row Row, refresh string, now time.Time) (TokenPair, error) {
	access, err := s.codec.IssueAccess(row.UserID, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		UserID:           row.UserID,
		SessionID:        row.ID,
		AccessToken:      access,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshToken:     refresh,
		RefreshExpiresAt: row.ExpiresAt,
	}, nil
}

func (s *Service) cascade(ctx context.Context, userID string, now time.Time) error {
	if _, err := s.store.RevokeAllForUser(ctx, userID, now); err != nil {
		return err
	}
	return ErrReuseDetected
}
