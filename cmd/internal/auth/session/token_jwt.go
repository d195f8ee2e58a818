package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenCodec mints and verifies the two token kinds.
//
// Access tokens are self-contained: VerifyAccess never consults the session
// store, so possession of a valid access token is authorization until it
// expires. Refresh envelopes carry only the session id; all other refresh
// state lives on the session row.
type TokenCodec interface {
	// IssueAccess mints a short-lived access token bound to userID.
	IssueAccess(userID string, now time.Time) (string, error)

	// IssueRefreshEnvelope mints a refresh envelope whose jti is sessionID.
	IssueRefreshEnvelope(sessionID string, now time.Time, ttl time.Duration) (string, error)

	// VerifyAccess returns the userID bound to a valid access token.
	VerifyAccess(token string, now time.Time) (string, error)

	// VerifyRefresh returns the sessionID carried by a valid refresh envelope.
	VerifyRefresh(token string, now time.Time) (string, error)
}

// hs256Codec signs both token kinds with HMAC-SHA256 under separate secrets.
type hs256Codec struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	leeway        time.Duration
}

// NewHS256Codec builds the production codec from a validated Config.
func NewHS256Codec(cfg Config) (TokenCodec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &hs256Codec{
		issuer:        cfg.Issuer,
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTokenTTL,
		leeway:        cfg.ClockSkew,
	}, nil
}

func (c *hs256Codec) IssueAccess(userID string, now time.Time) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("session: empty user id")
	}
	now = now.UTC()

	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
}

func (c *hs256Codec) IssueRefreshEnvelope(sessionID string, now time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("session: empty session id")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("session: non-positive refresh ttl")
	}
	now = now.UTC()

	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
}

func (c *hs256Codec) VerifyAccess(token string, now time.Time) (string, error) {
	claims, err := c.verify(token, c.accessSecret, now)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (c *hs256Codec) VerifyRefresh(token string, now time.Time) (string, error) {
	claims, err := c.verify(token, c.refreshSecret, now)
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", ErrInvalidToken
	}
	return claims.ID, nil
}

func (c *hs256Codec) verify(token string, secret []byte, now time.Time) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}

	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(func() time.Time { return now.UTC() }),
	)
	if err != nil {
		// Every verification failure looks the same to the caller.
		return nil, ErrInvalidToken
	}
	return claims, nil
}
