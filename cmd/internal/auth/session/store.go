package session

import (
	"context"
	"time"
)

// Row is one refresh session. A row is live while RevokedAt is nil and
// ExpiresAt is in the future. ReplacedBySessionID records the rotation chain
// for audit; it is set exactly when the row was retired by a rotation.
type Row struct {
	ID                  string
	UserID              string
	RefreshTokenHash    string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
}

// Revoked reports whether the row has been revoked.
func (r Row) Revoked() bool { return r.RevokedAt != nil }

// Expired reports whether the row is past its expiry at now.
func (r Row) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// Store is the session persistence boundary.
//
// Replace is the one compound operation: it atomically retires the old row
// and creates its successor, and it is what serializes concurrent rotations
// of the same session. Implementations must guarantee that when two callers
// race on the same oldID, exactly one succeeds and the other observes
// ErrSessionRevoked.
type Store interface {
	// Create inserts a new live session row.
	Create(ctx context.Context, row Row) error

	// GetByID loads a row regardless of its state; ErrSessionNotFound when
	// absent.
	GetByID(ctx context.Context, id string) (Row, error)

	// Replace retires the row oldID (sets RevokedAt=now and
	// ReplacedBySessionID=newRow.ID) and inserts newRow, atomically.
	// Returns ErrSessionNotFound when oldID is absent and ErrSessionRevoked
	// when oldID is already revoked.
	Replace(ctx context.Context, oldID string, newRow Row, now time.Time) error

	// Revoke marks one row revoked. Revoking an already revoked or absent
	// row is a no-op so logout stays idempotent.
	Revoke(ctx context.Context, id string, now time.Time) error

	// RevokeAllForUser revokes every live session of a user and returns how
	// many rows changed.
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)

	// DeleteExpired removes rows whose expiry is at or before now and
	// returns how many were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
