package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL. Replace serializes
// concurrent rotations of one session with a row lock; the loser sees the
// row already revoked and gets ErrSessionRevoked.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the session store (default "passage").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore. The pool is owned by the
// caller and must not be closed by this store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "passage",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

const sessionColumns = "id, user_id, refresh_token_hash, created_at, expires_at, revoked_at, replaced_by_session_id"

func (s *PostgresStore) Create(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.sessions (id, user_id, refresh_token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.schema), row.ID, row.UserID, row.RefreshTokenHash, row.CreatedAt, row.ExpiresAt)
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Row, error) {
	r := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s.sessions WHERE id = $1
	`, sessionColumns, s.schema), id)

	row, err := scanSession(r)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

func (s *PostgresStore) Replace(ctx context.Context, oldID string, newRow Row, now time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := s.lockSessionTx(ctx, tx, oldID)
	if err != nil {
		return err
	}
	if old.Revoked() {
		return ErrSessionRevoked
	}

	if err := s.markRotatedTx(ctx, tx, oldID, newRow.ID, now); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.sessions (id, user_id, refresh_token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.schema), newRow.ID, newRow.UserID, newRow.RefreshTokenHash, newRow.CreatedAt, newRow.ExpiresAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) error {
	// Revoking an absent or already revoked row changes nothing; logout is
	// idempotent.
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s.sessions SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, s.schema), id, now)
	return err
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s.sessions SET revoked_at = COALESCE(revoked_at, $2)
		WHERE user_id = $1 AND revoked_at IS NULL
	`, s.schema), userID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s.sessions WHERE expires_at <= $1
	`, s.schema), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSession(r pgx.Row) (Row, error) {
	var row Row
	err := r.Scan(
		&row.ID,
		&row.UserID,
		&row.RefreshTokenHash,
		&row.CreatedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
	)
	if err != nil {
		return Row{}, err
	}
	return row, nil
}
