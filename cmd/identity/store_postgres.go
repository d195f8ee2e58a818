package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// Design notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Schema identifiers are validated so they can be interpolated safely.
//   - ResolveExternal is fully transactional; a lost race on the
//     linked_accounts unique constraint is retried once as a plain lookup.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "passage").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
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
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = "id, email, email_norm, name, avatar_url, password_hash, created_at"

// Register creates a password-based user.
func (s *PostgresStore) Register(ctx context.Context, in RegisterInput) (User, error) {
	const op = "identity.Register"

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pwHash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	emailNorm := NormalizeEmail(email)
	u := User{
		ID:           userID,
		Email:        &email,
		EmailNorm:    &emailNorm,
		Name:         trimPtr(in.Name),
		AvatarURL:    trimPtr(in.AvatarURL),
		PasswordHash: &pwHash,
		CreatedAt:    now,
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.users (id, email, email_norm, name, avatar_url, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.schema), u.ID, u.Email, u.EmailNorm, u.Name, u.AvatarURL, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return u, nil
}

// GetUserByID loads a user row by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUserByID"

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s.users WHERE id = $1
	`, userColumns, s.schema), userID)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserByEmail loads a user row by normalized email, including the password hash.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s.users WHERE email_norm = $1
	`, userColumns, s.schema), NormalizeEmail(email))

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// ResolveExternal finds-or-creates the local user for an external identity.
func (s *PostgresStore) ResolveExternal(ctx context.Context, ident NormalizedIdentity, now time.Time) (User, error) {
	const op = "identity.ResolveExternal"

	provider := strings.ToLower(strings.TrimSpace(ident.Provider))
	providerID := strings.TrimSpace(ident.ProviderID)
	if provider == "" || providerID == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "provider and provider id are required"}
	}
	if trimPtr(ident.Email) == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Two concurrent first logins with the same external identity can race on
	// the linked_accounts unique constraint; the loser retries and resolves to
	// the winner's row.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		u, err := s.resolveExternalOnce(ctx, provider, providerID, ident, now)
		if err == nil {
			return u, nil
		}
		if !IsConflict(err) {
			return User{}, err
		}
		lastErr = err
	}
	return User{}, lastErr
}

func (s *PostgresStore) resolveExternalOnce(ctx context.Context, provider, providerID string, ident NormalizedIdentity, now time.Time) (User, error) {
	const op = "identity.ResolveExternal"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Case A: the external identity is already linked.
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT u.id, u.email, u.email_norm, u.name, u.avatar_url, u.password_hash, u.created_at
		FROM %s.linked_accounts la
		JOIN %s.users u ON u.id = la.user_id
		WHERE la.provider = $1 AND la.provider_id = $2
	`, s.schema, s.schema), provider, providerID)

	u, err := scanUser(row)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return User{}, err
		}
		return u, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return User{}, err
	}

	// Case B: a user with this email already exists; link, never overwrite
	// profile fields with provider data.
	emailNorm := NormalizeEmail(*ident.Email)
	row = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s.users WHERE email_norm = $1
	`, userColumns, s.schema), emailNorm)

	u, err = scanUser(row)
	switch {
	case err == nil:
		if err := s.insertLinkedAccountTx(ctx, tx, u.ID, provider, providerID, now); err != nil {
			return User{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return User{}, err
		}
		return u, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return User{}, err
	}

	// Case C: brand new user from the normalized identity.
	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(*ident.Email)
	u = User{
		ID:        userID,
		Email:     &email,
		EmailNorm: &emailNorm,
		Name:      trimPtr(ident.Name),
		AvatarURL: trimPtr(ident.AvatarURL),
		CreatedAt: now,
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.users (id, email, email_norm, name, avatar_url, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
	`, s.schema), u.ID, u.Email, u.EmailNorm, u.Name, u.AvatarURL, u.CreatedAt)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	if err := s.insertLinkedAccountTx(ctx, tx, u.ID, provider, providerID, now); err != nil {
		return User{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) insertLinkedAccountTx(ctx context.Context, tx pgx.Tx, userID, provider, providerID string, now time.Time) error {
	const op = "identity.ResolveExternal"

	id, err := NewULID(now)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.linked_accounts (id, user_id, provider, provider_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.schema), id, userID, provider, providerID, now)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.EmailNorm,
		&u.Name,
		&u.AvatarURL,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "provider"):
		return "linked_account", true
	default:
		return "unknown", true
	}
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
