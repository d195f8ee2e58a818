package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// lockSessionTx loads a session row under FOR UPDATE so a concurrent Replace
// of the same session blocks until this transaction resolves.
func (s *PostgresStore) lockSessionTx(ctx context.Context, tx pgx.Tx, id string) (Row, error) {
	r := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s.sessions WHERE id = $1 FOR UPDATE
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

// markRotatedTx retires a locked row: revoked now, successor recorded.
func (s *PostgresStore) markRotatedTx(ctx context.Context, tx pgx.Tx, id, replacedBy string, now time.Time) error {
	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s.sessions
		SET revoked_at = $2, replaced_by_session_id = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, s.schema), id, now, replacedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionRevoked
	}
	return nil
}
