package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and for dev mode without a
// database. Its single mutex gives Replace the same atomicity the Postgres
// store gets from a row lock.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Row
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Row)}
}

func (m *MemoryStore) Create(ctx context.Context, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.ID] = row
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return row, nil
}

func (m *MemoryStore) Replace(ctx context.Context, oldID string, newRow Row, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.rows[oldID]
	if !ok {
		return ErrSessionNotFound
	}
	if old.Revoked() {
		return ErrSessionRevoked
	}

	revokedAt := now
	old.RevokedAt = &revokedAt
	newID := newRow.ID
	old.ReplacedBySessionID = &newID

	m.rows[oldID] = old
	m.rows[newRow.ID] = newRow
	return nil
}

func (m *MemoryStore) Revoke(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok || row.Revoked() {
		return nil
	}
	revokedAt := now
	row.RevokedAt = &revokedAt
	m.rows[id] = row
	return nil
}

func (m *MemoryStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, row := range m.rows {
		if row.UserID != userID || row.Revoked() {
			continue
		}
		revokedAt := now
		row.RevokedAt = &revokedAt
		m.rows[id] = row
		n++
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, row := range m.rows {
		if row.Expired(now) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// mutate applies fn to a row under the lock; tests use it to age or revoke
// rows directly.
func (m *MemoryStore) mutate(id string, fn func(*Row)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return false
	}
	fn(&row)
	m.rows[id] = row
	return true
}

// count returns live and total row counts, for tests.
func (m *MemoryStore) count(userID string) (live, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.UserID != userID {
			continue
		}
		total++
		if !row.Revoked() {
			live++
		}
	}
	return live, total
}
