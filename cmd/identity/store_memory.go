package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and by dev mode when no
// database is configured. It mirrors the transactional outcomes of the
// Postgres store, including conflict classification.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]User          // by id
	byEmail  map[string]string        // email_norm -> user id
	accounts map[string]LinkedAccount // "provider\x00providerID" -> account
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		byEmail:  make(map[string]string),
		accounts: make(map[string]LinkedAccount),
	}
}

func accountKey(provider, providerID string) string {
	return provider + "\x00" + providerID
}

// Register creates a password-based user.
func (m *MemoryStore) Register(ctx context.Context, in RegisterInput) (User, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[emailNorm]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := User{
		ID:           userID,
		Email:        &email,
		EmailNorm:    &emailNorm,
		Name:         trimPtr(in.Name),
		AvatarURL:    trimPtr(in.AvatarURL),
		PasswordHash: &pwHash,
		CreatedAt:    now,
	}
	m.users[u.ID] = u
	m.byEmail[emailNorm] = u.ID
	return u, nil
}

// GetUserByID loads a user by id.
func (m *MemoryStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUserByID"

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}

// GetUserByEmail loads a user by normalized email.
func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return m.users[id], nil
}

// ResolveExternal finds-or-creates the local user for an external identity.
func (m *MemoryStore) ResolveExternal(ctx context.Context, ident NormalizedIdentity, now time.Time) (User, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	// Already linked.
	if acc, ok := m.accounts[accountKey(provider, providerID)]; ok {
		return m.users[acc.UserID], nil
	}

	// Same email: link to the existing user, keep its profile as is.
	emailNorm := NormalizeEmail(*ident.Email)
	if id, ok := m.byEmail[emailNorm]; ok {
		if err := m.linkLocked(id, provider, providerID, now); err != nil {
			return User{}, err
		}
		return m.users[id], nil
	}

	// New user from the normalized identity.
	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(*ident.Email)
	u := User{
		ID:        userID,
		Email:     &email,
		EmailNorm: &emailNorm,
		Name:      trimPtr(ident.Name),
		AvatarURL: trimPtr(ident.AvatarURL),
		CreatedAt: now,
	}
	m.users[u.ID] = u
	m.byEmail[emailNorm] = u.ID
	if err := m.linkLocked(u.ID, provider, providerID, now); err != nil {
		return User{}, err
	}
	return u, nil
}

func (m *MemoryStore) linkLocked(userID, provider, providerID string, now time.Time) error {
	id, err := NewULID(now)
	if err != nil {
		return err
	}
	m.accounts[accountKey(provider, providerID)] = LinkedAccount{
		ID:         id,
		UserID:     userID,
		Provider:   provider,
		ProviderID: providerID,
		CreatedAt:  now,
	}
	return nil
}

// LinkedAccounts returns the linked accounts for a user, for tests and the
// profile endpoint.
func (m *MemoryStore) LinkedAccounts(ctx context.Context, userID string) ([]LinkedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []LinkedAccount
	for _, acc := range m.accounts {
		if acc.UserID == userID {
			out = append(out, acc)
		}
	}
	return out, nil
}
