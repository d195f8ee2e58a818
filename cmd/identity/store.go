package identity

import (
	"context"
	"time"
)

// User is Passage's canonical security principal.
// PasswordHash is nil for users created through an external provider only;
// it must never cross the API boundary.
type User struct {
	ID           string
	Email        *string
	EmailNorm    *string
	Name         *string
	AvatarURL    *string
	PasswordHash *string
	CreatedAt    time.Time
}

// LinkedAccount binds one external-provider identity to a User.
// The pair (Provider, ProviderID) is globally unique: at most one row per
// external identity. Rows are created during external login and never mutated.
type LinkedAccount struct {
	ID         string
	UserID     string
	Provider   string
	ProviderID string
	CreatedAt  time.Time
}

// NormalizedIdentity is the profile an identity provider produced at its own
// boundary. The resolver never branches on which provider built it.
type NormalizedIdentity struct {
	Provider   string
	ProviderID string
	Email      *string
	Name       *string
	AvatarURL  *string
}

// RegisterInput describes a password-based registration request.
type RegisterInput struct {
	Email     string
	Name      *string
	AvatarURL *string
	Password  string
	Now       time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	// Register creates a password-based user.
	// A taken email yields a ConflictError (field "email").
	Register(ctx context.Context, in RegisterInput) (User, error)

	// GetUserByID loads a user by id; ErrNotFound when absent.
	GetUserByID(ctx context.Context, userID string) (User, error)

	// GetUserByEmail loads a user by normalized email, including the password
	// hash for credential verification; ErrNotFound when absent.
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// ResolveExternal finds-or-creates the local user for an external
	// identity inside one atomic unit of work:
	//   - an existing LinkedAccount for (provider, providerID) resolves to
	//     its owner;
	//   - else an existing user with the same email gains a new
	//     LinkedAccount, profile fields untouched;
	//   - else a new user and LinkedAccount are created from the identity.
	// The identity must carry an email (ErrInvalidInput otherwise).
	ResolveExternal(ctx context.Context, ident NormalizedIdentity, now time.Time) (User, error)
}
