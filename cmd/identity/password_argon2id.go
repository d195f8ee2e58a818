package identity

import (
	"passage/cmd/security/password"
)

// Password hashing facade.
//
// identity delegates to cmd/security/password as the single source of truth
// for Argon2id parameters and policy, so env-driven tuning cannot drift
// between registration and login.

func passwordConfig() password.Config {
	cfg, err := password.FromEnv()
	if err != nil {
		// FromEnv only fails on malformed env overrides; fall back to defaults
		// rather than making login impossible.
		cfg = password.DefaultConfig()
	}
	return cfg
}

// HashPassword returns a PHC-style Argon2id hash string.
func HashPassword(plain string) (string, error) {
	return passwordConfig().Hash(plain)
}

// VerifyPassword checks plain against an encoded Argon2id hash.
func VerifyPassword(plain, encodedHash string) (bool, error) {
	return passwordConfig().Verify(encodedHash, plain)
}
