package session

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Env vars read by LoadConfigFromEnv.
const (
	EnvAccessTokenSecret  = "PASSAGE_ACCESS_TOKEN_SECRET"
	EnvRefreshTokenSecret = "PASSAGE_REFRESH_TOKEN_SECRET"
	EnvTokenIssuer        = "PASSAGE_TOKEN_ISSUER"
	EnvAccessTokenTTL     = "PASSAGE_ACCESS_TOKEN_TTL"
	EnvRefreshTokenTTL    = "PASSAGE_REFRESH_TOKEN_TTL"
)

const minSecretLen = 32

// Config carries everything the token codec and service need.
// Access and refresh tokens are signed with separate secrets so a leaked
// access secret cannot mint refresh credentials.
type Config struct {
	Issuer          string
	AccessSecret    []byte
	RefreshSecret   []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ClockSkew is the verification leeway applied to token time claims.
	ClockSkew time.Duration
}

// DefaultConfig returns the TTL and leeway defaults; secrets must still be
// provided before the config validates.
func DefaultConfig() Config {
	return Config{
		Issuer:          "passage",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// Validate checks the config for use with the HS256 codec.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	}
	if len(c.AccessSecret) < minSecretLen {
		return fmt.Errorf("%w: %s must be at least %d bytes", ErrConfig, EnvAccessTokenSecret, minSecretLen)
	}
	if len(c.RefreshSecret) < minSecretLen {
		return fmt.Errorf("%w: %s must be at least %d bytes", ErrConfig, EnvRefreshTokenSecret, minSecretLen)
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("%w: token TTLs must be positive", ErrConfig)
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("%w: access TTL must be shorter than refresh TTL", ErrConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: clock skew must not be negative", ErrConfig)
	}
	return nil
}

// LoadConfigFromEnv builds a Config from the environment on top of
// DefaultConfig. Both secrets are mandatory.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.AccessSecret = []byte(strings.TrimSpace(os.Getenv(EnvAccessTokenSecret)))
	cfg.RefreshSecret = []byte(strings.TrimSpace(os.Getenv(EnvRefreshTokenSecret)))

	if v := strings.TrimSpace(os.Getenv(EnvTokenIssuer)); v != "" {
		cfg.Issuer = v
	}

	var err error
	if cfg.AccessTokenTTL, err = envDuration(EnvAccessTokenTTL, cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = envDuration(EnvRefreshTokenTTL, cfg.RefreshTokenTTL); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrConfig, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrConfig, key)
	}
	return d, nil
}
