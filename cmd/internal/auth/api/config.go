package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// ClientURL is the frontend origin OAuth callbacks redirect back to.
	ClientURL string

	TrustProxy   bool
	MaxBodyBytes int64

	RefreshCookieName string
	StateCookieName   string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

// LoadConfigFromEnv loads auth config from environment variables with safe
// defaults. The refresh cookie is host-only, httpOnly, and SameSite=Strict
// unless overridden.
func LoadConfigFromEnv() Config {
	cfg := Config{
		ClientURL:         strings.TrimRight(envStr("PASSAGE_CLIENT_URL", "http://localhost:5173"), "/"),
		TrustProxy:        envBool("PASSAGE_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("PASSAGE_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		RefreshCookieName: envStr("PASSAGE_AUTH_REFRESH_COOKIE", "refreshToken"),
		StateCookieName:   envStr("PASSAGE_AUTH_STATE_COOKIE", "oauthState"),
		CookiePath:        envStr("PASSAGE_AUTH_COOKIE_PATH", "/"),
		CookieDomain:      envStr("PASSAGE_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:      envBool("PASSAGE_AUTH_COOKIE_SECURE", true),
		CookieSameSite:    envSameSite("PASSAGE_AUTH_COOKIE_SAMESITE", http.SameSiteStrictMode),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

func envStr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envSameSite(key string, def http.SameSite) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return def
	}
}
