package authapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

func (h *Handler) setRefreshCookie(w http.ResponseWriter, value string, exp time.Time) {
	if h == nil || w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	h.expireCookie(w, h.cfg.RefreshCookieName, true)
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) (string, bool) {
	if h == nil || r == nil {
		return "", false
	}
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return "", false
	}
	return v, true
}

// State cookie for the OAuth round trip. Lax, not Strict: the callback
// arrives as a cross-site navigation from the provider.
func (h *Handler) setStateCookie(w http.ResponseWriter, state string) {
	if h == nil || w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.StateCookieName,
		Value:    state,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) stateCookieMatches(r *http.Request, state string) bool {
	if h == nil || r == nil || strings.TrimSpace(state) == "" {
		return false
	}
	c, err := r.Cookie(h.cfg.StateCookieName)
	if err != nil {
		return false
	}
	return secureStringEqual(strings.TrimSpace(c.Value), state)
}

func (h *Handler) clearStateCookie(w http.ResponseWriter) {
	h.expireCookie(w, h.cfg.StateCookieName, true)
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	if h == nil || w == nil || strings.TrimSpace(name) == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func newOpaqueWebToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
