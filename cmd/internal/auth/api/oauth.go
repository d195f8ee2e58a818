package authapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"passage/cmd/internal/auth/provider"
)

// handleOAuth dispatches GET /api/v1/auth/{provider} and
// /api/v1/auth/{provider}/callback. The start leg stores a random state in a
// short-lived cookie and redirects to the provider's consent page; the
// callback leg checks the state, resolves the identity, and hands the
// browser back to the frontend with a session.
func (h *Handler) handleOAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, authRoutePrefix), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleOAuthStart(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "callback":
		h.handleOAuthCallback(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleOAuthStart(w http.ResponseWriter, r *http.Request, name string) {
	p, err := h.providers.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", "unknown provider")
		return
	}

	state, err := newOpaqueWebToken(32)
	if err != nil {
		h.log.Error("auth.oauth.state.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.setStateCookie(w, state)
	http.Redirect(w, r, p.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	p, err := h.providers.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", "unknown provider")
		return
	}

	// A failed round trip lands the browser on the frontend error page, not
	// on a bare JSON body.
	state := r.URL.Query().Get("state")
	if !h.stateCookieMatches(r, state) {
		h.auditOAuthFailed(ctx, p.Name(), ip, ua, "state_mismatch")
		h.redirectLoginError(w, r, "Authentication failed")
		return
	}
	h.clearStateCookie(w)

	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		h.auditOAuthFailed(ctx, p.Name(), ip, ua, "missing_code")
		h.redirectLoginError(w, r, "Authentication failed")
		return
	}

	ident, err := p.Identity(ctx, code)
	if err != nil {
		if errors.Is(err, provider.ErrEmailMissing) {
			h.auditOAuthFailed(ctx, p.Name(), ip, ua, "email_missing")
			h.redirectLoginError(w, r, "Email not found from "+p.Name())
			return
		}
		loginsTotal.WithLabelValues(p.Name(), "failed").Inc()
		h.auditOAuthFailed(ctx, p.Name(), ip, ua, "upstream_error")
		h.log.Error("auth.oauth.identity.fail", "provider", p.Name(), "err", err)
		h.redirectLoginError(w, r, "Authentication failed")
		return
	}

	now := time.Now().UTC()
	u, err := h.users.ResolveExternal(ctx, ident, now)
	if err != nil {
		loginsTotal.WithLabelValues(p.Name(), "failed").Inc()
		h.log.Error("auth.oauth.resolve.fail", "provider", p.Name(), "err", err)
		h.redirectLoginError(w, r, "Authentication failed")
		return
	}

	pair, err := h.sessions.Issue(ctx, u.ID)
	if err != nil {
		h.log.Error("auth.oauth.issue_session.fail", "err", err)
		h.redirectLoginError(w, r, "Authentication failed")
		return
	}

	loginsTotal.WithLabelValues(p.Name(), "success").Inc()
	h.auditLoginSuccess(ctx, u.ID, pair.SessionID, ip, ua, p.Name())

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)

	cb := h.cfg.ClientURL + "/oauth-callback?accessToken=" + url.QueryEscape(pair.AccessToken)
	http.Redirect(w, r, cb, http.StatusFound)
}

func (h *Handler) redirectLoginError(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, h.cfg.ClientURL+"/login/error?message="+url.QueryEscape(message), http.StatusFound)
}
