// Package authapi wires HTTP auth endpoints to the identity and session
// services: password register/login, refresh rotation, logout, profile, and
// the OAuth redirect flow.
package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"passage/cmd/identity"
	"passage/cmd/internal/auth/provider"
	"passage/cmd/internal/auth/session"
)

// Handler wires HTTP auth endpoints to identity/session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users     identity.Store
	sessions  *session.Service
	providers *provider.Registry

	// pool is the optional audit sink; nil disables auditing.
	pool *pgxpool.Pool

	dummyHash string
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service, providers *provider.Registry, pool *pgxpool.Pool) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || sessions == nil {
		return nil, errors.New("auth: nil identity store or session service")
	}
	if providers == nil {
		providers = provider.NewRegistry()
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		users:     users,
		sessions:  sessions,
		providers: providers,
		pool:      pool,
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := identity.HashPassword("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// authRoutePrefix anchors the versioned auth surface.
const authRoutePrefix = "/api/v1/auth/"

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc(authRoutePrefix+"register", h.handleRegister)
	mux.HandleFunc(authRoutePrefix+"login", h.handleLogin)
	mux.HandleFunc(authRoutePrefix+"refresh-token", h.handleRefresh)
	mux.HandleFunc(authRoutePrefix+"logout", h.handleLogout)
	mux.HandleFunc(authRoutePrefix+"logout_all", h.handleLogoutAll)
	// The bare prefix carries the OAuth routes: /{provider} and
	// /{provider}/callback. Exact patterns above win over the prefix.
	mux.HandleFunc(authRoutePrefix, h.handleOAuth)
	mux.HandleFunc("/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	u, err := h.users.Register(ctx, identity.RegisterInput{
		Email:     email,
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
		Password:  req.Password,
		Now:       now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			registrationsTotal.WithLabelValues("conflict").Inc()
			writeError(w, http.StatusConflict, "conflict", "email already in use")
		case identity.IsInvalidInput(err):
			registrationsTotal.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			registrationsTotal.WithLabelValues("error").Inc()
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	pair, err := h.sessions.Issue(ctx, u.ID)
	if err != nil {
		h.log.Error("auth.register.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	registrationsTotal.WithLabelValues("success").Inc()
	h.auditRegister(ctx, u.ID, ip, ua)

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	resp := toSessionResponse(pair)
	resp.RefreshToken = ""

	writeJSON(w, http.StatusCreated, registerResponse{
		User:    toUserResponse(u),
		Session: resp,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	password := req.Password
	if email == "" || strings.TrimSpace(password) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := identity.NormalizeEmail(email)

	u, err := h.users.GetUserByEmail(ctx, email)
	if err != nil {
		// Timing resistance: perform a dummy verify when the user is missing.
		// The response is byte-identical to the bad-password case.
		if h.dummyHash != "" {
			_, _ = identity.VerifyPassword(password, h.dummyHash)
		}
		loginsTotal.WithLabelValues("password", "failed").Inc()
		h.auditLoginFailed(ctx, nil, ip, ua, identifier, "not_found")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	// External-only users have no password hash; their login fails the same
	// way a wrong password does.
	if u.PasswordHash == nil {
		if h.dummyHash != "" {
			_, _ = identity.VerifyPassword(password, h.dummyHash)
		}
		loginsTotal.WithLabelValues("password", "failed").Inc()
		h.auditLoginFailed(ctx, &u.ID, ip, ua, identifier, "no_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	okPw, err := identity.VerifyPassword(password, *u.PasswordHash)
	if err != nil || !okPw {
		loginsTotal.WithLabelValues("password", "failed").Inc()
		h.auditLoginFailed(ctx, &u.ID, ip, ua, identifier, "bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	pair, err := h.sessions.Issue(ctx, u.ID)
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	loginsTotal.WithLabelValues("password", "success").Inc()
	h.auditLoginSuccess(ctx, u.ID, pair.SessionID, ip, ua, "password")

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	resp := toSessionResponse(pair)
	resp.RefreshToken = ""

	writeJSON(w, http.StatusOK, loginResponse{
		User:    toUserResponse(u),
		Session: resp,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refreshToken, fromCookie := h.presentedRefreshToken(w, r)
	if refreshToken == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "refresh token is required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	pair, err := h.sessions.Rotate(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReuseDetected):
			rotationsTotal.WithLabelValues("reuse_detected").Inc()
			reuseDetectedTotal.Inc()
			h.auditRefreshReuse(ctx, ip, ua)
			h.clearRefreshCookie(w)
			writeError(w, http.StatusForbidden, "refresh_reuse_detected", "refresh token reuse detected")
		case errors.Is(err, session.ErrInvalidToken),
			errors.Is(err, session.ErrSessionNotFound),
			errors.Is(err, session.ErrSessionExpired):
			rotationsTotal.WithLabelValues("rejected").Inc()
			h.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			rotationsTotal.WithLabelValues("error").Inc()
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	rotationsTotal.WithLabelValues("success").Inc()
	h.auditRefreshSuccess(ctx, pair.SessionID, ip, ua)

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	resp := toSessionResponse(pair)
	if fromCookie {
		resp.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, refreshResponse{Session: resp})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	// Logout succeeds no matter what was presented; only infrastructure
	// failures surface.
	refreshToken, _ := h.presentedRefreshToken(w, r)
	if refreshToken != "" {
		if err := h.sessions.Logout(ctx, refreshToken); err != nil {
			h.log.Error("auth.logout.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
	}

	h.auditLogout(ctx, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, logoutResponse{Message: "logged out"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if _, err := h.sessions.LogoutAll(ctx, userID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.insertAudit(ctx, "auth.logout_all", &userID, nil, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), nil)
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, logoutResponse{Message: "logged out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// ---- helpers ----

// presentedRefreshToken prefers the body over the cookie so API clients can
// rotate a token the browser does not hold.
func (h *Handler) presentedRefreshToken(w http.ResponseWriter, r *http.Request) (token string, fromCookie bool) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err == nil {
			if t := strings.TrimSpace(req.RefreshToken); t != "" {
				return t, false
			}
		}
	}
	if t, ok := h.refreshTokenFromCookie(r); ok {
		return t, true
	}
	return "", false
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	userID, err := h.sessions.ValidateAccess(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return "", false
	}
	return userID, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
