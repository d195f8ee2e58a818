package session

import "errors"

var (
	// ErrConfig reports invalid or missing session configuration.
	ErrConfig = errors.New("session: invalid config")

	// ErrInvalidToken reports a token that failed signature or claim
	// verification. Expired, malformed, wrong-audience, and wrong-secret
	// tokens all collapse into this one error on purpose.
	ErrInvalidToken = errors.New("session: invalid token")

	// ErrSessionNotFound reports a structurally valid credential whose
	// session row no longer exists.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionExpired reports a session row past its expiry.
	ErrSessionExpired = errors.New("session: expired")

	// ErrSessionRevoked reports an operation against a revoked session row.
	ErrSessionRevoked = errors.New("session: revoked")

	// ErrReuseDetected reports a retired refresh credential being presented
	// again. By the time callers see it, every session of the affected user
	// has been revoked.
	ErrReuseDetected = errors.New("session: refresh reuse detected")
)
