package token

import "errors"

// Errors returned by HMACKeyFromEnv when keyed hashing is requested but the
// environment does not carry a usable key. Callers compare by identity.
var (
	ErrHMACKeyMissing  = errors.New("token: HMAC key not set")
	ErrHMACKeyTooShort = errors.New("token: HMAC key shorter than required")
)
