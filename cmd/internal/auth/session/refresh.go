package session

import (
	"passage/cmd/security/token"
)

// hashRefreshTokenHex maps a refresh envelope string to the digest stored on
// its session row. With PASSAGE_TOKEN_HMAC_KEY set the digest is keyed, so a
// leaked sessions table cannot be matched against captured envelopes.
func hashRefreshTokenHex(refreshToken string) string {
	return token.HashRefreshTokenHex(refreshToken)
}

// refreshHashMatches compares a presented envelope against a stored digest
// in constant time.
func refreshHashMatches(refreshToken, storedHash string) bool {
	return token.HashEqualConstantTime(hashRefreshTokenHex(refreshToken), storedHash)
}
