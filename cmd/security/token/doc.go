// Package token provides the one-way hashing primitives Passage uses for
// refresh credentials.
//
// The refresh string handed to a client is never stored. The server keeps a
// deterministic digest so the session row can be matched and compared in
// constant time:
//   - HMAC-SHA256(token, key) when PASSAGE_TOKEN_HMAC_KEY is configured.
//   - SHA-256(token) as a dev fallback when no key is set.
//
// Output is always a 64-char hex string.
package token
