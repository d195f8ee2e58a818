// Package session implements Passage's credential lifecycle: short-lived
// access tokens, long-lived rotating refresh credentials, and reuse
// detection with cascading revocation.
//
// A refresh credential has two halves. The client holds a signed envelope
// whose only claim of interest is the session id; the server holds a
// deterministic hash of the full envelope string on the session row. A
// presented envelope is valid only when its signature verifies AND its hash
// matches the live row for that session. Rotation retires the row and
// creates a successor; presenting a retired credential is treated as theft
// and revokes every session the user has.
package session
