// Package password implements Passage's password hashing (Argon2id).
//
// Hashes use the PHC string format so parameters travel with the hash:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Verify decodes the stored parameters, recomputes the key, and compares in
// constant time. Decoded parameters are bounded to keep attacker-supplied
// hash strings from driving pathological resource usage.
package password
