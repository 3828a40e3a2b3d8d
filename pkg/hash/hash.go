// Package hash computes and verifies the fixed SHA256-hex digest used by
// the broker's password file (§6): "username:SHA256-hex(password)". The
// format is a plain comparable digest, not a salted KDF, so it is produced
// with stdlib crypto/sha256 rather than a cost-factor hash like bcrypt.
package hash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashPasswd returns the lowercase hex-encoded SHA256 digest of passwd.
func HashPasswd(passwd string) string {
	sum := sha256.Sum256([]byte(passwd))
	return hex.EncodeToString(sum[:])
}

// VerifyPasswd reports whether passwd hashes to the given hex digest.
// Comparison is constant-time to avoid leaking digest prefixes via timing.
func VerifyPasswd(digestHex, passwd string) bool {
	want, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}
	sum := sha256.Sum256([]byte(passwd))
	return subtle.ConstantTimeCompare(want, sum[:]) == 1
}
