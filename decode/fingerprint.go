package decode

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the lowercase hex SHA-256 digest of der. Per spec
// §4.1 "Key policies", this is always computed over the original bytes a
// certificate or CRL was decoded from, never over a re-encoded copy — a
// lenient parse that normalizes internal representation must not be
// allowed to perturb the fingerprint.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}
