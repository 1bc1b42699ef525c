package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey hashes the raw API key mixed with the server pepper, using the
// same strategy as key creation. An empty pepper is a server
// misconfiguration, not a bad credential.
func HashKey(raw, pepper string) (string, error) {
	if pepper == "" {
		return "", ErrPepperMissing
	}
	sum := sha256.Sum256([]byte(raw + pepper))
	return hex.EncodeToString(sum[:]), nil
}
