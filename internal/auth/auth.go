package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Equal compares two tokens in constant time via their digests, so length
// differences leak nothing either.
func Equal(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
