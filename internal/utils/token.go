package utils // package utils provides the crypto primitives shared by the auth subsystem

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 digests for opaque tokens
	"encoding/hex"  // hex encoding of random bytes and digests
)

// SecureTokenBytes is the number of random bytes behind every opaque token.
// 32 bytes gives 256 bits of entropy.
const SecureTokenBytes = 32

// GenerateSecureToken returns a hex-encoded string built from
// SecureTokenBytes of cryptographically secure random data.
func GenerateSecureToken() (string, error) {
	return randomHex(SecureTokenBytes)
}

// HashToken returns the SHA-256 digest of token as a hex string. Stores keep
// only this digest so a leaked row cannot be replayed as a credential.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
