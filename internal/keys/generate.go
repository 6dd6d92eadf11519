package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const (
	// SecretPrefix marks secrets issued by this service.
	SecretPrefix      = "lomp_"
	secretRandomBytes = 24
	displayPrefixLen  = len(SecretPrefix) + 8
)

// GenerateSecret returns a new random plaintext secret.
func GenerateSecret() (string, error) {
	b := make([]byte, secretRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return SecretPrefix + hex.EncodeToString(b), nil
}

// HashSecret returns the hex SHA-256 digest under which a secret is stored.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the leading characters of a secret that are safe to show.
func DisplayPrefix(secret string) string {
	if len(secret) <= displayPrefixLen {
		if len(secret) <= 4 {
			return ""
		}
		return secret[:4]
	}
	return secret[:displayPrefixLen]
}
