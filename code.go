package accounts

import (
	"crypto/rand"
	"encoding/base64"
)

const activationCodeBytes = 32

// GenerateActivationCode returns a URL-safe one-time code with 256 bits of
// entropy. Collisions across the account population are negligible, which is
// what lets a bare code look up its account.
func GenerateActivationCode() (string, error) {
	b := make([]byte, activationCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
