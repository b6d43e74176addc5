package services

import (
	"crypto/rand"
	"encoding/base64"
)

// passwordBytes yields a 12-character URL-safe password.
const passwordBytes = 9

// generatePassword returns a random URL-safe password from crypto/rand.
func generatePassword() (string, error) {
	b := make([]byte, passwordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
