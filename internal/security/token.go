package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// teamTokenPrefix is the prefix used for generated team bearer tokens.
const teamTokenPrefix = "tr_"

// GenerateTeamToken creates a new cryptographically random bearer token.
func GenerateTeamToken() (token string, err error) {
	secret := make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate team token: %w", err)
	}
	return teamTokenPrefix + hex.EncodeToString(secret), nil
}

// GenerateRandomString returns a hex-encoded random string of the given length.
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return hex.EncodeToString(bytes)[:length], nil
}
