package crypto

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// apiKeyChars is the alphabet of the random part of an API key (lowercase base36).
const apiKeyChars = "abcdefghijklmnopqrstuvwxyz0123456789"

const (
	// APIKeyPrefix marks a string as an API key.
	APIKeyPrefix = "cld_"

	// DemoAPIKeyPrefix marks the API key of the seeded demo user.
	DemoAPIKeyPrefix = "cld_demo_"

	// APIKeyRandomLength is the length of the random part of a generated API key.
	APIKeyRandomLength = 13

	// DemoAPIKeyRandomLength is the length of the random part of a demo API key.
	DemoAPIKeyRandomLength = 6
)

// Entity id prefixes.
const (
	UserIDPrefix     = "user_"
	AutoUserIDPrefix = "auto_"
	FileIDPrefix     = "file_"
	ActivityIDPrefix = "activity_"
)

// GenerateAPIKey generates prefix followed by length random base36 characters.
// Example: "cld_k3j9x0q2m7a1z"
func GenerateAPIKey(prefix string, length int) (string, error) {
	random, err := generateRandomString(length, apiKeyChars)
	if err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return prefix + random, nil
}

// LooksLikeAPIKey reports whether key carries prefix and is at least minLength long.
func LooksLikeAPIKey(key, prefix string, minLength int) bool {
	return strings.HasPrefix(key, prefix) && len(key) >= minLength
}

// NewID returns prefix followed by a random UUID.
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}

// generateRandomString generates a random string of the specified length
// using characters from the provided character set.
func generateRandomString(length int, charset string) (string, error) {
	result := make([]byte, length)
	charsetLen := len(charset)

	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	for i := 0; i < length; i++ {
		result[i] = charset[int(randomBytes[i])%charsetLen]
	}

	return string(result), nil
}
