// Package auth provides bearer-token authentication for the scanwatch API.
// It implements API key generation and validation with secure random
// generation and bcrypt hashing, and resolves presented credentials to the
// owner identity that scopes sessions and scan records.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of an API key.
	APIKeyLength = 32
	// APIKeyPrefix is the standard prefix for all API keys.
	APIKeyPrefix = "sw"
	// DisplayPrefixLength is the length of prefix shown in logs and listings.
	DisplayPrefixLength = 12

	// BcryptCost is the bcrypt cost for hashing API keys.
	BcryptCost = 12
	// BcryptMaxInputLength is the maximum input length bcrypt accepts.
	BcryptMaxInputLength = 72
)

// GenerateAPIKey creates a new random API key in the form "sw_<base32>".
// The full key is only available at generation time; store the hash.
func GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 avoids ambiguous characters in keys operators copy by hand.
	randomPart := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).
		EncodeToString(randomBytes))
	if len(randomPart) > APIKeyLength {
		randomPart = randomPart[:APIKeyLength]
	}

	return fmt.Sprintf("%s_%s", APIKeyPrefix, randomPart), nil
}

// HashAPIKey creates a bcrypt hash of an API key for storage in config.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}
	if len(apiKey) > BcryptMaxInputLength {
		return "", fmt.Errorf("API key exceeds maximum length of %d bytes", BcryptMaxInputLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateKeyFormat checks that a presented credential has the expected
// shape before any expensive comparison.
func ValidateKeyFormat(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	parts := strings.SplitN(apiKey, "_", 2)
	if len(parts) != 2 || parts[0] != APIKeyPrefix {
		return fmt.Errorf("API key must start with %q", APIKeyPrefix+"_")
	}
	if len(parts[1]) != APIKeyLength {
		return fmt.Errorf("API key random part must be %d characters", APIKeyLength)
	}
	return nil
}

// CreateDisplayPrefix returns a log-safe truncation of a key, e.g. "sw_abc1efg...".
func CreateDisplayPrefix(apiKey string) string {
	if len(apiKey) <= DisplayPrefixLength {
		return apiKey
	}
	return apiKey[:DisplayPrefixLength] + "..."
}

// Credential binds one accepted API key to the owner it authenticates as.
// Key holds either the plaintext key or its bcrypt hash; hashes are
// recognized by their "$2" prefix.
type Credential struct {
	Key     string
	OwnerID string
}

// Authenticator resolves presented bearer credentials against the configured
// key set.
type Authenticator struct {
	credentials []Credential
}

// NewAuthenticator creates an authenticator over the configured credentials.
func NewAuthenticator(credentials []Credential) *Authenticator {
	return &Authenticator{credentials: credentials}
}

// Authenticate returns the owner id for a presented key, or false when no
// configured credential matches. Plaintext comparisons are constant-time;
// hashed credentials go through bcrypt.
func (a *Authenticator) Authenticate(presented string) (string, bool) {
	if presented == "" {
		return "", false
	}

	for _, cred := range a.credentials {
		if isBcryptHash(cred.Key) {
			if bcrypt.CompareHashAndPassword([]byte(cred.Key), []byte(presented)) == nil {
				return cred.OwnerID, true
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(cred.Key), []byte(presented)) == 1 {
			return cred.OwnerID, true
		}
	}
	return "", false
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2")
}
