package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	secretPrefix    = "lds_"
	secretRandLen   = 16 // 16 bytes = 32 hex chars
	secretPrefixLen = 8  // first 8 chars of the full key used for lookup
)

// argon2id parameters following OWASP recommendations.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// NewSecret generates a raw streaming secret plus the lookup prefix and
// salted hash to store. The raw secret is shown to the operator once.
// Format: "lds_" + 32 random hex chars.
func NewSecret() (raw, prefix, hash string, err error) {
	buf := make([]byte, secretRandLen)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("auth.NewSecret: %w", err)
	}

	raw = secretPrefix + hex.EncodeToString(buf)

	hash, err = HashSecret(raw)
	if err != nil {
		return "", "", "", err
	}

	return raw, raw[:secretPrefixLen], hash, nil
}

// HashSecret generates an argon2id hash of the secret with a random salt.
// Format: hex(salt) + "$" + hex(hash)
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth.HashSecret: generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

// verifySecret checks a raw secret against a stored salt$hash value.
func verifySecret(secret, encoded string) bool {
	var saltHex, hashHex string
	for i := range len(encoded) {
		if encoded[i] == '$' {
			saltHex = encoded[:i]
			hashHex = encoded[i+1:]
			break
		}
	}

	if saltHex == "" || hashHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}

	expected, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// Constant-time comparison to prevent timing attacks.
	if len(computed) != len(expected) {
		return false
	}

	var diff byte
	for i := range computed {
		diff |= computed[i] ^ expected[i]
	}

	return diff == 0
}
