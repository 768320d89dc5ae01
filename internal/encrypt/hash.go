package encrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashIterations = 100_000
	hashSaltSize   = 16
	hashKeySize    = 32
)

// Hash derives a PBKDF2-SHA256 digest of input. If salt is nil a random
// salt is generated. The returned string is self-describing:
//
//	pbkdf2$sha256$<iterations>$<salt b64url>$<digest b64url>
//
// so verification does not depend on current parameter defaults.
func Hash(input []byte, salt []byte) (string, error) {
	if salt == nil {
		salt = make([]byte, hashSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("generate salt: %w", err)
		}
	}

	dk := pbkdf2.Key(input, salt, hashIterations, hashKeySize, sha256.New)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s",
		hashIterations,
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(dk),
	), nil
}

// VerifyHash reports whether input matches a digest previously produced by
// Hash. The digest comparison is constant-time with respect to the
// candidate. Malformed digests verify as false, never as an error: a stored
// digest that cannot be parsed is simply not a match.
func VerifyHash(input []byte, digest string) bool {
	parts := strings.Split(digest, "$")
	if len(parts) != 5 || parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return false
	}

	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	want, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key(input, salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
