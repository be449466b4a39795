package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/assetdepot/depot/pkg/depot/errs"
)

// Stored hashes use the form "pbkdf2_sha256$<iterations>$<salt>$<digest>"
// with base64-encoded salt and digest.
const (
	hashAlgorithm  = "pbkdf2_sha256"
	hashIterations = 390000
	saltBytes      = 16
	keyBytes       = 32
)

// HashPassword derives a salted pbkdf2 hash for storage.
func HashPassword(plain string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", errs.Internal.Wrap(err)
	}
	digest := pbkdf2.Key([]byte(plain), salt, hashIterations, keyBytes, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		hashAlgorithm,
		hashIterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(digest),
	), nil
}

// VerifyPassword checks a plaintext password against a stored hash.
func VerifyPassword(plain, stored string) (bool, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 {
		return false, errs.Validation.New("unexpected password hash format")
	}
	if parts[0] != hashAlgorithm {
		return false, errs.Validation.New("unsupported hash algorithm: %s", parts[0])
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, errs.Validation.New("invalid iteration count")
	}
	salt, err := base64Decode(parts[2])
	if err != nil {
		return false, errs.Validation.Wrap(err)
	}
	digest, err := base64Decode(parts[3])
	if err != nil {
		return false, errs.Validation.Wrap(err)
	}

	calc := pbkdf2.Key([]byte(plain), salt, iterations, len(digest), sha256.New)
	return hmac.Equal(calc, digest), nil
}

// base64Decode tolerates missing padding, which some producers strip.
func base64Decode(s string) ([]byte, error) {
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(s)
}
