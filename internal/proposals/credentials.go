package proposals

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	passphraseIterations = 100000
	passphraseKeyLength  = 64
	passphraseSaltBytes  = 16
)

// CredentialScheme verifies a candidate passphrase against a stored record.
// Two schemes exist: the salted iterative scheme used for all new records, and
// the legacy unsalted scheme for records written before salting was introduced.
type CredentialScheme interface {
	Verify(candidate string) bool
}

// SchemeFor selects the credential scheme matching a stored record. Absence of
// a salt signals a legacy unsalted hash.
func SchemeFor(storedHash, storedSalt string) CredentialScheme {
	if storedSalt != "" {
		return saltedScheme{hash: storedHash, salt: storedSalt}
	}
	return legacyScheme{hash: storedHash}
}

// HashPassphrase derives a salted hash for a new passphrase and returns the
// hash together with its generated salt, both hex-encoded.
func HashPassphrase(passphrase string) (string, string, error) {
	saltBytes := make([]byte, passphraseSaltBytes)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", err
	}
	salt := hex.EncodeToString(saltBytes)
	return saltedDigest(passphrase, salt), salt, nil
}

type saltedScheme struct {
	hash string
	salt string
}

func (s saltedScheme) Verify(candidate string) bool {
	return constantTimeEqual(saltedDigest(candidate, s.salt), s.hash)
}

type legacyScheme struct {
	hash string
}

func (s legacyScheme) Verify(candidate string) bool {
	sum := sha256.Sum256([]byte(strings.TrimSpace(candidate)))
	return constantTimeEqual(hex.EncodeToString(sum[:]), s.hash)
}

func saltedDigest(passphrase, salt string) string {
	trimmed := strings.TrimSpace(passphrase)
	key := pbkdf2.Key([]byte(trimmed), []byte(salt), passphraseIterations, passphraseKeyLength, sha512.New)
	return hex.EncodeToString(key)
}

func constantTimeEqual(computed, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}
