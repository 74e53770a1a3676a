// Package sensitive implements the column cryptography pipeline: values of
// columns marked sensitive are stored as deterministic AES ciphertext with
// a marker prefix, equality predicates against them are rewritten to match
// both forms, and result rows are decrypted in parallel.
package sensitive

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/utils/crypto/aes"
)

// EncryptedValuePrefix marks a stored value as ciphertext. Values without
// it pass through the pipeline untouched, which is what lets encryption be
// rolled out column by column over live data.
const EncryptedValuePrefix = "ENC:"

const (
	keyDerivationRounds = 4096
	keyLength           = 32
)

// keyDerivationSalt is fixed so every node derives the same key from the
// same secret. The secret itself is what needs protecting.
var keyDerivationSalt = []byte("cjdb/sensitive/aes/v1")

type CJFieldCipher struct {
	key []byte
}

// NewFieldCipher builds a cipher from the configured secret. Secrets of 32
// bytes or more are used directly as the AES-256 key; shorter ones are
// stretched with PBKDF2.
func NewFieldCipher(secret string) (*CJFieldCipher, error) {
	if secret == "" {
		return nil, errors.New("SENSITIVE_AES_KEY_EMPTY")
	}
	var key []byte
	if len(secret) >= keyLength {
		key = []byte(secret)[:keyLength]
	} else {
		key = pbkdf2.Key([]byte(secret), keyDerivationSalt, keyDerivationRounds, keyLength, sha256.New)
	}
	return &CJFieldCipher{key: key}, nil
}

// EncryptRaw returns the base64 ciphertext of plain without any marker.
// Tenant connection strings are stored in this form.
func (c *CJFieldCipher) EncryptRaw(plain string) (string, error) {
	raw, err := aes.EncryptECB(c.key, []byte(plain))
	if err != nil {
		return "", errors.Wrap(err, "SENSITIVE_ENCRYPT_FAILED")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecryptRaw reverses EncryptRaw.
func (c *CJFieldCipher) DecryptRaw(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "SENSITIVE_CIPHERTEXT_NOT_BASE64")
	}
	plain, err := aes.DecryptECB(c.key, raw)
	if err != nil {
		return "", errors.Wrap(err, "SENSITIVE_DECRYPT_FAILED")
	}
	return string(plain), nil
}

// Encrypt returns value as marked ciphertext. Empty values and values that
// already carry the marker come back unchanged, so encrypting twice is
// safe.
func (c *CJFieldCipher) Encrypt(value string) (string, error) {
	if value == "" || strings.HasPrefix(value, EncryptedValuePrefix) {
		return value, nil
	}
	enc, err := c.EncryptRaw(value)
	if err != nil {
		return "", err
	}
	return EncryptedValuePrefix + enc, nil
}

// Decrypt returns the plaintext of a marked value. Unmarked values pass
// through unchanged; a marked value that will not decrypt is an error.
func (c *CJFieldCipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, EncryptedValuePrefix) {
		return value, nil
	}
	return c.DecryptRaw(value[len(EncryptedValuePrefix):])
}

// IsEncrypted reports whether value carries the ciphertext marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedValuePrefix)
}
