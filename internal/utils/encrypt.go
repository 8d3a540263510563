package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// FieldKeySize is the AES-256 key length in bytes.
	FieldKeySize = 32

	// fieldIVSize is the GCM nonce length written as the first envelope part.
	fieldIVSize = 12

	// fieldTagSize is the GCM authentication tag length.
	fieldTagSize = 16

	// Passphrase keys (anything that is not 64 hex chars) are stretched with
	// PBKDF2-SHA256 under a fixed application salt.
	fieldKeySalt       = "sessionguard/field-encryption/v1"
	fieldKeyIterations = 210000
)

var (
	// ErrDecryption is returned for every envelope that cannot be opened:
	// malformed layout, bad hex, tag mismatch or a different key.
	ErrDecryption = errors.New("decryption failed")

	// ErrMissingKey is returned when no encryption key is configured.
	ErrMissingKey = errors.New("encryption key is not configured")
)

// FieldCipher encrypts individual persisted fields with AES-256-GCM.
// Envelopes have the form <ivHex>:<ciphertextHex>:<authTagHex>. A FieldCipher
// is safe for concurrent use.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher builds a FieldCipher from the configured key. A key of
// exactly 64 hex characters is used as the raw 32-byte AES key; any other
// non-empty value is treated as a passphrase.
func NewFieldCipher(key string) (*FieldCipher, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingKey
	}
	raw, err := deriveFieldKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

func deriveFieldKey(key string) ([]byte, error) {
	if len(key) == FieldKeySize*2 {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}
	return pbkdf2.Key([]byte(key), []byte(fieldKeySalt), fieldKeyIterations, FieldKeySize, sha256.New), nil
}

// Encrypt seals plaintext under a fresh random IV.
func (f *FieldCipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, fieldIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := f.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - fieldTagSize
	return hex.EncodeToString(iv) + ":" +
		hex.EncodeToString(sealed[:split]) + ":" +
		hex.EncodeToString(sealed[split:]), nil
}

// Decrypt opens an envelope produced by Encrypt. It never returns partial
// plaintext: any failure yields ErrDecryption.
func (f *FieldCipher) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", ErrDecryption
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != fieldIVSize {
		return "", ErrDecryption
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecryption
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != fieldTagSize {
		return "", ErrDecryption
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plain, err := f.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}
