// Package secret seals credential values so bot tokens can live in a
// configuration file without being stored in clear text.
//
// A sealed value looks like "enc:<base64>" where the payload is
// salt || nonce || AES-256-GCM ciphertext. The key is derived from a
// passphrase with PBKDF2-SHA256 and a random per-value salt.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Prefix marks a sealed value.
const Prefix = "enc:"

const (
	saltSize   = 16
	iterations = 100000
	keySize    = 32 // AES-256
)

var (
	ErrNoPassphrase = errors.New("value is encrypted but no passphrase is configured")
	ErrDecrypt      = errors.New("decrypting value failed (wrong passphrase or corrupt data)")
)

// Box seals and opens values with one passphrase.
type Box struct {
	passphrase []byte
}

// New creates a Box. An empty passphrase yields a Box that can only pass
// plain values through.
func New(passphrase string) *Box {
	return &Box{passphrase: []byte(passphrase)}
}

// IsSealed reports whether v carries the sealed-value prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, Prefix)
}

func (b *Box) key(salt []byte) []byte {
	return pbkdf2.Key(b.passphrase, salt, iterations, keySize, sha256.New)
}

func (b *Box) gcm(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key(salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns the prefixed value.
func (b *Box) Seal(plaintext string) (string, error) {
	if len(b.passphrase) == 0 {
		return "", ErrNoPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	gcm, err := b.gcm(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open returns the plaintext of a sealed value. Values without the prefix
// are returned unchanged.
func (b *Box) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if len(b.passphrase) == 0 {
		return "", ErrNoPassphrase
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(data) < saltSize {
		return "", ErrDecrypt
	}

	salt, rest := data[:saltSize], data[saltSize:]
	gcm, err := b.gcm(salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", ErrDecrypt
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// OpenAll opens every value in place, stopping at the first error.
func (b *Box) OpenAll(values ...*string) error {
	for _, v := range values {
		plain, err := b.Open(*v)
		if err != nil {
			return err
		}
		*v = plain
	}
	return nil
}
