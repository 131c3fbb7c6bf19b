// Package crypto seals stored payloads with NaCl secretbox.
//
// The 32-byte key is derived from the server token with HKDF-SHA256. Every
// sealed blob carries its own random nonce:
//
//	[ 24-byte nonce ][ ciphertext ]
//
// A server without a token stores blobs unsealed and never calls into this
// package.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24

	// Overhead is the number of bytes Seal adds to a plaintext.
	Overhead = nonceSize + secretbox.Overhead
)

// Key is a secretbox key.
type Key = [keySize]byte

// ErrDecrypt is returned when a blob was sealed with a different key or has
// been tampered with.
var ErrDecrypt = errors.New("decryption failed (wrong token?)")

var hkdfInfo = []byte("clipstash-blob-v1")

// DeriveKey derives the blob key from token.
func DeriveKey(token string) (*Key, error) {
	h := hkdf.New(sha256.New, []byte(token), nil, hkdfInfo)
	var key Key
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return &key, nil
}

// Seal encrypts plaintext with key and prepends a random nonce.
func Seal(plaintext []byte, key *Key) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open decrypts a nonce-prefixed ciphertext.
func Open(ciphertext []byte, key *Key) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
