package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// gcmMagic prefixes objects sealed by Seal.
// Layout: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
var gcmMagic = []byte("GCM3NCR0")

const (
	saltLen    = 16
	nonceLen   = 12
	tagLen     = 16
	kdfRounds  = 100000
	keyLen     = 32
	headerSize = 8 + saltLen + nonceLen
)

// Encrypted reports whether data carries the sealed-object header.
func Encrypted(data []byte) bool { return bytes.HasPrefix(data, gcmMagic) }

// Seal encrypts data with AES-256-GCM under a PBKDF2 key derived from password.
func Seal(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerSize+len(data)+tagLen)
	out = append(out, gcmMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Open reverses Seal.
func Open(data []byte, password string) ([]byte, error) {
	if !Encrypted(data) {
		return nil, fmt.Errorf("not a sealed object")
	}
	if len(data) < headerSize+tagLen {
		return nil, fmt.Errorf("sealed object too short: %d bytes", len(data))
	}
	salt := data[8 : 8+saltLen]
	nonce := data[8+saltLen : headerSize]
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, data[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, kdfRounds, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
