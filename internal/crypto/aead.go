package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a users-file secret stored encrypted.
const SealedPrefix = "enc:"

type AEAD struct{ aead cipher.AEAD }

// New builds an AES-256-GCM sealer from a 32 byte key.
func New(key []byte) (*AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes (got %d)", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: a}, nil
}

func (a *AEAD) EncryptToString(plaintext string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := a.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(append(nonce, ct...)), nil
}

func (a *AEAD) DecryptString(ciphertextB64 string) (string, error) {
	buf, err := base64.RawStdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", err
	}
	ns := a.aead.NonceSize()
	if len(buf) < ns {
		return "", fmt.Errorf("ciphertext too short")
	}
	pt, err := a.aead.Open(nil, buf[:ns], buf[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Seal returns plaintext encrypted and prefixed for storage in the users file.
func (a *AEAD) Seal(plaintext string) (string, error) {
	ct, err := a.EncryptToString(plaintext)
	if err != nil {
		return "", err
	}
	return SealedPrefix + ct, nil
}

// Reveal decrypts a sealed value; anything without the prefix is returned as is.
func (a *AEAD) Reveal(value string) (string, error) {
	ct, ok := strings.CutPrefix(value, SealedPrefix)
	if !ok {
		return value, nil
	}
	return a.DecryptString(ct)
}

func IsSealed(value string) bool { return strings.HasPrefix(value, SealedPrefix) }
