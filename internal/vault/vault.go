// Package vault encrypts mailbox secrets at rest.
//
// Tokens have the form hex(iv):hex(ciphertext) using AES-256-CBC with PKCS#7
// padding and a fresh random IV per call.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const ivLength = aes.BlockSize

// ErrCorruptToken is returned for any token that cannot be decrypted.
var ErrCorruptToken = errors.New("vault: corrupt token")

// Vault holds the derived key. It is safe for concurrent use.
type Vault struct {
	key []byte
}

// New derives the cipher key from the configured master key. The derivation
// (first 32 characters of base64(sha256(master))) matches the tokens already
// stored by earlier deployments.
func New(masterKey string) *Vault {
	sum := sha256.Sum256([]byte(masterKey))
	encoded := base64.StdEncoding.EncodeToString(sum[:])
	return &Vault{key: []byte(encoded[:32])}
}

// Encrypt returns a token for secret.
func (v *Vault) Encrypt(secret string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	plain := pad([]byte(secret), aes.BlockSize)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt returns the secret sealed in token. Every failure wraps
// ErrCorruptToken and yields an empty string.
func (v *Vault) Decrypt(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: expected iv:ciphertext", ErrCorruptToken)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLength {
		return "", fmt.Errorf("%w: bad iv", ErrCorruptToken)
	}

	ct, err := hex.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: bad ciphertext", ErrCorruptToken)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain, err = unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrCorruptToken)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrCorruptToken)
		}
	}
	return b[:len(b)-n], nil
}
