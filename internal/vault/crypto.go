package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen  = 32 // AES-256
	saltLen = 16
)

// deriveKey stretches secret into a 256-bit AES key via PBKDF2-SHA256 with
// the given iteration count. It does not check the count itself;
// VaultConfig.Validate requires at least 100k.
func deriveKey(secret []byte, salt []byte, iterations int) []byte {
	return pbkdf2.Key(secret, salt, iterations, keyLen, sha256.New)
}

// encrypt produces salt || iv || ciphertext for plaintext under an
// AES-256-CBC cipher keyed from secret via PBKDF2.
func encrypt(secret, plaintext []byte, iterations int) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "vault: generate salt")
	}
	key := deriveKey(secret, salt, iterations)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "vault: new cipher")
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, errors.Wrap(err, "vault: generate iv")
	}

	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, saltLen+aes.BlockSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// decrypt reverses encrypt.
func decrypt(secret, blob []byte, iterations int) ([]byte, error) {
	if len(blob) < saltLen+aes.BlockSize {
		return nil, errors.New("vault: ciphertext too short")
	}
	salt := blob[:saltLen]
	iv := blob[saltLen : saltLen+aes.BlockSize]
	ciphertext := blob[saltLen+aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("vault: ciphertext not block aligned")
	}

	key := deriveKey(secret, salt, iterations)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "vault: new cipher")
	}

	plainPadded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plainPadded, ciphertext)

	return pkcs7Unpad(plainPadded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("vault: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("vault: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
