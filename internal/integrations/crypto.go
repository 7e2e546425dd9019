package integrations

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
)

// ErrCiphertextInvalid is returned when stored config cannot be decrypted.
var ErrCiphertextInvalid = errors.New("integrations: ciphertext invalid")

// Cipher seals integration config payloads with AES-GCM before they
// touch the database.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a 256-bit key from the configured secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("integrations: encryption secret required")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts the config map into a base64 token.
func (c *Cipher) Seal(config map[string]string) (string, error) {
	plaintext, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (c *Cipher) Open(token string) (map[string]string, error) {
	sealed, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, ErrCiphertextInvalid
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	var config map[string]string
	if err := json.Unmarshal(plaintext, &config); err != nil {
		return nil, ErrCiphertextInvalid
	}
	return config, nil
}
