// Package secrets provides the credential codec used to protect platform
// configuration blobs at rest. The rest of the system treats the codec as an
// external collaborator and only ever calls Encrypt/Decrypt.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"io"

	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
)

// Codec encrypts and decrypts platform configuration blobs.
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// PlatformConfig is the decrypted shape of a connection's configuration blob.
type PlatformConfig struct {
	ServerURL  string `json:"serverUrl"`
	Email      string `json:"email,omitempty"`
	APIToken   string `json:"apiToken"`
	ProjectKey string `json:"projectKey,omitempty"`
}

// DecodeConfig decrypts and unmarshals a configuration blob.
func DecodeConfig(codec Codec, blob []byte) (*PlatformConfig, error) {
	plaintext, err := codec.Decrypt(blob)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to decrypt platform config", err)
	}

	var cfg PlatformConfig
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "platform config is not valid JSON", err)
	}

	return &cfg, nil
}

// EncodeConfig marshals and encrypts a configuration blob.
func EncodeConfig(codec Codec, cfg *PlatformConfig) ([]byte, error) {
	plaintext, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to marshal platform config", err)
	}

	return codec.Encrypt(plaintext)
}

// AESGCM is an AES-256-GCM codec. The nonce is prepended to the ciphertext.
type AESGCM struct {
	key []byte
}

// NewAESGCM creates a codec from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, errors.ValidationError("secrets key must be 32 bytes")
	}
	return &AESGCM{key: key}, nil
}

// Encrypt seals plaintext with a random nonce.
func (c *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.InternalError("nonce generation failed", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.ValidationError("ciphertext shorter than nonce")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to decrypt blob", err)
	}

	return plaintext, nil
}

func (c *AESGCM) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create gcm", err)
	}
	return gcm, nil
}

// Plaintext is a pass-through codec for tests and local development.
type Plaintext struct{}

func (Plaintext) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (Plaintext) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// FromKey returns the AES-GCM codec when a key is configured and the
// plaintext codec otherwise.
func FromKey(key []byte) (Codec, error) {
	if len(key) == 0 {
		return Plaintext{}, nil
	}
	return NewAESGCM(key)
}
