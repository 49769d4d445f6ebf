// Package crypto seals connection configurations at rest.
//
// A sealed configuration is "v1:" followed by base64(nonce || ciphertext || tag),
// produced with AES-256-GCM over the JSON encoding of the configuration. The
// owning connection ID is bound as additional data, so a sealed value copied
// onto another connection row fails to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const envelopeV1 = "v1:"

var (
	// ErrInvalidKey is returned when the key material is empty.
	ErrInvalidKey = errors.New("invalid credentials key: must not be empty")
	// ErrDecryptionFailed means the sealed value was not produced by this key
	// for this connection, or has been tampered with.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// CredentialEncryptor seals and opens connection configurations.
type CredentialEncryptor struct {
	aead        cipher.AEAD
	fingerprint string
}

// NewCredentialEncryptor derives the AES-256 key from keyInput. Standard
// base64 decoding to exactly 32 bytes is used verbatim; any other value is
// treated as a passphrase and hashed with SHA-256.
func NewCredentialEncryptor(keyInput string) (*CredentialEncryptor, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	key, err := base64.StdEncoding.DecodeString(keyInput)
	if err != nil || len(key) != 32 {
		sum := sha256.Sum256([]byte(keyInput))
		key = sum[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	fp := sha256.Sum256(append([]byte("connector-engine/key-fingerprint:"), key...))
	return &CredentialEncryptor{aead: aead, fingerprint: hex.EncodeToString(fp[:4])}, nil
}

// Fingerprint identifies the key without revealing it. Two processes that
// report different fingerprints cannot read each other's connections.
func (e *CredentialEncryptor) Fingerprint() string {
	return e.fingerprint
}

// Seal encrypts config for the connection with the given ID. A nil config is
// sealed as an empty object.
func (e *CredentialEncryptor) Seal(connectionID uuid.UUID, config map[string]any) (string, error) {
	if config == nil {
		config = map[string]any{}
	}
	plaintext, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal connection configuration: %w", err)
	}

	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, associatedData(connectionID))
	return envelopeV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Every failure to authenticate the value wraps
// ErrDecryptionFailed.
func (e *CredentialEncryptor) Open(connectionID uuid.UUID, sealed string) (map[string]any, error) {
	encoded, ok := strings.CutPrefix(sealed, envelopeV1)
	if !ok {
		return nil, fmt.Errorf("%w: unknown envelope version", ErrDecryptionFailed)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed base64", ErrDecryptionFailed)
	}

	n := e.aead.NonceSize()
	if len(data) < n+e.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	plaintext, err := e.aead.Open(nil, data[:n], data[n:], associatedData(connectionID))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	config := map[string]any{}
	if err := json.Unmarshal(plaintext, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection configuration: %w", err)
	}
	return config, nil
}

func associatedData(connectionID uuid.UUID) []byte {
	return []byte("external_connections:" + connectionID.String())
}
