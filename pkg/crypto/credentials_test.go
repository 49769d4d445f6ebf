package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// "test-key-for-unit-tests-32-bytes"
const testKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

func newEncryptor(t *testing.T, key string) *CredentialEncryptor {
	t.Helper()
	enc, err := NewCredentialEncryptor(key)
	require.NoError(t, err)
	return enc
}

func TestNewCredentialEncryptor(t *testing.T) {
	_, err := NewCredentialEncryptor("")
	assert.ErrorIs(t, err, ErrInvalidKey)

	for _, key := range []string{
		testKey,
		"district-sync-passphrase",
		base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key")),
	} {
		enc, err := NewCredentialEncryptor(key)
		require.NoError(t, err, key)
		assert.Len(t, enc.Fingerprint(), 8)
	}
}

func TestFingerprint(t *testing.T) {
	a := newEncryptor(t, testKey)
	b := newEncryptor(t, testKey)
	c := newEncryptor(t, "district-sync-passphrase")

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestSealOpen(t *testing.T) {
	enc := newEncryptor(t, testKey)
	id := uuid.New()
	config := map[string]any{
		"url":      "https://play.dhis2.org/40",
		"username": "admin",
		"password": "district-pa$$word!@#",
		"note":     "пароль-テスト",
		"port":     float64(5432),
	}

	sealed, err := enc.Seal(id, config)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "district-pa$$word")

	opened, err := enc.Open(id, sealed)
	require.NoError(t, err)
	assert.Equal(t, config, opened)
}

func TestSeal_NilConfigOpensEmpty(t *testing.T) {
	enc := newEncryptor(t, testKey)
	id := uuid.New()

	sealed, err := enc.Seal(id, nil)
	require.NoError(t, err)

	opened, err := enc.Open(id, sealed)
	require.NoError(t, err)
	assert.Empty(t, opened)
	assert.NotNil(t, opened)
}

func TestSeal_UniqueNonces(t *testing.T) {
	enc := newEncryptor(t, testKey)
	id := uuid.New()

	seen := make(map[string]bool)
	for range 50 {
		sealed, err := enc.Seal(id, map[string]any{"password": "same"})
		require.NoError(t, err)
		assert.False(t, seen[sealed], "duplicate ciphertext")
		seen[sealed] = true
	}
}

func TestOpen_BoundToConnection(t *testing.T) {
	enc := newEncryptor(t, testKey)

	sealed, err := enc.Seal(uuid.New(), map[string]any{"password": "secret"})
	require.NoError(t, err)

	_, err = enc.Open(uuid.New(), sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpen_WrongKey(t *testing.T) {
	id := uuid.New()
	sealed, err := newEncryptor(t, testKey).Seal(id, map[string]any{"password": "secret"})
	require.NoError(t, err)

	_, err = newEncryptor(t, "a-different-key").Open(id, sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpen_InvalidInput(t *testing.T) {
	enc := newEncryptor(t, testKey)
	id := uuid.New()

	valid, err := enc.Seal(id, map[string]any{"a": "b"})
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(valid, "v1:"))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no version prefix", strings.TrimPrefix(valid, "v1:")},
		{"unknown version", "v2:" + strings.TrimPrefix(valid, "v1:")},
		{"bad base64", "v1:not-valid-base64!!!"},
		{"too short", "v1:" + base64.StdEncoding.EncodeToString([]byte("short"))},
		{"tampered", "v1:" + base64.StdEncoding.EncodeToString(raw)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Open(id, tt.input)
			assert.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}
