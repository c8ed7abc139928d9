package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("helius-api-key-abc123", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "helius-api-key-abc123", got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("some-secret", "right")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptRejectsEmptyInputs(t *testing.T) {
	_, err := EncryptSecret("", "pw")
	assert.Error(t, err)

	_, err = EncryptSecret("secret", "")
	assert.Error(t, err)
}

func TestLoadSecretPrefersRaw(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw-key", EncryptedPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, "raw-key", got)
}

func TestLoadSecretFromEncryptedFile(t *testing.T) {
	blob, err := EncryptSecret("file-secret", "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "file-secret", got)
}

func TestLoadSecretNoSource(t *testing.T) {
	_, err := LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
