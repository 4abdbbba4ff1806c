// ABOUTME: Tests for RSA key loading, PEM encoding, and the ephemeral fallback.
// ABOUTME: Verifies hard failure when key material is absent and not allowed.

package auth

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKeysFromFile(t *testing.T) {
	key := testKeyPair(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.pem")
	require.NoError(t, os.WriteFile(path, EncodePrivateKeyPEM(key), 0600))

	ks, err := LoadKeys(path, false, slog.Default())
	require.NoError(t, err)
	assert.False(t, ks.Ephemeral)
	assert.Equal(t, key.PublicKey.N, ks.PublicKey.N)
}

func TestLoadKeysMissingWithoutFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.pem")

	_, err := LoadKeys(path, false, slog.Default())
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
}

func TestLoadKeysEphemeralFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.pem")

	ks, err := LoadKeys(path, true, slog.Default())
	require.NoError(t, err)
	assert.True(t, ks.Ephemeral)
	require.NotNil(t, ks.PrivateKey)

	// The generated pair must be internally consistent.
	issuer, err := NewIssuer(ks.PrivateKey)
	require.NoError(t, err)
	verifier, err := NewVerifier(ks.PublicKey)
	require.NoError(t, err)

	token, err := issuer.Generate("t", "u", nil, 1)
	require.NoError(t, err)
	// TTL of 1ns has already expired; signature still verifies as the failure mode.
	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	key := testKeyPair(t)
	pemData, err := EncodePublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "verify.pem")
	require.NoError(t, os.WriteFile(path, pemData, 0644))

	loaded, err := LoadPublicKey(path)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, loaded.N)
}
