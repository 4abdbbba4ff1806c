// ABOUTME: RSA key material loading for the token issuer and verifier.
// ABOUTME: PEM files on disk, with an explicit opt-in ephemeral fallback.

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ephemeralKeyBits is the size of generated fallback key pairs.
const ephemeralKeyBits = 2048

// ErrNoKeyMaterial is returned when no key file exists and ephemeral
// fallback is not allowed.
var ErrNoKeyMaterial = errors.New("no signing key material available")

// KeySet holds loaded key material and records whether it is ephemeral.
// Tokens signed with an ephemeral key cannot be verified by a separately
// keyed verifier; callers must surface Ephemeral prominently at startup.
type KeySet struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	Ephemeral  bool
}

// LoadKeys loads an RSA key pair for signing and verification.
//
// privateKeyPath is read first; the public key is derived from it. If the
// file does not exist and allowEphemeral is true, a fresh pair is generated
// and a warning is logged. If allowEphemeral is false the caller gets
// ErrNoKeyMaterial and should refuse to start. Loading is side-effect-free
// and may be called repeatedly within a process lifetime.
func LoadKeys(privateKeyPath string, allowEphemeral bool, logger *slog.Logger) (*KeySet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if privateKeyPath != "" {
		data, err := os.ReadFile(privateKeyPath)
		if err == nil {
			key, err := parsePrivateKeyPEM(data)
			if err != nil {
				return nil, fmt.Errorf("parsing private key %s: %w", privateKeyPath, err)
			}
			return &KeySet{PrivateKey: key, PublicKey: &key.PublicKey}, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading private key %s: %w", privateKeyPath, err)
		}
	}

	if !allowEphemeral {
		return nil, fmt.Errorf("%w: %s missing (set auth.allow_ephemeral to run in degraded mode)", ErrNoKeyMaterial, privateKeyPath)
	}

	key, err := rsa.GenerateKey(rand.Reader, ephemeralKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}

	logger.Warn("DEGRADED MODE: signing with an ephemeral key pair",
		"reason", "no persisted key material found",
		"path", privateKeyPath,
		"consequence", "tokens will not verify against separately-keyed services",
	)

	return &KeySet{PrivateKey: key, PublicKey: &key.PublicKey, Ephemeral: true}, nil
}

// LoadPublicKey loads a verification-only public key from a PEM file.
// Used by the tool server when it does not hold the private key.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key %s: %w", path, err)
	}
	return parsePublicKeyPEM(data)
}

// EncodePrivateKeyPEM serializes a private key in PKCS#1 PEM form.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// EncodePublicKeyPEM serializes a public key in PKIX PEM form.
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
