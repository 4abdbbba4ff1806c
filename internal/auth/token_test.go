// ABOUTME: Tests for RS256 token issuance and verification.
// ABOUTME: Covers claim round-trips, expiry, tampering, and key mismatches.

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	key := testKeyPair(t)
	issuer, err := NewIssuer(key)
	require.NoError(t, err)
	verifier, err := NewVerifier(&key.PublicKey)
	require.NoError(t, err)

	token, err := issuer.Generate("acme-corp", "user-1", []string{"read", "search"}, time.Hour)
	require.NoError(t, err)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", claims.TenantID)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, []string{"read", "search"}, claims.Scopes)
	assert.Equal(t, TokenIssuer, claims.Issuer)
	assert.Contains(t, claims.Audience, TokenAudience)
	assert.NotNil(t, claims.IssuedAt)
	assert.NotNil(t, claims.NotBefore)
	assert.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestVerifyExpiredToken(t *testing.T) {
	key := testKeyPair(t)
	issuer, err := NewIssuer(key)
	require.NoError(t, err)
	verifier, err := NewVerifier(&key.PublicKey)
	require.NoError(t, err)

	token, err := issuer.Generate("acme-corp", "user-1", nil, -time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyWrongKey(t *testing.T) {
	signingKey := testKeyPair(t)
	otherKey := testKeyPair(t)

	issuer, err := NewIssuer(signingKey)
	require.NoError(t, err)
	verifier, err := NewVerifier(&otherKey.PublicKey)
	require.NoError(t, err)

	token, err := issuer.Generate("acme-corp", "user-1", nil, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTamperedToken(t *testing.T) {
	key := testKeyPair(t)
	issuer, err := NewIssuer(key)
	require.NoError(t, err)
	verifier, err := NewVerifier(&key.PublicKey)
	require.NoError(t, err)

	token, err := issuer.Generate("acme-corp", "user-1", nil, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + ".eyJ0ZW5hbnRfaWQiOiJldmlsIn0." + parts[2]

	_, err = verifier.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMalformedToken(t *testing.T) {
	key := testKeyPair(t)
	verifier, err := NewVerifier(&key.PublicKey)
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		_, err := verifier.Verify(tok)
		assert.Error(t, err, "token %q should not verify", tok)
	}
}

func TestVerifyRejectsWrongIssuerAndAudience(t *testing.T) {
	key := testKeyPair(t)
	verifier, err := NewVerifier(&key.PublicKey)
	require.NoError(t, err)

	sign := func(claims Claims) string {
		t.Helper()
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	now := time.Now()
	base := Claims{
		TenantID: "acme-corp",
		UserID:   "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	badIssuer := base
	badIssuer.Issuer = "someone-else"
	_, err = verifier.Verify(sign(badIssuer))
	assert.Error(t, err)

	badAudience := base
	badAudience.Audience = jwt.ClaimStrings{"other-service"}
	_, err = verifier.Verify(sign(badAudience))
	assert.Error(t, err)
}

func TestVerifyRejectsNotYetValid(t *testing.T) {
	key := testKeyPair(t)
	verifier, err := NewVerifier(&key.PublicKey)
	require.NoError(t, err)

	now := time.Now()
	claims := Claims{
		TenantID: "acme-corp",
		UserID:   "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	assert.Error(t, err)
}

func TestVerifyRejectsMissingTenant(t *testing.T) {
	key := testKeyPair(t)
	verifier, err := NewVerifier(&key.PublicKey)
	require.NoError(t, err)

	now := time.Now()
	claims := Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestGenerateRequiresIdentity(t *testing.T) {
	key := testKeyPair(t)
	issuer, err := NewIssuer(key)
	require.NoError(t, err)

	_, err = issuer.Generate("", "user-1", nil, time.Hour)
	assert.ErrorIs(t, err, ErrMissingClaim)

	_, err = issuer.Generate("acme-corp", "", nil, time.Hour)
	assert.ErrorIs(t, err, ErrMissingClaim)
}
