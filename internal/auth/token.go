// ABOUTME: JWT token issuance and verification using RS256 signatures.
// ABOUTME: Claims carry tenant_id, user_id, and scopes alongside registered claims.

package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Fixed token constants. The verifier rejects tokens whose issuer or
// audience differ from these values.
const (
	TokenIssuer   = "quarry-issuer"
	TokenAudience = "quarry-tools"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims is the claim set carried by quarry tokens.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	UserID   string   `json:"user_id"`
	Scopes   []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier defines the interface for token verification.
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// Issuer mints RS256-signed tokens.
type Issuer struct {
	privateKey *rsa.PrivateKey
}

// NewIssuer creates a token issuer from an RSA private key.
func NewIssuer(privateKey *rsa.PrivateKey) (*Issuer, error) {
	if privateKey == nil {
		return nil, errors.New("private key is required")
	}
	return &Issuer{privateKey: privateKey}, nil
}

// Generate mints a signed token for the given tenant and user.
// issued_at and not_before are set to now; expires_at to now + ttl.
func (i *Issuer) Generate(tenantID, userID string, scopes []string, ttl time.Duration) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user_id", ErrMissingClaim)
	}

	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		UserID:   userID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(i.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verifier validates RS256-signed tokens against a public key.
type Verifier struct {
	publicKey *rsa.PublicKey
}

// NewVerifier creates a token verifier from an RSA public key.
func NewVerifier(publicKey *rsa.PublicKey) (*Verifier, error) {
	if publicKey == nil {
		return nil, errors.New("public key is required")
	}
	return &Verifier{publicKey: publicKey}, nil
}

// Verify validates the token signature, issuer, audience, and validity
// window, and returns the claims. Any failure yields ErrInvalidToken or
// ErrExpiredToken; a token is never partially trusted.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: user_id", ErrMissingClaim)
	}

	return claims, nil
}
