// ABOUTME: HTTP helpers for bearer token authentication.
// ABOUTME: Extracts the Authorization header and builds the request AuthContext.

package auth

import (
	"net/http"
	"strings"
)

// ExtractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func ExtractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticate verifies the request's bearer token and returns the
// AuthContext. The errMsg return is suitable for surfacing to the caller;
// internal verification detail stays in err.
func Authenticate(r *http.Request, verifier TokenVerifier) (authCtx *AuthContext, errMsg string, err error) {
	token, msg := ExtractBearerToken(r.Header.Get("Authorization"))
	if msg != "" {
		return nil, msg, ErrInvalidToken
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		return nil, "invalid or expired token", err
	}

	return &AuthContext{
		TenantID: claims.TenantID,
		UserID:   claims.UserID,
		Scopes:   claims.Scopes,
	}, "", nil
}
