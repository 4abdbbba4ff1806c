// ABOUTME: Token issuance and verification for quarry services.
// ABOUTME: RS256 JWTs carrying tenant, user, and scope claims.

// Package auth provides the token issuer and verifier shared by the quarry
// services. The issuer signs short-lived RS256 tokens carrying tenant_id,
// user_id, and scopes; the verifier validates signature, issuer, audience,
// and validity window without any shared mutable state beyond the public key.
package auth
