package auth

import (
	"github.com/coreos/go-oidc/v3/oidc"
)

// VerifiedEmail returns the email claim of token when email_verified is
// true.
func VerifiedEmail(token *oidc.IDToken) (string, bool) {
	if token == nil {
		return "", false
	}
	var claims oidc.UserInfo
	if err := token.Claims(&claims); err != nil {
		return "", false
	}
	if !claims.EmailVerified || claims.Email == "" {
		return "", false
	}
	return claims.Email, true
}

// StableID returns "provider:subject", an identifier stable across
// providers that may reuse subjects.
func StableID(token *oidc.IDToken, providerID string) string {
	if token == nil {
		return ""
	}
	return providerID + ":" + token.Subject
}
