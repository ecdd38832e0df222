package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims are the JWT claims carried by access tokens. The user ID lives
// in the registered subject claim.
type TokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the authenticated user's identifier.
func (c *TokenClaims) UserID() string {
	return c.Subject
}
