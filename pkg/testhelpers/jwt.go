package testhelpers

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateAdminToken signs an HS256 token for subject "test-admin" carrying
// the given roles. It panics on signing failure, which cannot happen with an
// HMAC key.
func GenerateAdminToken(secret string, roles ...string) string {
	claims := jwt.MapClaims{
		"sub":   "test-admin",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
		"roles": roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}

// GenerateAdminTokenWithBearer returns the token with a "Bearer " prefix for
// the Authorization header.
func GenerateAdminTokenWithBearer(secret string, roles ...string) string {
	return "Bearer " + GenerateAdminToken(secret, roles...)
}
