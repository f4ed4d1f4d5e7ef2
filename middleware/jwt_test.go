package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() jwtClaims {
	return jwtClaims{
		Email:  "agent@example.com",
		Groups: []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent-123",
			Issuer:    "grcflow",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestJWTValidator_ValidToken(t *testing.T) {
	validator := NewJWTValidator(testSecret, "grcflow")

	token := signToken(t, testSecret, jwt.SigningMethodHS256, validClaims())
	claims, err := validator.ValidateToken(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, "agent-123", claims.Sub)
	assert.Equal(t, "agent@example.com", claims.Email)
	assert.Equal(t, []string{"admin"}, claims.Groups)
	assert.Equal(t, "grcflow", claims.Iss)
	assert.Greater(t, claims.Exp, time.Now().Unix())
}

func TestJWTValidator_ExpiredToken(t *testing.T) {
	validator := NewJWTValidator(testSecret, "grcflow")

	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	_, err := validator.ValidateToken(context.Background(), signToken(t, testSecret, jwt.SigningMethodHS256, claims))
	assert.Error(t, err)
}

func TestJWTValidator_MissingExpiration(t *testing.T) {
	validator := NewJWTValidator(testSecret, "grcflow")

	claims := validClaims()
	claims.ExpiresAt = nil

	_, err := validator.ValidateToken(context.Background(), signToken(t, testSecret, jwt.SigningMethodHS256, claims))
	assert.Error(t, err)
}

func TestJWTValidator_WrongSecret(t *testing.T) {
	validator := NewJWTValidator(testSecret, "grcflow")

	_, err := validator.ValidateToken(context.Background(), signToken(t, "other-secret", jwt.SigningMethodHS256, validClaims()))
	assert.Error(t, err)
}

func TestJWTValidator_WrongIssuer(t *testing.T) {
	validator := NewJWTValidator(testSecret, "grcflow")

	claims := validClaims()
	claims.Issuer = "someone-else"

	_, err := validator.ValidateToken(context.Background(), signToken(t, testSecret, jwt.SigningMethodHS256, claims))
	assert.Error(t, err)
}

func TestJWTValidator_IssuerNotEnforcedWhenUnset(t *testing.T) {
	validator := NewJWTValidator(testSecret, "")

	claims := validClaims()
	claims.Issuer = "anything"

	_, err := validator.ValidateToken(context.Background(), signToken(t, testSecret, jwt.SigningMethodHS256, claims))
	assert.NoError(t, err)
}

func TestJWTValidator_RejectsNonHMACAlgorithm(t *testing.T) {
	validator := NewJWTValidator(testSecret, "grcflow")

	// HS512 is outside the allowed method list
	_, err := validator.ValidateToken(context.Background(), signToken(t, testSecret, jwt.SigningMethodHS512, validClaims()))
	assert.Error(t, err)
}

func TestJWTValidator_GarbageToken(t *testing.T) {
	validator := NewJWTValidator(testSecret, "grcflow")

	_, err := validator.ValidateToken(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}
