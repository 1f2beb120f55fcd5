package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_IssueAndValidate(t *testing.T) {
	s := NewTokenService("test-secret", time.Hour)

	token, err := s.Issue("user-1", "a@example.com", "admin")
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestTokenService_RejectsExpired(t *testing.T) {
	s := NewTokenService("test-secret", time.Minute)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	token, err := s.Issue("user-1", "", "user")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("one", time.Hour).Issue("user-1", "", "user")
	require.NoError(t, err)

	_, err = NewTokenService("two", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "user-1"})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewTokenService("test-secret", time.Hour).ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RequiresUserID(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "admin"})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewTokenService("test-secret", time.Hour).ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_NotConfigured(t *testing.T) {
	s := NewTokenService("", time.Hour)
	assert.False(t, s.IsConfigured())

	_, err := s.Issue("user-1", "", "admin")
	assert.ErrorIs(t, err, ErrTokenNotConfigured)

	_, err = s.ValidateToken("anything")
	assert.ErrorIs(t, err, ErrTokenNotConfigured)
}
