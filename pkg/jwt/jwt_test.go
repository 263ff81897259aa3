package jwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessToken_RoundTrip(t *testing.T) {
	m := NewManager("test-secret-key-for-testing-only-32b!", 900, 86400)

	token, err := m.GenerateAccessToken("u1", "alice", 2)
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Nickname)
	assert.Equal(t, 2, claims.Level)
}

func TestVerify_Expired(t *testing.T) {
	m := NewManager("test-secret", -60, -60)

	token, err := m.GenerateAccessToken("u1", "", 1)
	require.NoError(t, err)

	_, err = m.VerifyToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer := NewManager("secret-a", 900, 900)
	verifier := NewManager("secret-b", 900, 900)

	token, _ := issuer.GenerateAccessToken("u1", "", 1)
	_, err := verifier.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAccessToken_RejectsRefresh(t *testing.T) {
	m := NewManager("test-secret", 900, 900)

	refresh, err := m.GenerateRefreshToken("u1")
	require.NoError(t, err)

	_, err = m.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	claims, err := m.VerifyToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestVerify_Garbage(t *testing.T) {
	m := NewManager("test-secret", 900, 900)
	_, err := m.VerifyToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
