package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateUserToken(t *testing.T) {
	m := NewManager("secret", "")
	token, err := m.GenerateToken("user-1", time.Hour)
	require.NoError(t, err)

	p, err := m.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "user-1"}, p)
	assert.True(t, p.CanActFor("user-1"))
	assert.False(t, p.CanActFor("user-2"))
}

func TestAuthenticateExpiredToken(t *testing.T) {
	m := NewManager("secret", "")
	token, err := m.GenerateToken("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = m.Authenticate(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAuthenticateWrongSecret(t *testing.T) {
	token, err := NewManager("other", "").GenerateToken("user-1", time.Hour)
	require.NoError(t, err)

	_, err = NewManager("secret", "").Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateServiceKey(t *testing.T) {
	hash, err := HashKey("cron-key")
	require.NoError(t, err)
	m := NewManager("secret", hash)

	p, err := m.Authenticate("cron-key")
	require.NoError(t, err)
	assert.True(t, p.Service)
	assert.True(t, p.CanActFor("anyone"))

	_, err = m.Authenticate("wrong-key")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.Authenticate("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestServiceKeyDisabledWithoutHash(t *testing.T) {
	m := NewManager("secret", "")
	assert.False(t, m.VerifyServiceKey("cron-key"))
	assert.False(t, Principal{}.CanActFor(""))
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	_, ok := TokenFromRequest(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Basic abc")
	_, ok = TokenFromRequest(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer abc")
	token, ok := TokenFromRequest(r)
	assert.True(t, ok)
	assert.Equal(t, "abc", token)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: "user-1"})
	p, ok := PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-1", p.UserID)
}
