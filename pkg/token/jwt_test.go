package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netsight-go/internal/model"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret")
	tok, err := m.GenerateToken(model.Identity{ID: "alice", Name: "Alice", Email: "a@example.com", Role: model.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	identity, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.ID)
	assert.Equal(t, "a@example.com", identity.Email)
	assert.True(t, identity.IsAdmin())
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("secret")

	expired, err := m.GenerateToken(model.Identity{ID: "alice"}, -time.Minute)
	require.NoError(t, err)
	_, err = m.VerifyToken(expired)
	assert.Error(t, err)

	foreign, err := NewJWTManager("other").GenerateToken(model.Identity{ID: "alice"}, time.Hour)
	require.NoError(t, err)
	_, err = m.VerifyToken(foreign)
	assert.Error(t, err)

	anonymous, err := m.GenerateToken(model.Identity{}, time.Hour)
	require.NoError(t, err)
	_, err = m.VerifyToken(anonymous)
	assert.Error(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, CustomClaims{IdentityID: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.VerifyToken(none)
	assert.Error(t, err)

	_, err = m.VerifyToken("not-a-token")
	assert.Error(t, err)
}
