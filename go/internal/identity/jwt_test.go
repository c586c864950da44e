package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_IssueAndVerify(t *testing.T) {
	v, err := NewJWTVerifier("test-secret")
	require.NoError(t, err)

	token, err := v.Issue(Identity{PlayerID: "A", DisplayName: "Alice", Avatar: "fox"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{PlayerID: "A", DisplayName: "Alice", Avatar: "fox"}, id)
}

func TestJWTVerifier_Expired(t *testing.T) {
	v, err := NewJWTVerifier("test-secret")
	require.NoError(t, err)
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := v.Issue(Identity{PlayerID: "A"}, time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	issuer, err := NewJWTVerifier("one")
	require.NoError(t, err)
	verifier, err := NewJWTVerifier("two")
	require.NoError(t, err)

	token, err := issuer.Issue(Identity{PlayerID: "A"}, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_RejectsGarbageAndMissingPlayer(t *testing.T) {
	v, err := NewJWTVerifier("test-secret")
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	claims := Claims{StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := NewJWTVerifier("")
	assert.Error(t, err)
}
