package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyphahub/msghub/internal/models"
)

func TestGenerateAndParseReconnectionTokenRoundTrip(t *testing.T) {
	v := New("s3cret", "msghub")
	user := &models.User{ID: "alice", Roles: []string{"admin"}, Scopes: []string{"acme"}}

	token, err := v.GenerateReconnectionToken(user, "acme", "c1", time.Hour)
	require.NoError(t, err)

	gotUser, ws, clientID, err := v.ParseReconnectionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", gotUser.ID)
	assert.Equal(t, []string{"admin"}, gotUser.Roles)
	assert.Equal(t, "acme", ws)
	assert.Equal(t, "c1", clientID)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	signer := New("correct-secret", "msghub")
	token, err := signer.GenerateReconnectionToken(&models.User{ID: "alice"}, "acme", "c1", time.Hour)
	require.NoError(t, err)

	verifier := New("wrong-secret", "msghub")
	_, err = verifier.ParseToken(token)
	require.Error(t, err)
}

func TestParseTokenRejectsWrongIssuer(t *testing.T) {
	signer := New("secret", "issuer-a")
	token, err := signer.GenerateReconnectionToken(&models.User{ID: "alice"}, "acme", "c1", time.Hour)
	require.NoError(t, err)

	verifier := New("secret", "issuer-b")
	_, err = verifier.ParseToken(token)
	require.Error(t, err)
}

func TestParseTokenRejectsExpiredToken(t *testing.T) {
	v := New("secret", "msghub")
	token, err := v.GenerateReconnectionToken(&models.User{ID: "alice"}, "acme", "c1", -time.Hour)
	require.NoError(t, err)

	_, err = v.ParseToken(token)
	require.Error(t, err)
}

func TestParseTokenRejectsNonHMACSigningMethod(t *testing.T) {
	v := New("secret", "msghub")
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.ParseToken(signed)
	require.Error(t, err)
}

func TestParseTokenRejectsRootSubject(t *testing.T) {
	v := New("secret", "msghub")
	token, err := v.GenerateReconnectionToken(&models.User{ID: models.RootUserID}, "", "", time.Hour)
	require.NoError(t, err)

	_, err = v.ParseToken(token)
	require.Error(t, err)
}

func TestParseReconnectionTokenRejectsRootSubject(t *testing.T) {
	v := New("secret", "msghub")
	token, err := v.GenerateReconnectionToken(&models.User{ID: models.RootUserID}, "acme", "c1", time.Hour)
	require.NoError(t, err)

	_, _, _, err = v.ParseReconnectionToken(token)
	require.Error(t, err)
}

func TestParseTokenPreservesExpiresAt(t *testing.T) {
	v := New("secret", "msghub")
	token, err := v.GenerateReconnectionToken(&models.User{ID: "alice"}, "acme", "c1", time.Hour)
	require.NoError(t, err)

	user, err := v.ParseToken(token)
	require.NoError(t, err)
	require.NotNil(t, user.ExpiresAt)
}
