package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenRequiresRegisteredCredentials(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials("client-key", "client-secret")

	_, err := svc.GenerateToken(Credentials{APIKey: "client-key", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(Credentials{APIKey: "unknown", APISecret: "client-secret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := svc.GenerateToken(Credentials{APIKey: "client-key", APISecret: "client-secret"})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
}

func TestOwnerClaimOnlyForOwnerCredentials(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials("trader-key", "trader-secret")
	svc.RegisterOwnerCredentials("owner-key", "owner-secret")

	traderToken, err := svc.GenerateToken(Credentials{APIKey: "trader-key", APISecret: "trader-secret"})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(traderToken.Token)
	require.NoError(t, err)
	assert.Equal(t, "trader-key", claims.ClientID)
	assert.False(t, claims.Owner)

	ownerToken, err := svc.GenerateToken(Credentials{APIKey: "owner-key", APISecret: "owner-secret"})
	require.NoError(t, err)
	claims, err = svc.ValidateToken(ownerToken.Token)
	require.NoError(t, err)
	assert.Equal(t, "owner-key", claims.ClientID)
	assert.True(t, claims.Owner)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewService("issuer-secret")
	issuer.RegisterAPICredentials("client-key", "client-secret")
	token, err := issuer.GenerateToken(Credentials{APIKey: "client-key", APISecret: "client-secret"})
	require.NoError(t, err)

	verifier := NewService("different-secret")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}
