package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedTokenRoundTrip(t *testing.T) {
	token, err := GenerateEmbedToken("agent-1", "owner-1", "test-secret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateEmbedToken(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.AgentID)
	assert.Equal(t, "owner-1", claims.OwnerID)
}

func TestEmbedTokenBearerPrefix(t *testing.T) {
	token, err := GenerateEmbedToken("agent-1", "owner-1", "test-secret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateEmbedToken("Bearer "+token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.AgentID)
}

func TestEmbedTokenWrongSecret(t *testing.T) {
	token, err := GenerateEmbedToken("agent-1", "owner-1", "test-secret", time.Hour)
	require.NoError(t, err)

	_, err = ValidateEmbedToken(token, "other-secret")
	assert.Error(t, err)
}

func TestEmbedTokenExpired(t *testing.T) {
	token, err := GenerateEmbedToken("agent-1", "owner-1", "test-secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateEmbedToken(token, "test-secret")
	assert.Error(t, err)
}
