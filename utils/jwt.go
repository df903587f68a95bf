package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// EmbedClaims identify which agent a widget install may talk to.
type EmbedClaims struct {
	AgentID string `json:"agent_id"`
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// GenerateEmbedToken signs a widget token for one agent. The dashboard
// bakes this into the embed snippet it hands the business owner.
func GenerateEmbedToken(agentID, ownerID, secret string, expiresIn time.Duration) (string, error) {
	claims := EmbedClaims{
		AgentID: agentID,
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "milna-relay",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateEmbedToken parses and verifies a widget token.
func ValidateEmbedToken(tokenString, secret string) (*EmbedClaims, error) {
	// Remove Bearer prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &EmbedClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %v", err)
	}

	claims, ok := token.Claims.(*EmbedClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.AgentID == "" {
		return nil, fmt.Errorf("token missing agent_id")
	}

	return claims, nil
}
