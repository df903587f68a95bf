package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"milna-relay/internal/config"
	"milna-relay/utils"
)

// EmbedAuthMiddleware validates the signed embed token the dashboard
// issues for each agent. The token travels with every widget request and
// pins the request to one agent; a stolen script tag cannot talk to a
// different agent's workflow.
type EmbedAuthMiddleware struct {
	cfg *config.Config
}

func NewEmbedAuthMiddleware(cfg *config.Config) *EmbedAuthMiddleware {
	return &EmbedAuthMiddleware{cfg: cfg}
}

func (m *EmbedAuthMiddleware) RequireEmbedToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			token = c.Query("embed_token")
		}
		if token == "" {
			utils.RespondWithError(c, http.StatusUnauthorized,
				"missing_embed_token", "Embed token required", nil)
			c.Abort()
			return
		}

		claims, err := utils.ValidateEmbedToken(token, m.cfg.EmbedSecret)
		if err != nil {
			utils.RespondWithError(c, http.StatusUnauthorized,
				"invalid_embed_token", "Embed token is invalid or expired", nil)
			c.Abort()
			return
		}

		c.Set("agent_id", claims.AgentID)
		c.Set("owner_id", claims.OwnerID)
		c.Next()
	}
}

// GetAgentID retrieves the authenticated agent ID from context
func GetAgentID(c *gin.Context) string {
	if id, exists := c.Get("agent_id"); exists {
		if str, ok := id.(string); ok {
			return str
		}
	}
	return ""
}

// GetOwnerID retrieves the agent owner's user ID from context
func GetOwnerID(c *gin.Context) string {
	if id, exists := c.Get("owner_id"); exists {
		if str, ok := id.(string); ok {
			return str
		}
	}
	return ""
}
