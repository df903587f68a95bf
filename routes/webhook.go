package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"milna-relay/internal/logger"
	"milna-relay/internal/relay"
	"milna-relay/internal/store"
	"milna-relay/internal/telemetry"
	"milna-relay/models"
	"milna-relay/utils"
)

// SetupWebhookRoutes wires the callback the automation engine posts to
// when a workflow produces its reply asynchronously. The reply is parked
// in the pending store until the widget polls for it.
func SetupWebhookRoutes(router *gin.Engine, pending *store.PendingReplyStore, metrics *telemetry.Metrics) {
	router.POST("/api/webhook/agent-response", func(c *gin.Context) {
		var callback models.AgentCallback
		if err := c.ShouldBindJSON(&callback); err != nil {
			utils.RespondWithBadRequest(c, "Invalid callback payload", gin.H{"error": err.Error()})
			return
		}

		status := callback.Status
		switch status {
		case "completed", "error":
		default:
			// Workflows that never set a status are treated as completed.
			status = "completed"
		}

		response := callback.Response
		if status == "completed" && response == "" {
			response = relay.FallbackReply
		}

		err := pending.Put(c.Request.Context(), callback.ResponseID, store.PendingReply{
			Status:   status,
			Response: response,
			Error:    callback.Error,
		})
		if err != nil {
			logger.Error("Failed to park agent callback",
				"response_id", callback.ResponseID, "error", err.Error())
			utils.RespondWithInternalError(c, "Failed to store reply", nil)
			return
		}

		metrics.RecordCallbackReply(status)
		logger.Debug("Agent callback parked", "response_id", callback.ResponseID, "status", status)

		c.JSON(http.StatusOK, gin.H{"received": true})
	})
}
