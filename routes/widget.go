package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"milna-relay/internal/config"
	"milna-relay/internal/identity"
	"milna-relay/internal/logger"
	"milna-relay/internal/poller"
	"milna-relay/internal/queue"
	"milna-relay/internal/quota"
	"milna-relay/internal/relay"
	"milna-relay/internal/store"
	"milna-relay/internal/telemetry"
	"milna-relay/middleware"
	"milna-relay/models"
	"milna-relay/utils"
)

// AgentStore loads widget agent configs. A nil agent with a nil error
// means the agent does not exist.
type AgentStore interface {
	FindAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

// ConversationStore resolves conversation identifiers for identity
// triples. Satisfied by *identity.ConversationResolver.
type ConversationStore interface {
	Resolve(ctx context.Context, agentID, visitorID, sessionID string) (string, error)
}

// TranscriptEnqueuer queues background work. Satisfied by *asynq.Client.
type TranscriptEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// MongoAgentStore is the production AgentStore backed by the agents
// collection.
type MongoAgentStore struct {
	col *mongo.Collection
}

func NewMongoAgentStore(db *mongo.Database) *MongoAgentStore {
	return &MongoAgentStore{col: db.Collection("agents")}
}

func (s *MongoAgentStore) FindAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	var agent models.Agent
	err := s.col.FindOne(ctx, bson.M{"agent_id": agentID}).Decode(&agent)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}

// WidgetDeps bundles everything the widget endpoints touch.
type WidgetDeps struct {
	Cfg           *config.Config
	Agents        AgentStore
	Conversations ConversationStore
	Messages      *mongo.Collection
	Redis         *redis.Client
	RelayClient   *relay.Client
	Guard         *quota.Guard
	Pending       *store.PendingReplyStore
	Queue         TranscriptEnqueuer
	Metrics       *telemetry.Metrics
}

func SetupWidgetRoutes(router *gin.Engine, deps WidgetDeps) {
	embedAuth := middleware.NewEmbedAuthMiddleware(deps.Cfg)

	widget := router.Group("/api/widget")
	widget.Use(middleware.RateLimitMiddleware(deps.Redis, deps.Cfg))

	// PUBLIC: widget bootstrap config, read by the embed script before the
	// visitor has any token-bearing context.
	widget.GET("/config/:agentId", func(c *gin.Context) {
		agentID := c.Param("agentId")

		agent, err := deps.Agents.FindAgent(c.Request.Context(), agentID)
		if err != nil || agent == nil {
			utils.RespondWithNotFound(c, "Agent not found")
			return
		}

		if !agent.Widget.AllowEmbedding {
			utils.RespondWithForbidden(c, "Embedding not allowed for this agent")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"agent_id":        agent.AgentID,
			"name":            agent.Name,
			"theme_color":     agent.Widget.ThemeColor,
			"logo_url":        agent.Widget.LogoURL,
			"welcome_message": agent.Widget.WelcomeMessage,
		})
	})

	authed := widget.Group("")
	authed.Use(embedAuth.RequireEmbedToken())

	// MAIN RELAY ENDPOINT - one message in, one terminal outcome out.
	authed.POST("/message", func(c *gin.Context) {
		var req models.WidgetMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		agentID := middleware.GetAgentID(c)
		ownerID := middleware.GetOwnerID(c)

		agent, err := deps.Agents.FindAgent(c.Request.Context(), agentID)
		if err != nil || agent == nil {
			utils.RespondWithNotFound(c, "Agent not found")
			return
		}

		if agent.Status != "active" {
			utils.RespondWithForbidden(c, "Agent is not active")
			return
		}

		visitorID := identity.EnsureVisitorID(req.VisitorID)
		sessionID := identity.EnsureSessionID(req.SessionID)

		// Quota gate before anything leaves the building.
		status := deps.Guard.Check(c.Request.Context(), ownerID)
		if !status.Allowed {
			deps.Metrics.RecordQuotaBlock(agentID)
			utils.RespondWithQuotaExceeded(c, deps.Guard.Limit())
			return
		}

		conversationID := req.ConversationID
		if conversationID == "" {
			conversationID, err = deps.Conversations.Resolve(c.Request.Context(), agentID, visitorID, sessionID)
			if err != nil {
				// Correlation is best effort; the exchange still goes out.
				logger.Warn("Conversation resolution failed",
					"agent_id", agentID, "error", err.Error())
				conversationID = ""
			}
		}

		outbound := models.OutboundMessage{
			AgentID:        agentID,
			AgentUUID:      agent.AgentUUID,
			UserID:         ownerID,
			Message:        req.Message,
			VisitorID:      visitorID,
			SessionID:      sessionID,
			ConversationID: conversationID,
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
		}

		start := time.Now()
		result := deps.RelayClient.Relay(c.Request.Context(), outbound)
		deps.Metrics.RecordRelay(agentID, result.Kind.String(), time.Since(start).Seconds())

		switch result.Kind {
		case relay.ResultSuccess:
			finalizeExchange(c, deps, outbound, result.Reply, status)

		case relay.ResultQuotaExceeded:
			deps.Metrics.RecordQuotaBlock(agentID)
			utils.RespondWithQuotaExceeded(c, deps.Guard.Limit())

		case relay.ResultTransportFailure:
			// Synchronous path unavailable: hand over to the polling
			// fallback before giving up on this exchange.
			logger.Warn("Relay transport failure, starting polling fallback",
				"agent_id", agentID, "detail", result.Detail)
			reply, ok := awaitPolledReply(c.Request.Context(), deps, outbound)
			if ok {
				deps.Metrics.RecordPollResolution(agentID, "resolved")
				finalizeExchange(c, deps, outbound, reply, status)
				return
			}
			deps.Metrics.RecordPollResolution(agentID, "failed")
			respondDegraded(c, outbound, status)

		case relay.ResultRemoteError:
			// Full detail stays in the logs; the visitor gets the apology.
			logger.Error("Agent endpoint returned an error",
				"agent_id", agentID, "detail", result.Detail)
			respondDegraded(c, outbound, status)
		}
	})

	// POLLING FALLBACK - the widget checks for an asynchronously produced
	// reply parked by the agent webhook.
	authed.POST("/poll", func(c *gin.Context) {
		var req models.WidgetPollRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		agentID := middleware.GetAgentID(c)
		responseID := identity.ResponseID(agentID, req.VisitorID, req.SessionID)

		reply, err := deps.Pending.Get(c.Request.Context(), responseID)
		if err != nil {
			// A broken store looks like "nothing yet" to the widget.
			logger.Error("Pending reply lookup failed",
				"response_id", responseID, "error", err.Error())
			c.JSON(http.StatusOK, gin.H{"status": "pending"})
			return
		}

		if reply == nil {
			c.JSON(http.StatusOK, gin.H{"status": "pending"})
			return
		}

		// Consume so a later poll does not replay the same reply.
		if err := deps.Pending.Delete(c.Request.Context(), responseID); err != nil {
			logger.Warn("Failed to delete consumed reply", "response_id", responseID)
		}

		if reply.Status == "error" {
			c.JSON(http.StatusOK, gin.H{"status": "error", "error": reply.Error})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "completed", "response": reply.Response})
	})

	// CONVERSATION HISTORY - lets a reloaded widget restore its transcript.
	authed.GET("/history/:conversationId", func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		agentID := middleware.GetAgentID(c)

		cursor, err := deps.Messages.Find(
			c.Request.Context(),
			bson.M{
				"conversation_id": conversationID,
				"agent_id":        agentID,
			},
			options.Find().SetSort(bson.M{"timestamp": 1}),
		)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to retrieve conversation", nil)
			return
		}
		defer cursor.Close(c.Request.Context())

		messages := make([]models.Message, 0)
		if err := cursor.All(c.Request.Context(), &messages); err != nil {
			utils.RespondWithInternalError(c, "Failed to decode messages", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conversationID,
			"messages":        messages,
			"total":           len(messages),
		})
	})
}

// finalizeExchange handles everything a successful reply owes the system:
// usage is recorded exactly once, the transcript is queued, and the widget
// gets its turn.
func finalizeExchange(c *gin.Context, deps WidgetDeps, outbound models.OutboundMessage, reply string, status quota.Status) {
	if err := deps.Guard.RecordUsage(c.Request.Context(), outbound.UserID); err != nil {
		// The reply already cost us the agent call; losing one counter
		// increment is preferable to failing the exchange.
		logger.Error("Failed to record message usage",
			"user_id", outbound.UserID, "error", err.Error())
	}

	enqueueTranscript(deps.Queue, outbound, reply)

	c.JSON(http.StatusOK, models.WidgetMessageResponse{
		Reply:          reply,
		ConversationID: outbound.ConversationID,
		VisitorID:      outbound.VisitorID,
		SessionID:      outbound.SessionID,
		Remaining:      remainingAfterSend(status),
		Timestamp:      time.Now(),
	})
}

// respondDegraded keeps the conversation alive when the agent could not be
// reached: the visitor always gets a conversational turn, never a raw
// error.
func respondDegraded(c *gin.Context, outbound models.OutboundMessage, status quota.Status) {
	c.JSON(http.StatusOK, models.WidgetMessageResponse{
		Reply:          relay.ApologyReply,
		ConversationID: outbound.ConversationID,
		VisitorID:      outbound.VisitorID,
		SessionID:      outbound.SessionID,
		Remaining:      status.Remaining,
		Timestamp:      time.Now(),
	})
}

func remainingAfterSend(status quota.Status) int {
	if status.Unlimited {
		return quota.UnlimitedRemaining
	}
	remaining := status.Remaining - 1
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func enqueueTranscript(client TranscriptEnqueuer, outbound models.OutboundMessage, reply string) {
	task, err := queue.NewTranscriptTask(queue.TranscriptPayload{
		AgentID:        outbound.AgentID,
		VisitorID:      outbound.VisitorID,
		SessionID:      outbound.SessionID,
		ConversationID: outbound.ConversationID,
		Message:        outbound.Message,
		Reply:          reply,
		Timestamp:      time.Now(),
	})
	if err != nil {
		logger.Error("Failed to build transcript task", "error", err.Error())
		return
	}
	if _, err := client.Enqueue(task); err != nil {
		logger.Error("Failed to enqueue transcript task", "error", err.Error())
	}
}

// awaitPolledReply runs one caller-owned listener against the agent's
// check_response action and blocks until it resolves, errors, times out,
// or the request context dies.
func awaitPolledReply(ctx context.Context, deps WidgetDeps, outbound models.OutboundMessage) (string, bool) {
	type outcome struct {
		text string
		ok   bool
	}
	ch := make(chan outcome, 1)

	listener := poller.NewListener(deps.RelayClient)
	listener.Start(poller.Options{
		AgentID:        outbound.AgentID,
		VisitorID:      outbound.VisitorID,
		SessionID:      outbound.SessionID,
		ConversationID: outbound.ConversationID,
		OnResponse: func(text string) {
			ch <- outcome{text: text, ok: true}
		},
		OnError: func(detail string) {
			logger.Error("Polling fallback returned an error",
				"agent_id", outbound.AgentID, "detail", detail)
			ch <- outcome{}
		},
		OnTimeout: func() {
			logger.Warn("Polling fallback timed out", "agent_id", outbound.AgentID)
			ch <- outcome{}
		},
		Timeout:      time.Duration(deps.Cfg.PollTimeoutMs) * time.Millisecond,
		PollInterval: time.Duration(deps.Cfg.PollIntervalMs) * time.Millisecond,
	})
	defer listener.Stop()

	select {
	case o := <-ch:
		return o.text, o.ok
	case <-ctx.Done():
		return "", false
	}
}
