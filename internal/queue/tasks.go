package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"milna-relay/internal/logger"
	"milna-relay/models"
)

const (
	TaskPersistTranscript = "transcript:persist"
)

// TranscriptPayload is one completed exchange queued for persistence off
// the hot path. The widget response has already been sent by the time this
// task runs.
type TranscriptPayload struct {
	AgentID        string    `json:"agent_id"`
	VisitorID      string    `json:"visitor_id"`
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	Message        string    `json:"message"`
	Reply          string    `json:"reply"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewTranscriptTask builds the persistence task for one exchange.
func NewTranscriptTask(p TranscriptPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskPersistTranscript,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
		asynq.Queue("default"),
	), nil
}

// TaskProcessor handles queued work against the main database.
type TaskProcessor struct {
	db *mongo.Database
}

func NewTaskProcessor(db *mongo.Database) *TaskProcessor {
	return &TaskProcessor{db: db}
}

// PersistTranscript writes the exchange to the messages collection and
// bumps the conversation's last-activity marker.
func (p *TaskProcessor) PersistTranscript(ctx context.Context, t *asynq.Task) error {
	var payload TranscriptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	message := models.Message{
		AgentID:        payload.AgentID,
		VisitorID:      payload.VisitorID,
		SessionID:      payload.SessionID,
		ConversationID: payload.ConversationID,
		Message:        payload.Message,
		Reply:          payload.Reply,
		Timestamp:      payload.Timestamp,
	}

	if _, err := p.db.Collection("messages").InsertOne(ctx, message); err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	if payload.ConversationID != "" {
		_, err := p.db.Collection("conversations").UpdateOne(
			ctx,
			bson.M{"conversation_id": payload.ConversationID},
			bson.M{"$set": bson.M{"last_message_at": payload.Timestamp}},
		)
		if err != nil {
			// Transcript is saved; a stale activity marker is not worth a retry.
			logger.Warn("Failed to update conversation activity",
				"conversation_id", payload.ConversationID, "error", err.Error())
		}
	}

	logger.Debug("Transcript persisted",
		"conversation_id", payload.ConversationID, "agent_id", payload.AgentID)
	return nil
}
