package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"milna-relay/models"
)

// EnsureVisitorID returns the given visitor identifier, minting a new one
// when the widget did not send one (first visit, cleared storage). The
// widget persists the returned value in durable browser storage so it is
// stable across sessions.
func EnsureVisitorID(id string) string {
	if id != "" {
		return id
	}
	return "visitor_" + uuid.NewString()
}

// EnsureSessionID returns the given session identifier, minting a new one
// when missing. The widget keeps it in session-scoped storage, so it
// resets per tab/session.
func EnsureSessionID(id string) string {
	if id != "" {
		return id
	}
	return "session_" + uuid.NewString()
}

// ResponseID is the deterministic composite used to correlate a poll with
// its originating message without a separate session store. The agent
// workflow computes the same key on its side.
func ResponseID(agentID, visitorID, sessionID string) string {
	return fmt.Sprintf("%s_%s_%s", agentID, visitorID, sessionID)
}

// ConversationResolver mints and reuses conversation identifiers for
// (agent, visitor, session) triples.
type ConversationResolver struct {
	col *mongo.Collection
}

func NewConversationResolver(db *mongo.Database) *ConversationResolver {
	return &ConversationResolver{col: db.Collection("conversations")}
}

// Resolve returns the conversation ID for the triple, creating one on the
// first message. Subsequent messages in the same triple get the same ID.
func (r *ConversationResolver) Resolve(ctx context.Context, agentID, visitorID, sessionID string) (string, error) {
	now := time.Now()
	filter := bson.M{
		"agent_id":   agentID,
		"visitor_id": visitorID,
		"session_id": sessionID,
	}
	update := bson.M{
		"$set": bson.M{"last_message_at": now},
		"$setOnInsert": bson.M{
			"conversation_id": "conv_" + uuid.NewString(),
			"agent_id":        agentID,
			"visitor_id":      visitorID,
			"session_id":      sessionID,
			"created_at":      now,
		},
	}

	var conv models.Conversation
	err := r.col.FindOneAndUpdate(
		ctx,
		filter,
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&conv)
	if err != nil {
		return "", fmt.Errorf("resolve conversation: %w", err)
	}
	return conv.ConversationID, nil
}
