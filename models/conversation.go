package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation ties a (visitor, session, agent) triple to a stable
// conversation identifier. Minted on the first message of the triple and
// reused for every message after that.
type Conversation struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID string             `bson:"conversation_id" json:"conversation_id"`
	AgentID        string             `bson:"agent_id" json:"agent_id"`
	VisitorID      string             `bson:"visitor_id" json:"visitor_id"`
	SessionID      string             `bson:"session_id" json:"session_id"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	LastMessageAt  time.Time          `bson:"last_message_at" json:"last_message_at"`
}
