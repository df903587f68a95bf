package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OutboundMessage is the JSON body sent to the agent endpoint. It is built
// once at send time and never mutated afterwards.
type OutboundMessage struct {
	AgentID        string `json:"agent_id"`
	AgentUUID      string `json:"agent_uuid"`
	UserID         string `json:"user_id,omitempty"`
	Message        string `json:"message"`
	VisitorID      string `json:"visitor_id"`
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Timestamp      string `json:"timestamp"` // ISO-8601
}

// CheckResponseRequest is the polling variant of the relay request.
type CheckResponseRequest struct {
	Action     string `json:"action"`
	ResponseID string `json:"response_id"`
	AgentID    string `json:"agent_id"`
	VisitorID  string `json:"visitor_id"`
	SessionID  string `json:"session_id"`
}

// Message is a persisted conversation turn.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AgentID        string             `bson:"agent_id" json:"agent_id"`
	VisitorID      string             `bson:"visitor_id" json:"visitor_id"`
	SessionID      string             `bson:"session_id" json:"session_id"`
	ConversationID string             `bson:"conversation_id" json:"conversation_id"`
	Message        string             `bson:"message" json:"message"`
	Reply          string             `bson:"reply" json:"reply"`
	Timestamp      time.Time          `bson:"timestamp" json:"timestamp"`
}

type WidgetMessageRequest struct {
	Message        string `json:"message" binding:"required,min=1,max=2000"`
	VisitorID      string `json:"visitor_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type WidgetMessageResponse struct {
	Reply          string    `json:"reply"`
	ConversationID string    `json:"conversation_id"`
	VisitorID      string    `json:"visitor_id"`
	SessionID      string    `json:"session_id"`
	Remaining      int       `json:"remaining_messages"`
	Timestamp      time.Time `json:"timestamp"`
}

// WidgetPollRequest identifies the exchange being polled. The agent is
// taken from the embed token, never from the body.
type WidgetPollRequest struct {
	VisitorID string `json:"visitor_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
}

// AgentCallback is the payload the automation engine posts back when a
// reply is produced asynchronously.
type AgentCallback struct {
	ResponseID string `json:"response_id" binding:"required"`
	Status     string `json:"status,omitempty"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}
