package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Agent is one embeddable chat widget configuration owned by a user.
type Agent struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AgentID        string             `bson:"agent_id" json:"agent_id"`
	AgentUUID      string             `bson:"agent_uuid" json:"agent_uuid"`
	OwnerID        string             `bson:"owner_id" json:"owner_id"`
	Name           string             `bson:"name" json:"name"`
	Status         string             `bson:"status" json:"status"` // active, inactive, suspended
	Widget         WidgetConfig       `bson:"widget" json:"widget"`
	AllowedDomains []string           `bson:"allowed_domains" json:"allowed_domains"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}

// WidgetConfig carries the presentational settings the embed script reads
// at bootstrap time.
type WidgetConfig struct {
	ThemeColor     string `bson:"theme_color" json:"theme_color"`
	LogoURL        string `bson:"logo_url" json:"logo_url"`
	WelcomeMessage string `bson:"welcome_message" json:"welcome_message"`
	AllowEmbedding bool   `bson:"allow_embedding" json:"allow_embedding"`
}
