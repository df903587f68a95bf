package quota

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"milna-relay/internal/logger"
	"milna-relay/models"
)

const (
	// DefaultMessageLimit is the free-plan cap on relayed messages.
	DefaultMessageLimit = 100

	// UnlimitedRemaining is the sentinel reported for pro/redeemed
	// profiles, which have no cap.
	UnlimitedRemaining = -1
)

// Store reads and mutates the per-owner usage record. The billing
// collaborator owns the subscription flags; this package only reads them.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	IncrementMessageCount(ctx context.Context, userID string) error
}

// Status is the read-only verdict for one quota check.
type Status struct {
	Allowed   bool
	Remaining int
	Unlimited bool
}

// Guard decides whether another outbound message is permitted for an
// owner, and records usage after a successful relay.
type Guard struct {
	store Store
	limit int
}

func NewGuard(store Store, limit int) *Guard {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return &Guard{store: store, limit: limit}
}

// Check evaluates the cap for one owner. A store read failure fails open:
// blocking every visitor on a transient infrastructure error is worse than
// letting a capped owner slip a few messages, so the error is logged and
// the message is allowed through.
func (g *Guard) Check(ctx context.Context, userID string) Status {
	profile, err := g.store.GetProfile(ctx, userID)
	if err != nil {
		logger.Error("Quota check failed, allowing message (fail open)", "user_id", userID, "error", err.Error())
		return Status{Allowed: true, Remaining: g.limit}
	}

	if profile == nil {
		// No usage recorded yet.
		return Status{Allowed: true, Remaining: g.limit}
	}

	if profile.Unlimited() {
		return Status{Allowed: true, Remaining: UnlimitedRemaining, Unlimited: true}
	}

	remaining := g.limit - profile.MessageCount
	if remaining < 0 {
		remaining = 0
	}
	return Status{Allowed: profile.MessageCount < g.limit, Remaining: remaining}
}

// RecordUsage increments the owner's message counter by exactly one. It is
// invoked once per successfully relayed message, never on failure, and
// never twice for the same message even when the transport fell back to
// the direct endpoint.
func (g *Guard) RecordUsage(ctx context.Context, userID string) error {
	return g.store.IncrementMessageCount(ctx, userID)
}

// Limit returns the configured message cap.
func (g *Guard) Limit() int {
	return g.limit
}

// MongoStore is the production Store backed by the profiles collection.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection("profiles")}
}

func (s *MongoStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.col.FindOne(ctx, bson.M{"user_id": userID}).Decode(&profile)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (s *MongoStore) IncrementMessageCount(ctx context.Context, userID string) error {
	now := time.Now()
	_, err := s.col.UpdateOne(
		ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$inc": bson.M{"message_count": 1},
			"$set": bson.M{"updated_at": now},
			"$setOnInsert": bson.M{
				"user_id":    userID,
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}
