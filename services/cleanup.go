package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"milna-relay/internal/config"
	"milna-relay/internal/logger"
)

// CleanupService prunes conversations and transcripts that have gone
// stale. Pending replies in Redis expire on their own TTL; only the Mongo
// side needs sweeping.
type CleanupService struct {
	scheduler *gocron.Scheduler
	db        *mongo.Database
	cfg       *config.Config
}

func NewCleanupService(cfg *config.Config, db *mongo.Database) *CleanupService {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &CleanupService{
		scheduler: s,
		db:        db,
		cfg:       cfg,
	}
}

// Start schedules the cleanup job and runs the scheduler in the
// background.
func (c *CleanupService) Start() error {
	_, err := c.scheduler.Cron(c.cfg.CleanupCron).Tag("conversation-cleanup").Do(func() {
		if err := c.pruneStaleConversations(); err != nil {
			logger.Error("Conversation cleanup failed", "error", err.Error())
		}
	})
	if err != nil {
		return err
	}

	c.scheduler.StartAsync()
	logger.Info("Cleanup scheduler started", "cron", c.cfg.CleanupCron)
	return nil
}

// Stop stops the scheduler
func (c *CleanupService) Stop() {
	c.scheduler.Stop()
}

func (c *CleanupService) pruneStaleConversations() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -c.cfg.ConversationMaxAgeDays)

	conversations, err := c.db.Collection("conversations").DeleteMany(
		ctx, bson.M{"last_message_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return err
	}

	messages, err := c.db.Collection("messages").DeleteMany(
		ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return err
	}

	logger.Info("Pruned stale conversation data",
		"conversations", conversations.DeletedCount,
		"messages", messages.DeletedCount,
		"cutoff", cutoff.Format(time.RFC3339))
	return nil
}
