package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "pending_reply:"

// PendingReply is one asynchronously produced agent reply parked until the
// widget polls for it.
type PendingReply struct {
	Status   string    `json:"status"` // completed or error
	Response string    `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

// PendingReplyStore holds async agent replies in Redis, keyed by the
// deterministic response_id composite. Entries expire on their own; the
// TTL bounds how long a visitor can miss a reply before it is gone.
type PendingReplyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPendingReplyStore(rdb *redis.Client, ttl time.Duration) *PendingReplyStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PendingReplyStore{rdb: rdb, ttl: ttl}
}

// Put stores a reply for later pickup, overwriting any previous entry for
// the same response_id.
func (s *PendingReplyStore) Put(ctx context.Context, responseID string, reply PendingReply) error {
	reply.StoredAt = time.Now()
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode pending reply: %w", err)
	}
	if err := s.rdb.Set(ctx, pendingKeyPrefix+responseID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store pending reply: %w", err)
	}
	return nil
}

// Get returns the parked reply for a response_id, or nil when none is
// waiting.
func (s *PendingReplyStore) Get(ctx context.Context, responseID string) (*PendingReply, error) {
	data, err := s.rdb.Get(ctx, pendingKeyPrefix+responseID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending reply: %w", err)
	}

	var reply PendingReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decode pending reply: %w", err)
	}
	return &reply, nil
}

// Delete removes a consumed reply so a later poll does not replay it.
func (s *PendingReplyStore) Delete(ctx context.Context, responseID string) error {
	return s.rdb.Del(ctx, pendingKeyPrefix+responseID).Err()
}
