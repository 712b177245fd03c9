// Package presence mirrors live session state into Redis so presence is
// queryable outside the instance holding the websocket connections. Records
// carry a TTL refreshed by heartbeats; a crashed instance's entries simply
// expire.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is what we store for each connected user on a document.
type Record struct {
	UserID          string    `json:"userId"`
	DocumentID      string    `json:"documentId"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// Registry is a Redis-backed presence store.
type Registry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRegistry connects to Redis. The TTL should be comfortably above the
// heartbeat timeout so entries outlive one missed refresh but not a dead
// instance.
func NewRegistry(redisURL string, ttl time.Duration) (*Registry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRegistryWithClient(client, ttl), nil
}

// NewRegistryWithClient wraps an existing Redis client.
func NewRegistryWithClient(client *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Registry{client: client, prefix: "presence:", ttl: ttl}
}

func (r *Registry) key(documentID, userID string) string {
	return r.prefix + documentID + ":" + userID
}

func (r *Registry) docPattern(documentID string) string {
	return r.prefix + documentID + ":*"
}

// Set registers a user on a document.
func (r *Registry) Set(ctx context.Context, documentID, userID string, connectedAt time.Time) error {
	rec := Record{
		UserID:          userID,
		DocumentID:      documentID,
		ConnectedAt:     connectedAt.UTC(),
		LastHeartbeatAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}
	if err := r.client.Set(ctx, r.key(documentID, userID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set presence %s/%s: %w", documentID, userID, err)
	}
	return nil
}

// Refresh extends the TTL and stamps the heartbeat time. Missing entries
// are recreated; a heartbeat is proof of presence.
func (r *Registry) Refresh(ctx context.Context, documentID, userID string) error {
	key := r.key(documentID, userID)
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return r.Set(ctx, documentID, userID, time.Now())
	}
	if err != nil {
		return fmt.Errorf("refresh presence %s/%s: %w", documentID, userID, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return fmt.Errorf("unmarshal presence record: %w", err)
	}
	rec.LastHeartbeatAt = time.Now().UTC()
	updated, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}
	if err := r.client.Set(ctx, key, updated, r.ttl).Err(); err != nil {
		return fmt.Errorf("refresh presence %s/%s: %w", documentID, userID, err)
	}
	return nil
}

// Remove deletes a user's presence entry. Removing a missing entry is fine.
func (r *Registry) Remove(ctx context.Context, documentID, userID string) error {
	if err := r.client.Del(ctx, r.key(documentID, userID)).Err(); err != nil {
		return fmt.Errorf("remove presence %s/%s: %w", documentID, userID, err)
	}
	return nil
}

// List returns every live presence record for a document.
func (r *Registry) List(ctx context.Context, documentID string) ([]Record, error) {
	var records []Record
	iter := r.client.Scan(ctx, 0, r.docPattern(documentID), 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("read presence key %s: %w", iter.Val(), err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal presence record: %w", err)
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence for %s: %w", documentID, err)
	}
	return records, nil
}

// Ping checks if Redis is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Registry) Close() error {
	return r.client.Close()
}
