package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/screening-engine/internal/models"
)

// KeyPrefix namespaces session snapshots in Redis
const KeyPrefix = "screening:session:"

// RedisPersister stores session snapshots as JSON values in Redis.
// Snapshots expire after ttl unless they hold a pending result.
type RedisPersister struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPersister connects to Redis and verifies the connection
func NewRedisPersister(ctx context.Context, address, password string, db int, ttl time.Duration) (*RedisPersister, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("connected to redis", "address", address, "db", db)

	return NewRedisPersisterFromClient(client, ttl), nil
}

// NewRedisPersisterFromClient wraps an existing client
func NewRedisPersisterFromClient(client *redis.Client, ttl time.Duration) *RedisPersister {
	return &RedisPersister{client: client, ttl: ttl}
}

func sessionKey(userID int64) string {
	return KeyPrefix + strconv.FormatInt(userID, 10)
}

// Save writes the session snapshot
func (p *RedisPersister) Save(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := p.ttl
	if session.HasPending() {
		ttl = 0
	}

	if err := p.client.Set(ctx, sessionKey(session.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes the session snapshot
func (p *RedisPersister) Delete(ctx context.Context, userID int64) error {
	if err := p.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Load reads every stored snapshot. Undecodable values are skipped.
func (p *RedisPersister) Load(ctx context.Context) ([]*models.Session, error) {
	var (
		out    []*models.Session
		cursor uint64
	)

	for {
		keys, next, err := p.client.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}

		for _, key := range keys {
			data, err := p.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue // expired between scan and get
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", key, err)
			}

			var session models.Session
			if err := json.Unmarshal(data, &session); err != nil {
				slog.Warn("skipping undecodable session", "key", key, "error", err)
				continue
			}
			if strings.TrimPrefix(key, KeyPrefix) != strconv.FormatInt(session.UserID, 10) {
				slog.Warn("skipping session stored under a foreign key", "key", key, "user_id", session.UserID)
				continue
			}
			out = append(out, &session)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

// Ping checks the connection
func (p *RedisPersister) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the client
func (p *RedisPersister) Close() error {
	return p.client.Close()
}
