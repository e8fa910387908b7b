package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps conversation data and transfer records in Redis. Records
// carry a key TTL, so Redis expires them on its own.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) conversationKey(userID int64) string {
	return fmt.Sprintf("%sconversation:%d", s.prefix, userID)
}

func (s *RedisStore) transferKey(receiverID int64) string {
	return fmt.Sprintf("%stransfer:%d", s.prefix, receiverID)
}

func (s *RedisStore) GetConversation(ctx context.Context, userID int64) (json.RawMessage, error) {
	val, err := s.client.Get(ctx, s.conversationKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoConversation
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return json.RawMessage(val), nil
}

func (s *RedisStore) SetConversation(ctx context.Context, userID int64, data json.RawMessage) error {
	return s.client.Set(ctx, s.conversationKey(userID), []byte(data), 0).Err()
}

func (s *RedisStore) ClearConversation(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, s.conversationKey(userID)).Err()
}

func (s *RedisStore) PutTransfer(ctx context.Context, rec Record) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: transfer %s to %d", ErrExpired, rec.ID, rec.ReceiverID)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding transfer: %w", err)
	}
	return s.client.Set(ctx, s.transferKey(rec.ReceiverID), body, ttl).Err()
}

func (s *RedisStore) TakeTransfer(ctx context.Context, receiverID int64, now time.Time) (Record, error) {
	// GETDEL takes the record atomically.
	val, err := s.client.GetDel(ctx, s.transferKey(receiverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNoTransfer
	}
	if err != nil {
		return Record{}, fmt.Errorf("taking transfer: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding transfer: %w", err)
	}
	if !rec.ExpiresAt.After(now) {
		return Record{}, ErrNoTransfer
	}
	return rec, nil
}

// DeleteExpired is a no-op: Redis expires transfer keys itself.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
