package draftstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

const draftKeyPrefix = "preorder:draft:%s"

// RedisStore хранит черновики в Redis, что позволяет нескольким экземплярам
// сервиса видеть одни и те же черновики.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore создаёт хранилище черновиков поверх клиента Redis.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// NewRedisClient создаёт клиент Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Save(ctx context.Context, d *model.Draft, ttl time.Duration) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := s.redis.Set(ctx, draftKey(d.Intent.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, intentID string) (*model.Draft, error) {
	payload, err := s.redis.Get(ctx, draftKey(intentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}

	var d model.Draft
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &d, nil
}

func (s *RedisStore) Delete(ctx context.Context, intentID string) error {
	if err := s.redis.Del(ctx, draftKey(intentID)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

func draftKey(intentID string) string {
	return fmt.Sprintf(draftKeyPrefix, intentID)
}
