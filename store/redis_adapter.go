package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"journeysync/journey"
)

// RedisStorage is a Redis-backed storage adapter.
type RedisStorage struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStorage creates a Redis adapter using the given client. keyPrefix
// namespaces the keys; "journey" is used when empty.
func NewRedisStorage(client *redis.Client, keyPrefix string) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = "journey"
	}
	return &RedisStorage{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStorage) documentKey(id string) string {
	return fmt.Sprintf("%s:doc:%s", s.keyPrefix, id)
}

func (s *RedisStorage) historyKey(id string) string {
	return fmt.Sprintf("%s:history:%s", s.keyPrefix, id)
}

// Get loads a document by id.
func (s *RedisStorage) Get(ctx context.Context, id string) (*journey.Map, error) {
	data, err := s.client.Get(ctx, s.documentKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.Wrapf(ErrNotFound, "document %s", id)
		}
		return nil, errors.Wrap(err, "failed to get document")
	}

	var m journey.Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode document")
	}
	return &m, nil
}

// Put stores a document.
func (s *RedisStorage) Put(ctx context.Context, m *journey.Map) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode document")
	}
	if err := s.client.Set(ctx, s.documentKey(m.ID), data, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to set document")
	}
	return nil
}

// Delete removes a document and its history.
func (s *RedisStorage) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.documentKey(id), s.historyKey(id)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete document")
	}
	return nil
}

// GetHistory loads a document's operation history.
func (s *RedisStorage) GetHistory(ctx context.Context, id string) (*History, error) {
	data, err := s.client.Get(ctx, s.historyKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.Wrapf(ErrNotFound, "history %s", id)
		}
		return nil, errors.Wrap(err, "failed to get history")
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrap(err, "failed to decode history")
	}
	return &h, nil
}

// PutHistory stores a document's operation history.
func (s *RedisStorage) PutHistory(ctx context.Context, id string, h *History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "failed to encode history")
	}
	if err := s.client.Set(ctx, s.historyKey(id), data, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to set history")
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
