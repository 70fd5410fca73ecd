package drafts

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/corpussync/internal/doi"
)

// RedisStore keeps the registry as a Redis set so several hosts mirroring
// the same corpus can share it.
//
// Keys:
//
//	<prefix>:drafts       set of DOIs
//	<prefix>:drafts:init  present once the registry has been saved
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns a store using keys under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "corpussync"
	}
	return &RedisStore{client: client, key: prefix + ":drafts"}
}

// NewRedisClient parses url and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) initKey() string { return s.key + ":init" }
func (s *RedisStore) tmpKey() string  { return s.key + ":tmp" }

// Load returns the stored set.
func (s *RedisStore) Load(ctx context.Context) (doi.Set, error) {
	n, err := s.client.Exists(ctx, s.initKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("check draft registry: %w", err)
	}
	if n == 0 {
		return nil, ErrNotInitialized
	}

	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read draft registry: %w", err)
	}
	ids := doi.NewSet()
	for _, m := range members {
		id, err := doi.Parse(m)
		if err != nil {
			continue
		}
		ids.Add(id)
	}
	return ids, nil
}

// Save replaces the set inside a MULTI/EXEC transaction: the new members
// are built under a scratch key and renamed over the live key.
func (s *RedisStore) Save(ctx context.Context, ids doi.Set) error {
	members := make([]any, 0, ids.Len())
	for _, id := range ids.Sorted() {
		members = append(members, string(id))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.tmpKey())
		if len(members) == 0 {
			pipe.Del(ctx, s.key)
		} else {
			pipe.SAdd(ctx, s.tmpKey(), members...)
			pipe.Rename(ctx, s.tmpKey(), s.key)
		}
		pipe.Set(ctx, s.initKey(), "1", 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save draft registry: %w", err)
	}
	return nil
}
