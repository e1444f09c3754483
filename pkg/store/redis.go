package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// RedisStore keeps msgpack-encoded documents under "<collection>:<id>" keys.
// A zero TTL stores documents without expiry.
type RedisStore struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
}

// NewRedisStore creates and connects a RedisStore. It pings the server to
// ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStore{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
		ttl:         cfg.TTL,
	}, nil
}

func redisKey(collection, id string) string {
	return collection + ":" + id
}

// FindByIDs reads every id with a single MGET.
func (s *RedisStore) FindByIDs(ctx context.Context, collection string, ids []string) ([]types.Document, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKey(collection, id)
	}

	values, err := s.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %s: %w", collection, err)
	}

	out := make([]types.Document, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected redis value type %T for %s", v, keys[i])
		}
		var doc types.Document
		if err := msgpack.Unmarshal([]byte(raw), &doc); err != nil {
			s.logger.Error().Err(err).Str("key", keys[i]).Msg("Failed to unmarshal cached document.")
			return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
		}
		out = append(out, doc)
	}
	s.logger.Debug().Str("collection", collection).Int("requested", len(ids)).Int("found", len(out)).Msg("Redis lookup.")
	return out, nil
}

// UpsertMany writes docs in a single transactional pipeline.
func (s *RedisStore) UpsertMany(ctx context.Context, collection string, docs []types.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := requireIDs(docs); err != nil {
		return err
	}

	pipe := s.redisClient.TxPipeline()
	for _, doc := range docs {
		data, err := msgpack.Marshal(map[string]any(doc))
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", collection, doc.ID(), err)
		}
		pipe.Set(ctx, redisKey(collection, doc.ID()), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error().Err(err).Str("collection", collection).Msg("Failed to write documents to Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Ping verifies the Redis server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redisClient.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
