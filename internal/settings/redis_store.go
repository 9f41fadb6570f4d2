package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ptz-panel/internal/ptz"
)

// RedisConfig for a RedisStore
type RedisConfig struct {
	Addr      string
	DB        int
	KeyPrefix string // prepended to the fixed keys, e.g. "ptzpanel:"
}

// RedisStore keeps each field of the record under its own string key.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisStore connects to Redis. A failed ping is logged, not fatal;
// later calls report ErrStorageUnavailable until the server is reachable.
func NewRedisStore(ctx context.Context, cfg RedisConfig, log *zap.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
		MaxRetries:   3,
	})
	s := NewRedisStoreFromClient(rdb, cfg.KeyPrefix, log)
	s.ping(ctx)
	return s
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(rdb *redis.Client, prefix string, log *zap.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, log: log.Named("settings.redis")}
}

func (s *RedisStore) ping(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	opts := s.rdb.Options()
	log := s.log.With(zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	start := time.Now()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		log.Warn("connection failed", zap.Error(err), zap.Duration("ping_rtt", time.Since(start)))
		return
	}
	log.Info("connection established", zap.Duration("ping_rtt", time.Since(start)))
}

func (s *RedisStore) key(name string) string { return s.prefix + name }

// Load reads both keys. Missing keys leave defaults.
func (s *RedisStore) Load(ctx context.Context) (Settings, error) {
	vals, err := s.rdb.MGet(ctx, s.key(KeyFavoritePresets), s.key(KeyCurrentAddress)).Result()
	if err != nil {
		return Defaults(), fmt.Errorf("%w: %w", ptz.ErrStorageUnavailable, err)
	}

	st := Defaults()
	if raw, ok := vals[0].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.FavoritePresets); err != nil {
			s.log.Warn("corrupt favorites value, using defaults", zap.Error(err))
			st.FavoritePresets = make(map[string]int)
		}
		if st.FavoritePresets == nil {
			st.FavoritePresets = make(map[string]int)
		}
	}
	if raw, ok := vals[1].(string); ok {
		st.CurrentAddress = raw
	}
	return st, nil
}

// Save writes both keys in one transaction.
func (s *RedisStore) Save(ctx context.Context, st Settings) error {
	favs, err := json.Marshal(st.FavoritePresets)
	if err != nil {
		return fmt.Errorf("encoding favorites: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(KeyFavoritePresets), favs, 0)
		pipe.Set(ctx, s.key(KeyCurrentAddress), st.CurrentAddress, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ptz.ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the Redis client connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
