package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// BlockRecord is the persisted form of an applied IP block.
type BlockRecord struct {
	IPAddress    string    `json:"ipAddress"`
	BlockedUntil time.Time `json:"blockedUntil"`
	Reason       string    `json:"reason"`
}

// BlockStore persists IP blocks outside the process so they survive
// restarts. Implementations are best-effort.
type BlockStore interface {
	PersistBlock(addr string, until time.Time, reason string)
	LoadBlocks(ctx context.Context) ([]BlockRecord, error)
	Close() error
}

// RedisConfig holds Redis connection settings for block persistence.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// RedisBlockStore persists blocks as TTL'd Redis keys: the key expires
// with the block, so Redis never serves a stale block on restore.
type RedisBlockStore struct {
	client *redis.Client
	prefix string
}

// NewRedisBlockStore connects to Redis and verifies the connection.
func NewRedisBlockStore(cfg RedisConfig) (*RedisBlockStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "websentry:block:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBlockStore{client: client, prefix: cfg.KeyPrefix}, nil
}

// PersistBlock writes the block record with a TTL matching the block
// duration. Best-effort: failures are logged and absorbed.
func (r *RedisBlockStore) PersistBlock(addr string, until time.Time, reason string) {
	ttl := time.Until(until)
	if ttl <= 0 {
		return
	}

	record := BlockRecord{IPAddress: addr, BlockedUntil: until, Reason: reason}
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to marshal block record", "ip", addr, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+addr, data, ttl).Err(); err != nil {
		slog.Warn("failed to persist ip block", "ip", addr, "error", err)
		return
	}
	slog.Debug("persisted ip block", "ip", addr, "until", until)
}

// LoadBlocks returns all still-live persisted blocks.
func (r *RedisBlockStore) LoadBlocks(ctx context.Context) ([]BlockRecord, error) {
	var records []BlockRecord

	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // Expired between scan and get
			}
			return nil, fmt.Errorf("failed to read block record: %w", err)
		}

		var record BlockRecord
		if err := json.Unmarshal(data, &record); err != nil {
			slog.Warn("skipping malformed block record", "key", iter.Val(), "error", err)
			continue
		}
		records = append(records, record)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan block records: %w", err)
	}

	return records, nil
}

// Close releases the Redis connection.
func (r *RedisBlockStore) Close() error {
	return r.client.Close()
}

// NoopBlockStore is used when no persistence destination is
// configured. Absence of configuration is a no-op, not an error.
type NoopBlockStore struct{}

func (NoopBlockStore) PersistBlock(string, time.Time, string) {}

func (NoopBlockStore) LoadBlocks(context.Context) ([]BlockRecord, error) { return nil, nil }

func (NoopBlockStore) Close() error { return nil }
