package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "paperrag:job:"
	defaultRedisTTL    = 24 * time.Hour
	redisMirrorTimeout = 2 * time.Second
)

// RedisConfig configures the job status mirror
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisMirror copies job snapshots into Redis so other processes can read
// ingestion status. Writes are best effort: failures are logged and never
// affect the job itself.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror connects to Redis and verifies the connection
func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisMirrorWithClient(client, cfg.TTL), nil
}

// NewRedisMirrorWithClient wraps an existing client
func NewRedisMirrorWithClient(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisMirror{client: client, ttl: ttl}
}

// RedisKey returns the key a job is mirrored under
func RedisKey(paperID string) string {
	return redisKeyPrefix + paperID
}

// JobChanged implements Observer
func (r *RedisMirror) JobChanged(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), redisMirrorTimeout)
	defer cancel()

	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("jobs: marshal %s for redis: %v", job.PaperID, err)
		return
	}
	if err := r.client.Set(ctx, RedisKey(job.PaperID), data, r.ttl).Err(); err != nil {
		log.Printf("jobs: mirror %s to redis: %v", job.PaperID, err)
	}
}

// JobRemoved implements Observer
func (r *RedisMirror) JobRemoved(paperID string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisMirrorTimeout)
	defer cancel()

	if err := r.client.Del(ctx, RedisKey(paperID)).Err(); err != nil {
		log.Printf("jobs: remove %s from redis: %v", paperID, err)
	}
}

// Lookup reads a mirrored job. Missing keys return ErrJobNotFound.
func (r *RedisMirror) Lookup(ctx context.Context, paperID string) (Job, error) {
	data, err := r.client.Get(ctx, RedisKey(paperID)).Bytes()
	if err == redis.Nil {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, paperID)
	}
	if err != nil {
		return Job{}, fmt.Errorf("redis get: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// Close closes the underlying client
func (r *RedisMirror) Close() error {
	return r.client.Close()
}
