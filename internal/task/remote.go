package task

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/specforge/internal/errors"
)

// RedisSequence keeps counters in Redis, one key per prefix
type RedisSequence struct {
	client *redis.Client
	prefix string
}

// observeScript raises a counter to at least ARGV[1]
var observeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
  redis.call('SET', KEYS[1], floor)
  return floor
end
return current
`)

// OpenRedis connects to the Redis server at url
func OpenRedis(ctx context.Context, url string) (*RedisSequence, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, fmt.Sprintf("invalid redis url: %v", err))
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewIOError(errors.ErrCodeSequenceFailed, "failed to reach redis", err)
	}
	return NewRedisSequence(client), nil
}

// NewRedisSequence wraps an existing client
func NewRedisSequence(client *redis.Client) *RedisSequence {
	return &RedisSequence{client: client, prefix: "specforge:seq:"}
}

// Next implements Sequence
func (s *RedisSequence) Next(ctx context.Context, prefix string) (int, error) {
	n, err := s.client.Incr(ctx, s.prefix+prefix).Result()
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeSequenceFailed, fmt.Sprintf("failed to allocate %s id", prefix), err)
	}
	return int(n), nil
}

// Observe implements Sequence
func (s *RedisSequence) Observe(ctx context.Context, prefix string, n int) error {
	if err := observeScript.Run(ctx, s.client, []string{s.prefix + prefix}, n).Err(); err != nil {
		return errors.NewIOError(errors.ErrCodeSequenceFailed, fmt.Sprintf("failed to record %s-%d", prefix, n), err)
	}
	return nil
}

// Ping implements Sequence
func (s *RedisSequence) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Sequence
func (s *RedisSequence) Close() error {
	return s.client.Close()
}

const postgresSchema = `CREATE TABLE IF NOT EXISTS specforge_sequences (
	prefix TEXT PRIMARY KEY,
	value  BIGINT NOT NULL
)`

// PostgresSequence keeps counters in a shared PostgreSQL table
type PostgresSequence struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and creates the sequence table if needed
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSequence, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, fmt.Sprintf("invalid postgres dsn: %v", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewIOError(errors.ErrCodeSequenceFailed, "failed to reach postgres", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.NewIOError(errors.ErrCodeSequenceFailed, "failed to migrate sequence table", err)
	}
	return &PostgresSequence{pool: pool}, nil
}

// Next implements Sequence
func (s *PostgresSequence) Next(ctx context.Context, prefix string) (int, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO specforge_sequences (prefix, value) VALUES ($1, 1)
		 ON CONFLICT (prefix) DO UPDATE SET value = specforge_sequences.value + 1
		 RETURNING value`, prefix).Scan(&n)
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeSequenceFailed, fmt.Sprintf("failed to allocate %s id", prefix), err)
	}
	return int(n), nil
}

// Observe implements Sequence
func (s *PostgresSequence) Observe(ctx context.Context, prefix string, n int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO specforge_sequences (prefix, value) VALUES ($1, $2)
		 ON CONFLICT (prefix) DO UPDATE SET value = GREATEST(specforge_sequences.value, EXCLUDED.value)`, prefix, n)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeSequenceFailed, fmt.Sprintf("failed to record %s-%d", prefix, n), err)
	}
	return nil
}

// Ping implements Sequence
func (s *PostgresSequence) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Sequence
func (s *PostgresSequence) Close() error {
	s.pool.Close()
	return nil
}
