package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/information-sharing-networks/incremental-auth/internal/picket"
)

const (
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
	fieldAuth      = "auth"
)

// RedisStore keeps sessions in Redis so they survive restarts and can be shared by several replicas.
//
// Each session uses three hashes that expire together:
//
//	session:{id}         created_at, expires_at, auth (json)
//	session:{id}:grants  contract address -> balance
//	session:{id}:errors  community id -> message
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewRedisClient parses a redis:// url and checks the server is reachable
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return client, nil
}

func sessionKey(id string) string { return "session:" + id }
func grantsKey(id string) string  { return "session:" + id + ":grants" }
func errorsKey(id string) string  { return "session:" + id + ":errors" }

func (s *RedisStore) Create(ctx context.Context) (*Record, error) {
	now := s.now().UTC()
	rec := &Record{
		ID:        newID(),
		Grants:    make(map[string]string),
		Errors:    make(map[string]string),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	key := sessionKey(rec.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldCreatedAt, rec.CreatedAt.Format(time.RFC3339Nano),
			fieldExpiresAt, rec.ExpiresAt.Format(time.RFC3339Nano),
			fieldAuth, "",
		)
		pipe.ExpireAt(ctx, key, rec.ExpiresAt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not create session: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	var main, grants, errs *redis.StringStringMapCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		main = pipe.HGetAll(ctx, sessionKey(id))
		grants = pipe.HGetAll(ctx, grantsKey(id))
		errs = pipe.HGetAll(ctx, errorsKey(id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not read session: %w", err)
	}

	fields := main.Val()
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		ID:     id,
		Grants: grants.Val(),
		Errors: errs.Val(),
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	if rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields[fieldExpiresAt]); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	if !s.now().Before(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	if raw := fields[fieldAuth]; raw != "" {
		var state picket.AuthState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("corrupt session %s: %w", id, err)
		}
		rec.Auth = &state
	}
	return rec.Clone(), nil
}

// expiresAt returns the expiry of a live session, or ErrNotFound
func (s *RedisStore) expiresAt(ctx context.Context, id string) (time.Time, error) {
	raw, err := s.client.HGet(ctx, sessionKey(id), fieldExpiresAt).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("could not read session: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	if !s.now().Before(t) {
		return time.Time{}, ErrNotFound
	}
	return t, nil
}

// write runs fn in a transaction after checking the session exists.
// The session key expiry is set again in the same transaction, so a session that expires after the check
// but before the write is not recreated without a ttl.
func (s *RedisStore) write(ctx context.Context, id string, fn func(pipe redis.Pipeliner, expires time.Time)) error {
	expires, err := s.expiresAt(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(pipe, expires)
		pipe.ExpireAt(ctx, sessionKey(id), expires)
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not update session: %w", err)
	}
	return nil
}

func (s *RedisStore) SetAuth(ctx context.Context, id string, state picket.AuthState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("could not marshal auth state: %w", err)
	}
	return s.write(ctx, id, func(pipe redis.Pipeliner, _ time.Time) {
		pipe.HSet(ctx, sessionKey(id), fieldAuth, string(raw))
		pipe.Del(ctx, grantsKey(id), errorsKey(id))
	})
}

func (s *RedisStore) ClearAuth(ctx context.Context, id string) error {
	return s.write(ctx, id, func(pipe redis.Pipeliner, _ time.Time) {
		pipe.HSet(ctx, sessionKey(id), fieldAuth, "")
		pipe.Del(ctx, grantsKey(id), errorsKey(id))
	})
}

func (s *RedisStore) Grant(ctx context.Context, id, contractAddress, balance string) error {
	return s.write(ctx, id, func(pipe redis.Pipeliner, expires time.Time) {
		pipe.HSet(ctx, grantsKey(id), contractAddress, balance)
		pipe.ExpireAt(ctx, grantsKey(id), expires)
	})
}

func (s *RedisStore) SetError(ctx context.Context, id, communityID, message string) error {
	return s.write(ctx, id, func(pipe redis.Pipeliner, expires time.Time) {
		pipe.HSet(ctx, errorsKey(id), communityID, message)
		pipe.ExpireAt(ctx, errorsKey(id), expires)
	})
}

func (s *RedisStore) DeleteError(ctx context.Context, id, communityID string) error {
	return s.write(ctx, id, func(pipe redis.Pipeliner, _ time.Time) {
		pipe.HDel(ctx, errorsKey(id), communityID)
	})
}

func (s *RedisStore) ResetErrors(ctx context.Context, id string) error {
	return s.write(ctx, id, func(pipe redis.Pipeliner, _ time.Time) {
		pipe.Del(ctx, errorsKey(id))
	})
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id), grantsKey(id), errorsKey(id)).Err(); err != nil {
		return fmt.Errorf("could not delete session: %w", err)
	}
	return nil
}
