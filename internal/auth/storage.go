package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Persisted storage fields.
const (
	FieldAccessToken        = "access_token"
	FieldRefreshToken       = "refresh_token"
	FieldUser               = "user"
	FieldMustChangePassword = "must_change_password"
)

// Persisted is the durable form of an authenticated session.
type Persisted struct {
	AccessToken        string
	RefreshToken       string
	User               *User
	MustChangePassword bool
}

// Storage keeps one session's Persisted value. Load returns nil when nothing
// usable is stored.
type Storage interface {
	Load(ctx context.Context) (*Persisted, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

// RedisStorage stores a session as a Redis hash.
type RedisStorage struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStorage builds the storage for one browser session.
func NewRedisStorage(client *redis.Client, sessionID string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, key: "auth:" + sessionID, ttl: ttl}
}

// Key returns the Redis key backing this storage.
func (s *RedisStorage) Key() string {
	return s.key
}

// Load implements Storage.
func (s *RedisStorage) Load(ctx context.Context) (*Persisted, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("auth: load session: %w", err)
	}
	raw := fields[FieldUser]
	if raw == "" || fields[FieldAccessToken] == "" {
		return nil, nil
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("auth: decode stored user: %w", err)
	}
	return &Persisted{
		AccessToken:        fields[FieldAccessToken],
		RefreshToken:       fields[FieldRefreshToken],
		User:               &user,
		MustChangePassword: fields[FieldMustChangePassword] == "true",
	}, nil
}

// Save implements Storage. The previous value is replaced atomically.
func (s *RedisStorage) Save(ctx context.Context, p Persisted) error {
	if p.User == nil {
		return fmt.Errorf("auth: save session: user missing")
	}
	data, err := json.Marshal(p.User)
	if err != nil {
		return fmt.Errorf("auth: encode user: %w", err)
	}
	values := map[string]any{
		FieldAccessToken:  p.AccessToken,
		FieldRefreshToken: p.RefreshToken,
		FieldUser:         string(data),
	}
	if p.MustChangePassword {
		values[FieldMustChangePassword] = "true"
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, values)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("auth: save session: %w", err)
	}
	return nil
}

// Clear implements Storage.
func (s *RedisStorage) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("auth: clear session: %w", err)
	}
	return nil
}

var _ Storage = (*RedisStorage)(nil)
