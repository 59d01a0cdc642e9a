// Package redisstore backs the session store with Redis, for deployments
// where login state must survive process restarts or be shared across
// replicas behind a load balancer.
package redisstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rayluo/identity/sessions"
)

const defaultKeyPrefix = "idsession"
const defaultTTL = 24 * time.Hour

var _ sessions.Store = (*Store)(nil)

// Store is a sessions.Store for a single browser session, namespaced in
// Redis by session ID. Every write renews the session's TTL.
type Store struct {
	client    *redis.Client
	prefix    string
	sessionID string
	ttl       time.Duration
}

// Option modifies a Store instance.
type Option func(*Store)

// WithKeyPrefix overrides the Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL overrides how long session keys live after their last write.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New creates a store bound to one session ID.
func New(client *redis.Client, sessionID string, options ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("[redisstore.New] redis client is required")
	}
	if sessionID == "" {
		return nil, errors.New("[redisstore.New] session ID is required")
	}

	s := &Store{
		client:    client,
		prefix:    defaultKeyPrefix,
		sessionID: sessionID,
		ttl:       defaultTTL,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// NewSessionID issues a fresh unguessable session identifier for the cookie
// the web app hands to the browser.
func NewSessionID() string {
	return uuid.NewString()
}

func (s *Store) key(key string) string {
	return s.prefix + ":" + s.sessionID + ":" + key
}

func (s *Store) Get(key string) (string, bool, error) {
	v, err := s.client.Get(context.Background(), s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "[redisstore.Get] redis unavailable")
	}
	return v, true, nil
}

func (s *Store) Set(key, value string) error {
	if err := s.client.Set(context.Background(), s.key(key), value, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Set] redis unavailable")
	}
	return nil
}

func (s *Store) Delete(key string) error {
	if err := s.client.Del(context.Background(), s.key(key)).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Delete] redis unavailable")
	}
	return nil
}
