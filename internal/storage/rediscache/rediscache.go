// Package rediscache wraps a SessionStore with a Redis read-through cache.
// Refresh lookups happen on every token refresh, so keeping hot sessions in
// Redis takes that read off the database. The cache is best-effort: any Redis
// failure falls through to the underlying store.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/storage"
	"github.com/medplain/medplain/pkg/logger"
)

const (
	hashKeyPrefix = "medplain:session:hash:"
	idKeyPrefix   = "medplain:session:id:"
)

// cacheTTL bounds how long a cached session may go without revalidation.
const cacheTTL = 5 * time.Minute

// record is the cached wire form. Session's own JSON form omits the token
// hash, which the cache needs back on read.
type record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TokenHash  string    `json:"token_hash"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func toRecord(s user.Session) record {
	return record{
		ID:         s.ID,
		UserID:     s.UserID,
		TokenHash:  s.TokenHash,
		UserAgent:  s.UserAgent,
		RemoteAddr: s.RemoteAddr,
		ExpiresAt:  s.ExpiresAt,
		LastSeenAt: s.LastSeenAt,
		CreatedAt:  s.CreatedAt,
	}
}

func (r record) session() user.Session {
	return user.Session{
		ID:         r.ID,
		UserID:     r.UserID,
		TokenHash:  r.TokenHash,
		UserAgent:  r.UserAgent,
		RemoteAddr: r.RemoteAddr,
		ExpiresAt:  r.ExpiresAt,
		LastSeenAt: r.LastSeenAt,
		CreatedAt:  r.CreatedAt,
	}
}

// SessionCache is a Redis-backed read-through cache over a SessionStore.
// Alongside each session entry it keeps an id -> token hash index so that
// token rotation and logout can evict the entry keyed by the old hash
// instead of letting a revoked token resolve from cache until TTL.
type SessionCache struct {
	next   storage.SessionStore
	client *redis.Client
	log    *logger.Logger
}

var _ storage.SessionStore = (*SessionCache)(nil)

// New wraps the given store. The Redis client is assumed to be configured
// and pinged by the caller.
func New(next storage.SessionStore, client *redis.Client, log *logger.Logger) *SessionCache {
	if log == nil {
		log = logger.NewDefault("rediscache")
	}
	return &SessionCache{next: next, client: client, log: log}
}

// CreateSession writes through to the store and primes the cache.
func (c *SessionCache) CreateSession(ctx context.Context, s user.Session) (user.Session, error) {
	created, err := c.next.CreateSession(ctx, s)
	if err != nil {
		return user.Session{}, err
	}
	c.put(ctx, created)
	return created, nil
}

// GetSessionByTokenHash checks Redis first and falls back to the store on
// miss or error.
func (c *SessionCache) GetSessionByTokenHash(ctx context.Context, tokenHash string) (user.Session, error) {
	raw, err := c.client.Get(ctx, hashKeyPrefix+tokenHash).Bytes()
	if err == nil {
		var rec record
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
			return rec.session(), nil
		}
		// Corrupt entry: drop it and fall through.
		c.client.Del(ctx, hashKeyPrefix+tokenHash)
	} else if err != redis.Nil {
		c.log.WithError(err).Warn("session cache read failed")
	}

	s, err := c.next.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		return user.Session{}, err
	}
	c.put(ctx, s)
	return s, nil
}

// UpdateSession writes through and re-keys the cache. Token rotation changes
// the hash, so the entry keyed by the previous hash must be evicted.
func (c *SessionCache) UpdateSession(ctx context.Context, s user.Session) (user.Session, error) {
	c.evict(ctx, s.ID)

	updated, err := c.next.UpdateSession(ctx, s)
	if err != nil {
		return user.Session{}, err
	}
	c.put(ctx, updated)
	return updated, nil
}

// DeleteSession evicts the cached entry and removes the session.
func (c *SessionCache) DeleteSession(ctx context.Context, id string) error {
	c.evict(ctx, id)
	return c.next.DeleteSession(ctx, id)
}

// DeleteExpiredSessions delegates; expired cache entries age out on TTL,
// and the put TTL never outlives the session expiry.
func (c *SessionCache) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error) {
	return c.next.DeleteExpiredSessions(ctx, cutoff)
}

func (c *SessionCache) put(ctx context.Context, s user.Session) {
	raw, err := json.Marshal(toRecord(s))
	if err != nil {
		return
	}
	ttl := cacheTTL
	if remaining := time.Until(s.ExpiresAt); remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, hashKeyPrefix+s.TokenHash, raw, ttl)
	pipe.Set(ctx, idKeyPrefix+s.ID, s.TokenHash, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).Warn("session cache write failed")
	}
}

func (c *SessionCache) evict(ctx context.Context, id string) {
	hash, err := c.client.Get(ctx, idKeyPrefix+id).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("session cache eviction lookup failed")
		}
		return
	}
	c.client.Del(ctx, hashKeyPrefix+hash, idKeyPrefix+id)
}
