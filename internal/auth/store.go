package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"librarydesk/internal/redis"
)

const redisTokenPrefix = "desk:token:"

// TokenStore maps desk session tokens to desk ids.
type TokenStore interface {
	Save(ctx context.Context, token, deskID string, ttl time.Duration) error
	// Lookup returns ErrInvalidToken for unknown or expired tokens.
	Lookup(ctx context.Context, token string) (string, error)
	// Touch extends the lifetime of a known token.
	Touch(ctx context.Context, token string, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

type memoryEntry struct {
	deskID  string
	expires time.Time
}

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]memoryEntry
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, token, deskID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token]; exists {
		return errors.New("token already issued")
	}
	s.tokens[token] = memoryEntry{deskID: deskID, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	if !s.now().Before(entry.expires) {
		delete(s.tokens, token)
		return "", ErrInvalidToken
	}
	return entry.deskID, nil
}

func (s *MemoryStore) Touch(_ context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[token]
	if !ok {
		return ErrInvalidToken
	}
	entry.expires = s.now().Add(ttl)
	s.tokens[token] = entry
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

// RedisStore keeps tokens as expiring redis keys shared by every librarydesk
// process. The desk behind a token still lives only in the registry of the
// process that created it, so the balancer must route a session back to that
// instance; elsewhere the token validates but the desk lookup answers 401.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, token, deskID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisTokenPrefix+token, deskID, ttl); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (string, error) {
	deskID, err := s.client.Get(ctx, redisTokenPrefix+token)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return deskID, nil
}

func (s *RedisStore) Touch(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, redisTokenPrefix+token, ttl); err != nil {
		return fmt.Errorf("touch token: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, redisTokenPrefix+token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
