package webauthn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeKeyPrefix = "webauthn:challenge:"

// RedisChallengeStore keeps challenges in Redis so they expire on their
// own and consumption is atomic across replicas.
type RedisChallengeStore struct {
	client *redis.Client
}

// NewRedisChallengeStore builds a Redis-backed challenge store.
func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

func (s *RedisChallengeStore) Create(ctx context.Context, accountID, challenge string, ttl time.Duration) error {
	return s.client.Set(ctx, challengeKeyPrefix+accountID, challenge, ttl).Err()
}

// Consume removes and returns the outstanding challenge via GETDEL, so
// two concurrent verifications cannot both observe it.
func (s *RedisChallengeStore) Consume(ctx context.Context, accountID string) (string, error) {
	val, err := s.client.GetDel(ctx, challengeKeyPrefix+accountID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoChallenge
		}
		return "", fmt.Errorf("consume challenge: %w", err)
	}
	return val, nil
}

type storedChallenge struct {
	value     string
	expiresAt time.Time
}

// MemoryChallengeStore is an in-process ChallengeStore for development
// and tests.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]storedChallenge
	now        func() time.Time
}

// NewMemoryChallengeStore builds an in-process challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[string]storedChallenge), now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryChallengeStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryChallengeStore) Create(_ context.Context, accountID, challenge string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[accountID] = storedChallenge{value: challenge, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryChallengeStore) Consume(_ context.Context, accountID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[accountID]
	if !ok {
		return "", ErrNoChallenge
	}
	delete(s.challenges, accountID)
	if s.now().After(c.expiresAt) {
		return "", ErrNoChallenge
	}
	return c.value, nil
}
