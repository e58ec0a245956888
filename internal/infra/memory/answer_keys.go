package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-live/internal/domain"
)

// KeyLoader fetches a session's answer keys from a backing store.
type KeyLoader interface {
	LoadAnswerKeys(ctx context.Context, sessionID string) (map[string]domain.AnswerLabel, error)
}

// AnswerKeyCache caches per-session answer keys with TTL so the submit
// path does not hit the backing store on every racing submission.
type AnswerKeyCache struct {
	loader KeyLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedKeys
}

type cachedKeys struct {
	keys      map[string]domain.AnswerLabel
	expiresAt time.Time
}

func NewAnswerKeyCache(loader KeyLoader, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedKeys),
	}
}

// CorrectLabel resolves the canonical correct label for one question.
func (c *AnswerKeyCache) CorrectLabel(ctx context.Context, sessionID, gameQuestionID string) (domain.AnswerLabel, error) {
	keys, err := c.sessionKeys(ctx, sessionID)
	if err != nil {
		return "", err
	}
	label, ok := keys[gameQuestionID]
	if !ok {
		return "", domain.ErrQuestionNotFound
	}
	return label, nil
}

func (c *AnswerKeyCache) sessionKeys(ctx context.Context, sessionID string) (map[string]domain.AnswerLabel, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[sessionID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.keys, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(sessionID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[sessionID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.keys, nil
		}
		c.mu.RUnlock()

		keys, err := c.loader.LoadAnswerKeys(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[sessionID] = cachedKeys{keys: keys, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]domain.AnswerLabel), nil
}

func (c *AnswerKeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
