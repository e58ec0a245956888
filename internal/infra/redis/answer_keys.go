package redis

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-live/internal/domain"
)

// KeyLoader fetches a session's answer keys from the durable store.
type KeyLoader interface {
	LoadAnswerKeys(ctx context.Context, sessionID string) (map[string]domain.AnswerLabel, error)
}

// AnswerKeyCache caches canonical correct labels in Redis (hash per
// session) and falls back to the loader on a miss.
// Keys are stored as: HSET session:{sessionID}:answers {questionID} {label}
type AnswerKeyCache struct {
	client *redis.Client
	loader KeyLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewAnswerKeyCache(client *redis.Client, loader KeyLoader, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
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
	return domain.AnswerLabel(label), nil
}

func (c *AnswerKeyCache) sessionKeys(ctx context.Context, sessionID string) (map[string]string, error) {
	key := c.answersKey(sessionID)

	cached, err := c.client.HGetAll(ctx, key).Result()
	if err == nil && len(cached) > 0 {
		return cached, nil
	}

	result, err, _ := c.sf.Do(sessionID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		cached, err := c.client.HGetAll(ctx, key).Result()
		if err == nil && len(cached) > 0 {
			return cached, nil
		}

		loaded, err := c.loader.LoadAnswerKeys(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		flat := make(map[string]string, len(loaded))
		pipe := c.client.Pipeline()
		for questionID, label := range loaded {
			flat[questionID] = string(label)
			pipe.HSet(ctx, key, questionID, string(label))
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return flat, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]string), nil
}

func (c *AnswerKeyCache) answersKey(sessionID string) string {
	return "session:" + sessionID + ":answers"
}

func (c *AnswerKeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
