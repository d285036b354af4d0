package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"duet-quiz-service/internal/domain"
	"duet-quiz-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Catalog caches question sets in Redis (JSON per experience) and falls back
// to a loader on cache miss, so multiple instances share one catalog cache.
type Catalog struct {
	client *redis.Client
	loader memory.CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewCatalog(client *redis.Client, loader memory.CatalogLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

func (c *Catalog) GetSet(ctx context.Context, experience domain.Experience) (domain.QuestionSet, error) {
	key := c.setKey(experience)

	if cached, err := c.client.Get(ctx, key).Result(); err == nil {
		var set domain.QuestionSet
		if err := json.Unmarshal([]byte(cached), &set); err == nil {
			return set, nil
		}
	}

	result, err, _ := c.sf.Do(string(experience), func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if cached, err := c.client.Get(ctx, key).Result(); err == nil {
			var set domain.QuestionSet
			if err := json.Unmarshal([]byte(cached), &set); err == nil {
				return set, nil
			}
		}

		set, err := c.loader.LoadSet(ctx, experience)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		payload, err := json.Marshal(set)
		if err != nil {
			return domain.QuestionSet{}, fmt.Errorf("marshal question set: %w", err)
		}
		_ = c.client.Set(ctx, key, payload, c.ttlWithJitter()).Err()
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

func (c *Catalog) setKey(experience domain.Experience) string {
	return "catalog:" + string(experience)
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
