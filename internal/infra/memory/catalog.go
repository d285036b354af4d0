package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"duet-quiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches question sets from a backing store (e.g., Postgres).
type CatalogLoader interface {
	LoadSet(ctx context.Context, experience domain.Experience) (domain.QuestionSet, error)
}

// Catalog caches question sets with TTL to avoid repeated backing-store hits.
type Catalog struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[domain.Experience]cachedSet
}

type cachedSet struct {
	set       domain.QuestionSet
	expiresAt time.Time
}

func NewCatalog(loader CatalogLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		cache:  make(map[domain.Experience]cachedSet),
	}
}

func (c *Catalog) GetSet(ctx context.Context, experience domain.Experience) (domain.QuestionSet, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[experience]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.set, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(string(experience), func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[experience]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.set, nil
		}
		c.mu.RUnlock()

		set, err := c.loader.LoadSet(ctx, experience)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		c.mu.Lock()
		c.cache[experience] = cachedSet{
			set:       set,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// StaticCatalogLoader serves question sets from an in-memory map (tests/demos).
type StaticCatalogLoader struct {
	sets map[domain.Experience]domain.QuestionSet
}

func NewStaticCatalogLoader(sets map[domain.Experience]domain.QuestionSet) *StaticCatalogLoader {
	return &StaticCatalogLoader{sets: sets}
}

func (l *StaticCatalogLoader) LoadSet(_ context.Context, experience domain.Experience) (domain.QuestionSet, error) {
	if set, ok := l.sets[experience]; ok {
		return set, nil
	}
	return domain.QuestionSet{}, domain.ErrQuestionSetNotFound
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations; the shared rand source is
	// safe under concurrent singleflight callbacks
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
