package redis

import (
	"context"
	"testing"
	"time"

	"duet-quiz-service/internal/domain"
	"duet-quiz-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCatalogCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := &countingLoader{
		CatalogLoader: memory.NewStaticCatalogLoader(map[domain.Experience]domain.QuestionSet{
			domain.ExperienceQuiz: sampleSet(),
		}),
	}
	catalog := NewCatalog(client, loader, time.Minute)

	set, err := catalog.GetSet(context.Background(), domain.ExperienceQuiz)
	if err != nil {
		t.Fatalf("get set: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if len(set.Standard) != 1 || set.Standard[0].CorrectAnswer != "0.5" {
		t.Fatalf("unexpected set: %+v", set)
	}

	// Second call should hit the Redis cache, loader not incremented.
	if _, err := catalog.GetSet(context.Background(), domain.ExperienceQuiz); err != nil {
		t.Fatalf("get set 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
}

func TestCatalogJitterStaysWithinBounds(t *testing.T) {
	catalog := NewCatalog(nil, memory.NewStaticCatalogLoader(nil), time.Minute)
	for i := 0; i < 100; i++ {
		got := catalog.ttlWithJitter()
		if got < time.Minute || got > time.Minute+6*time.Second {
			t.Fatalf("jitter out of bounds: %v", got)
		}
	}
}

type countingLoader struct {
	memory.CatalogLoader
	calls int
}

func (l *countingLoader) LoadSet(ctx context.Context, experience domain.Experience) (domain.QuestionSet, error) {
	l.calls++
	return l.CatalogLoader.LoadSet(ctx, experience)
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		Experience: string(domain.ExperienceQuiz),
		Standard: []domain.Question{
			{
				ID: "q1", Type: domain.TypeScale, Prompt: "Where did your partner land?", CorrectAnswer: "0.5",
				Scale: &domain.ScaleConfig{LeftOption: "L", RightOption: "R"},
			},
		},
	}
}
