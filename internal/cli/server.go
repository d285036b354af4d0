package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duet-quiz-service/internal/app"
	"duet-quiz-service/internal/config"
	"duet-quiz-service/internal/domain"
	"duet-quiz-service/internal/infra/memory"
	pgcatalog "duet-quiz-service/internal/infra/postgres"
	redisinfra "duet-quiz-service/internal/infra/redis"
	transport "duet-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 0)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.CatalogLoader = memory.NewStaticCatalogLoader(sampleQuestionSets())
	if pool != nil {
		loader = pgcatalog.NewCatalogLoader(pool)
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog app.QuestionCatalog
	if redisClient != nil {
		catalog = redisinfra.NewCatalog(redisClient, loader, catalogTTL)
	} else {
		catalog = memory.NewCatalog(loader, catalogTTL)
	}

	var docs app.SessionDocuments
	if redisClient != nil {
		docs = redisinfra.NewSessionDocuments(redisClient, redisTTL)
	} else {
		docs = memory.NewSessionDocuments()
	}
	store := app.NewSessionStore(docs)

	samples := app.SampleSizes{
		domain.ExperienceOnboarding: config.SampleOrDefault(cfg.Onboarding.PoolSample, 3),
		domain.ExperienceQuiz:       config.SampleOrDefault(cfg.Quiz.PoolSample, 10),
		domain.ExperienceHeadToHead: config.SampleOrDefault(cfg.HeadToHead.PoolSample, 10),
	}
	wsHandler := transport.NewWSHandler(catalog, store, samples)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting session service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestionSets provides a minimal catalog for running without Postgres;
// production loads question sets from the question_sets table.
func sampleQuestionSets() map[domain.Experience]domain.QuestionSet {
	defaultScale := 0.5
	onboarding := domain.QuestionSet{
		Experience: string(domain.ExperienceOnboarding),
		Standard: []domain.Question{
			{
				ID: "q-color", Type: domain.TypeMC, Prompt: "Pick a color", Category: "basics",
				Sequence: 1, RequiredForOnboarding: true, IncludeInOnboarding: true,
				MC: &domain.MCConfig{Options: []string{"Red", "Green", "Blue"}},
			},
			{
				ID: "q-morning", Type: domain.TypeScale, Prompt: "Night owl or early bird?", Category: "habits",
				Sequence: 2, RequiredForOnboarding: true, IncludeInOnboarding: true,
				Scale: &domain.ScaleConfig{LeftOption: "Night owl", RightOption: "Early bird", DefaultValue: &defaultScale},
			},
		},
		Pool: []domain.Question{
			{
				ID: "q-pets", Type: domain.TypeNM, Prompt: "How many pets would you keep?", Category: "lifestyle",
				Sequence: 3, IncludeInOnboarding: true,
				Numeric: &domain.NumericConfig{Min: 0, Max: 10, Step: 1},
			},
			{
				ID: "q-motto", Type: domain.TypeOP, Prompt: "Your motto in one line", Category: "personality",
				Sequence: 4, IncludeInOnboarding: true,
				Open: &domain.OpenConfig{MaxLength: 140},
			},
			{
				ID: "q-spice", Type: domain.TypeSegmentedSlider, Prompt: "How spicy do you eat?", Category: "food",
				Sequence: 5, IncludeInOnboarding: true,
				Segmented: &domain.SegmentedConfig{Segments: []domain.Segment{{Value: 0, Label: "Mild"}, {Value: 1}, {Value: 2}, {Value: 3, Label: "Fire"}}},
			},
		},
	}
	quiz := domain.QuestionSet{
		Experience: string(domain.ExperienceQuiz),
		Standard: []domain.Question{
			{
				ID: "qq-color", Type: domain.TypeMC, Prompt: "Which color did your partner pick?", Category: "basics",
				Sequence: 1, CorrectAnswer: "Blue", Distractors: []string{"Red", "Green"},
				MC: &domain.MCConfig{Options: []string{"Red", "Green", "Blue"}},
			},
			{
				ID: "qq-morning", Type: domain.TypeScale, Prompt: "Where did your partner land?", Category: "habits",
				Sequence: 2, CorrectAnswer: "0.8",
				Scale: &domain.ScaleConfig{LeftOption: "Night owl", RightOption: "Early bird"},
			},
			{
				ID: "qq-vibe", Type: domain.TypeXYContinuum, Prompt: "Place your partner on the map", Category: "personality",
				Sequence: 3, CorrectAnswer: "0.3,0.7",
				XY: &domain.XYConfig{
					XAxis: domain.AxisLabels{Low: "Introvert", High: "Extrovert"},
					YAxis: domain.AxisLabels{Low: "Planner", High: "Spontaneous"},
				},
			},
		},
	}
	headToHead := quiz
	headToHead.Experience = string(domain.ExperienceHeadToHead)
	return map[domain.Experience]domain.QuestionSet{
		domain.ExperienceOnboarding: onboarding,
		domain.ExperienceQuiz:       quiz,
		domain.ExperienceHeadToHead: headToHead,
	}
}
