package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trivia-live/internal/answers"
	"trivia-live/internal/app"
	"trivia-live/internal/config"
	"trivia-live/internal/domain"
	"trivia-live/internal/infra/memory"
	pgstore "trivia-live/internal/infra/postgres"
	redisinfra "trivia-live/internal/infra/redis"
	"trivia-live/internal/pubsub"
	transport "trivia-live/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the trivia session server",
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

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var bus pubsub.Bus
	if redisClient != nil {
		bus = redisinfra.NewBus(redisClient, logger)
	} else {
		bus = memory.NewBus(logger)
	}

	keyTTL := config.Duration(cfg.Game.AnswerKeyTTL, 10*time.Minute)

	var (
		store      app.Store
		subStore   answers.SubmissionStore
		membership answers.MembershipService
		keys       answers.AnswerKeySource
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := pgstore.NewStore(pool)
		store, subStore, membership = pg, pg, pg
		if redisClient != nil {
			keys = redisinfra.NewAnswerKeyCache(redisClient, pg, keyTTL)
		} else {
			keys = memory.NewAnswerKeyCache(pg, keyTTL)
		}
	} else {
		mem := seedDemoStore()
		store, subStore, membership = mem, mem, mem
		keys = memory.NewAnswerKeyCache(mem, keyTTL)
	}

	coordinator := answers.NewCoordinator(subStore, membership, keys, logger)
	service := app.NewGameService(store, bus, coordinator, logger)
	wsHandler := transport.NewWSHandler(service, bus, logger)

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
		logger.Info("starting trivia session server", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoStore provides a minimal in-memory game for redis-/postgres-less
// demo runs; swap in the Postgres store for production.
func seedDemoStore() *memory.Store {
	store := memory.NewStore()
	store.AddSession(domain.GameSession{
		ID:    "demo",
		State: domain.StateLobby,
		Rounds: []domain.Round{
			{Questions: []domain.GameQuestion{
				{
					ID:     "q1",
					Prompt: "Which planet has the most moons?",
					Choices: []domain.Choice{
						{Label: domain.LabelA, Text: "Saturn"},
						{Label: domain.LabelB, Text: "Jupiter"},
						{Label: domain.LabelC, Text: "Neptune"},
						{Label: domain.LabelD, Text: "Uranus"},
					},
					RandomizationSeed: 8231,
				},
				{
					ID:     "q2",
					Prompt: "What year did the first email get sent?",
					Choices: []domain.Choice{
						{Label: domain.LabelA, Text: "1971"},
						{Label: domain.LabelB, Text: "1969"},
						{Label: domain.LabelC, Text: "1976"},
						{Label: domain.LabelD, Text: "1982"},
					},
					RandomizationSeed: 4457,
				},
			}},
		},
	})
	store.AddTeam("demo", domain.Team{ID: "team-1", Name: "Quizzly Bears"})
	store.AddTeam("demo", domain.Team{ID: "team-2", Name: "Fact Hunters"})
	store.AddMember("team-1", "p1")
	store.AddMember("team-1", "p2")
	store.AddMember("team-2", "p3")
	return store
}
