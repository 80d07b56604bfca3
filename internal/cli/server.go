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

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/app"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/config"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/infra/memory"
	pgstore "github.com/aenulfahir/tryoutkan-main-sub001/internal/infra/postgres"
	redisinfra "github.com/aenulfahir/tryoutkan-main-sub001/internal/infra/redis"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/logger"
	transport "github.com/aenulfahir/tryoutkan-main-sub001/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment engine",
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

	log := logger.New(cfg.Log.File, cfg.Server.Mode)
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		log.Info("migrations applied")
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
	checkpointTTL := config.Duration(cfg.Redis.TTL, 24*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	memStore := memory.NewExamStore()

	var sessionStore app.SessionStore = memStore
	var checkpoints app.CheckpointStore = memStore
	var results app.ResultStore = memStore
	var rankingStore app.RankingStore = memStore
	if pool != nil {
		store := pgstore.NewStore(pool)
		sessionStore = store
		checkpoints = store
		results = store
		rankingStore = store
	}
	if redisClient != nil {
		checkpoints = redisinfra.NewCheckpointStore(redisClient, checkpointTTL)
	}

	var loader memory.PackageLoader = memory.NewStaticPackageLoader(samplePackages())
	if pool != nil {
		loader = pgstore.NewPackageLoader(pool)
	}

	packageTTL := config.Duration(cfg.Exam.PackageTTL, 10*time.Minute)
	var bank app.QuestionBank
	if redisClient != nil {
		bank = redisinfra.NewPackageRepository(redisClient, loader, packageTTL)
	} else {
		bank = memory.NewPackageRepository(loader, packageTTL)
	}

	rankingService := app.NewRankingService(results, rankingStore, log)
	sessionService := app.NewSessionService(
		memory.NewSessionRegistry(),
		sessionStore,
		checkpoints,
		bank,
		results,
		rankingService,
		app.SessionServiceOptions{
			TickInterval:        config.Duration(cfg.Exam.TickInterval, time.Second),
			CheckpointInterval:  config.Duration(cfg.Exam.CheckpointInterval, 5*time.Second),
			SubmitRetryAttempts: cfg.Exam.SubmitRetryAttempts,
			SubmitRetryBackoff:  config.Duration(cfg.Exam.SubmitRetryBackoff, 500*time.Millisecond),
			Logger:              log,
		},
	)
	defer sessionService.Close()

	wsHandler := transport.NewWSHandler(sessionService, log)
	apiHandler := transport.NewAPIHandler(sessionService, rankingService, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	apiHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting assessment engine", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// samplePackages provides minimal package data for running without Postgres;
// production loads packages from the database.
func samplePackages() map[string]domain.QuestionPackage {
	return map[string]domain.QuestionPackage{
		"pkg-demo": {
			ID:              "pkg-demo",
			Title:           "Demo Tryout",
			DurationSeconds: 1800,
			Questions: []domain.Question{
				{
					ID:               "q1",
					SectionID:        "math",
					PointValue:       5,
					CorrectOptionKey: "b",
					Options: []domain.Option{
						{Key: "a", Text: "3"},
						{Key: "b", Text: "4"},
						{Key: "c", Text: "5"},
					},
				},
				{
					ID:        "q2",
					SectionID: "aptitude",
					Weighted:  true,
					Options: []domain.Option{
						{Key: "a", Text: "Strongly agree", PointValue: 5},
						{Key: "b", Text: "Agree", PointValue: 4},
						{Key: "c", Text: "Disagree", PointValue: 2},
					},
				},
			},
		},
	}
}
