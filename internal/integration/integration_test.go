package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/app"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/infra/memory"
	pgstore "github.com/aenulfahir/tryoutkan-main-sub001/internal/infra/postgres"
	pgmigrations "github.com/aenulfahir/tryoutkan-main-sub001/internal/infra/postgres/migrations"
	infraredis "github.com/aenulfahir/tryoutkan-main-sub001/internal/infra/redis"
)

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedPackage(t, ctx, pgURL, samplePackage())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	store := pgstore.NewStore(pool)
	checkpoints := infraredis.NewCheckpointStore(redisClient, 24*time.Hour)
	bank := infraredis.NewPackageRepository(redisClient, pgstore.NewPackageLoader(pool), 5*time.Minute)
	ranking := app.NewRankingService(store, store, nil)

	service := app.NewSessionService(
		memory.NewSessionRegistry(),
		store, checkpoints, bank, store, ranking,
		app.SessionServiceOptions{},
	)
	defer service.Close()

	session, err := service.StartSession(ctx, "u1", "pkg-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", session.Status)
	}

	if _, err := service.SelectAnswer(ctx, session.ID, "u1", "q1", "b"); err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	if _, err := service.SelectAnswer(ctx, session.ID, "u1", "q2", "a"); err != nil {
		t.Fatalf("answer q2: %v", err)
	}
	// Overwrite goes through the same upsert path.
	if _, err := service.SelectAnswer(ctx, session.ID, "u1", "q2", "b"); err != nil {
		t.Fatalf("overwrite q2: %v", err)
	}

	// The checkpoint written alongside the answers must be readable back.
	cp, err := checkpoints.GetCheckpoint(ctx, session.ID)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp.RemainingSeconds <= 0 || cp.RemainingSeconds > 1800 {
		t.Fatalf("checkpoint out of range: %+v", cp)
	}

	result, err := service.Submit(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.CorrectCount != 1 || result.TotalScore != 5+2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Submit again: same result, no second row.
	again, err := service.Submit(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if again.TotalScore != result.TotalScore {
		t.Fatalf("expected the stored result, got %+v", again)
	}

	stored, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != domain.StatusCompleted {
		t.Fatalf("expected completed in postgres, got %s", stored.Status)
	}

	entries, err := ranking.Rankings(ctx, "pkg-1")
	if err != nil {
		t.Fatalf("rankings: %v", err)
	}
	if len(entries) != 1 || entries[0].RankPosition != 1 || entries[0].Percentile != 100 {
		t.Fatalf("expected a single top entry, got %+v", entries)
	}
}

func TestResumeFromDurableStateEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedPackage(t, ctx, pgURL, samplePackage())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	store := pgstore.NewStore(pool)
	checkpoints := infraredis.NewCheckpointStore(redisClient, 24*time.Hour)
	bank := infraredis.NewPackageRepository(redisClient, pgstore.NewPackageLoader(pool), 5*time.Minute)
	ranking := app.NewRankingService(store, store, nil)

	first := app.NewSessionService(
		memory.NewSessionRegistry(),
		store, checkpoints, bank, store, ranking,
		app.SessionServiceOptions{},
	)

	session, err := first.StartSession(ctx, "u1", "pkg-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := first.SelectAnswer(ctx, session.ID, "u1", "q1", "b"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	first.Close()

	// A fresh process with an empty registry picks the attempt back up from
	// postgres and redis.
	second := app.NewSessionService(
		memory.NewSessionRegistry(),
		store, checkpoints, bank, store, ranking,
		app.SessionServiceOptions{},
	)
	defer second.Close()

	resumed, err := second.StartSession(ctx, "u1", "pkg-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != session.ID {
		t.Fatalf("expected the same session, got %s and %s", session.ID, resumed.ID)
	}

	answers, err := second.Answers(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(answers) != 1 || answers[0].SelectedOptionKey != "b" {
		t.Fatalf("expected the persisted answer back, got %+v", answers)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "exam", "POSTGRES_PASSWORD": "exampass", "POSTGRES_DB": "examdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://exam:exampass@%s:%s/examdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedPackage(t *testing.T, ctx context.Context, dsn string, pkg domain.QuestionPackage) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(pkg)
	if err != nil {
		t.Fatalf("marshal package: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO packages (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, pkg.ID, string(data)); err != nil {
		t.Fatalf("insert package: %v", err)
	}
}

func samplePackage() domain.QuestionPackage {
	return domain.QuestionPackage{
		ID:              "pkg-1",
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
					{Key: "a", Text: "swift", PointValue: 4},
					{Key: "b", Text: "brisk", PointValue: 2},
					{Key: "c", Text: "slow", PointValue: 0},
				},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
