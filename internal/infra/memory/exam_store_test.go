package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

func TestCreateSessionRejectsActiveDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewExamStore()

	first := domain.Session{ID: "s1", UserID: "u1", PackageID: "p1", Status: domain.StatusInProgress}
	if err := store.CreateSession(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := domain.Session{ID: "s2", UserID: "u1", PackageID: "p1", Status: domain.StatusInProgress}
	if err := store.CreateSession(ctx, dup); !errors.Is(err, domain.ErrDuplicateSession) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// A completed attempt does not block a new one.
	if _, err := store.UpdateSessionStatus(ctx, "s1", domain.StatusInProgress, domain.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.CreateSession(ctx, dup); err != nil {
		t.Fatalf("create after completion: %v", err)
	}
}

func TestUpdateSessionStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	store := NewExamStore()

	session := domain.Session{ID: "s1", UserID: "u1", PackageID: "p1", Status: domain.StatusInProgress}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	swapped, err := store.UpdateSessionStatus(ctx, "s1", domain.StatusInProgress, domain.StatusSubmitting)
	if err != nil || !swapped {
		t.Fatalf("expected swap, got swapped=%v err=%v", swapped, err)
	}

	// Same transition again fails the precondition.
	swapped, err = store.UpdateSessionStatus(ctx, "s1", domain.StatusInProgress, domain.StatusSubmitting)
	if err != nil {
		t.Fatalf("conditional update: %v", err)
	}
	if swapped {
		t.Fatalf("expected no-op on stale precondition")
	}

	if _, err := store.UpdateSessionStatus(ctx, "missing", domain.StatusInProgress, domain.StatusSubmitting); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveAnswerUpserts(t *testing.T) {
	ctx := context.Background()
	store := NewExamStore()

	if err := store.SaveAnswer(ctx, domain.Answer{SessionID: "s1", QuestionID: "q1", SelectedOptionKey: "a"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveAnswer(ctx, domain.Answer{SessionID: "s1", QuestionID: "q1", SelectedOptionKey: "c"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	rows, err := store.ListAnswers(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].SelectedOptionKey != "c" {
		t.Fatalf("expected one overwritten row, got %+v", rows)
	}
}

func TestSaveScoreResultInsertsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewExamStore()

	first := domain.ScoreResult{SessionID: "s1", PackageID: "p1", TotalScore: 10}
	if err := store.SaveScoreResult(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A retry with different numbers must not clobber the stored result.
	retry := domain.ScoreResult{SessionID: "s1", PackageID: "p1", TotalScore: 99}
	if err := store.SaveScoreResult(ctx, retry); err != nil {
		t.Fatalf("retry: %v", err)
	}

	stored, err := store.GetScoreResult(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.TotalScore != 10 {
		t.Fatalf("expected first write to win, got %v", stored.TotalScore)
	}
}

func TestCheckpointRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewExamStore()

	cp := domain.TimerCheckpoint{
		SessionID:        "s1",
		RemainingSeconds: 420,
		CheckpointAt:     time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC),
		Expired:          false,
	}
	if err := store.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetCheckpoint(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != cp {
		t.Fatalf("expected %+v, got %+v", cp, got)
	}

	if _, err := store.GetCheckpoint(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReplaceRankingsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewExamStore()

	entries := []domain.RankingEntry{{SessionID: "s1", RankPosition: 1}}
	if err := store.ReplaceRankings(ctx, "p1", entries); err != nil {
		t.Fatalf("replace: %v", err)
	}
	entries[0].RankPosition = 99

	got, err := store.GetRankings(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].RankPosition != 1 {
		t.Fatalf("stored rankings aliased the caller's slice: %+v", got)
	}
}
