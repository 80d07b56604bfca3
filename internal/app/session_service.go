package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// SessionRegistry tracks live in-process sessions (one controller instance
// per session).
type SessionRegistry interface {
	Put(session *ExamSession)
	Get(sessionID string) (*ExamSession, bool)
	// GetActive returns the live session for a (user, package) pair, if any.
	GetActive(userID, packageID string) (*ExamSession, bool)
	Remove(sessionID string)
}

// QuestionBank loads package content including the answer key. The key never
// leaves the server.
type QuestionBank interface {
	GetPackage(ctx context.Context, packageID string) (domain.QuestionPackage, error)
}

// SessionStore is the durable record of sessions and their answers. It must
// support the conditional status update used as the submission guard.
type SessionStore interface {
	// CreateSession persists a new session. Returns domain.ErrDuplicateSession
	// when a non-terminal session already exists for the (user, package) pair.
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// GetActiveSession returns the non-terminal session for a (user, package)
	// pair, or domain.ErrSessionNotFound.
	GetActiveSession(ctx context.Context, userID, packageID string) (domain.Session, error)
	// UpdateSessionStatus performs an atomic compare-and-swap on status and
	// reports whether the swap happened.
	UpdateSessionStatus(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error)
	// SaveAnswer upserts by (sessionID, questionID).
	SaveAnswer(ctx context.Context, answer domain.Answer) error
	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)
}

// CheckpointStore persists timer checkpoints.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp domain.TimerCheckpoint) error
	// GetCheckpoint returns domain.ErrSessionNotFound when none was written.
	GetCheckpoint(ctx context.Context, sessionID string) (domain.TimerCheckpoint, error)
}

// SessionServiceOptions tune the engine; zero values fall back to defaults.
type SessionServiceOptions struct {
	TickInterval        time.Duration
	CheckpointInterval  time.Duration
	SubmitRetryAttempts int
	SubmitRetryBackoff  time.Duration
	Clock               func() time.Time
	Logger              *zap.Logger
}

func (o SessionServiceOptions) withDefaults() SessionServiceOptions {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 5 * time.Second
	}
	if o.SubmitRetryAttempts <= 0 {
		o.SubmitRetryAttempts = 3
	}
	if o.SubmitRetryBackoff <= 0 {
		o.SubmitRetryBackoff = 500 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// SessionService is the session controller: it drives the timer and the
// answer ledger during an attempt and converges user submits and timer expiry
// onto one submission path.
type SessionService struct {
	registry    SessionRegistry
	store       SessionStore
	checkpoints CheckpointStore
	bank        QuestionBank
	results     ResultStore
	ranking     *RankingService
	opts        SessionServiceOptions
	log         *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	countdowns map[string]context.CancelFunc
}

func NewSessionService(
	registry SessionRegistry,
	store SessionStore,
	checkpoints CheckpointStore,
	bank QuestionBank,
	results ResultStore,
	ranking *RankingService,
	opts SessionServiceOptions,
) *SessionService {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		registry:    registry,
		store:       store,
		checkpoints: checkpoints,
		bank:        bank,
		results:     results,
		ranking:     ranking,
		opts:        opts,
		log:         opts.Logger,
		baseCtx:     ctx,
		cancel:      cancel,
		countdowns:  make(map[string]context.CancelFunc),
	}
}

// Close stops all countdown loops; each flushes a final checkpoint before
// exiting.
func (s *SessionService) Close() {
	s.cancel()
	s.wg.Wait()
}

// StartSession begins or resumes the attempt for (userID, packageID). Start
// is idempotent: an existing non-terminal session is returned instead of a
// duplicate. Resuming reconciles the stored checkpoint first; a countdown
// that ran out while the user was away fires expiry synchronously, so the
// returned session may already be completed.
func (s *SessionService) StartSession(ctx context.Context, userID, packageID string) (domain.Session, error) {
	if es, ok := s.registry.GetActive(userID, packageID); ok {
		return es.Record(), nil
	}

	rec, err := s.store.GetActiveSession(ctx, userID, packageID)
	switch {
	case err == nil:
		return s.resume(ctx, rec)
	case errors.Is(err, domain.ErrSessionNotFound):
		// fall through to create
	default:
		return domain.Session{}, fmt.Errorf("lookup active session: %w", err)
	}

	pkg, err := s.bank.GetPackage(ctx, packageID)
	if err != nil {
		return domain.Session{}, err
	}

	now := s.opts.Clock()
	rec = domain.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		PackageID:        packageID,
		StartedAt:        now,
		DurationSeconds:  pkg.DurationSeconds,
		Status:           domain.StatusInProgress,
		LastCheckpointAt: now,
	}
	if err := s.store.CreateSession(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrDuplicateSession) {
			// Lost the race to a concurrent start; adopt the winner.
			existing, lookupErr := s.store.GetActiveSession(ctx, userID, packageID)
			if lookupErr != nil {
				return domain.Session{}, lookupErr
			}
			return s.resume(ctx, existing)
		}
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	es := newExamSession(rec, NewTimerState(pkg.DurationSeconds, now), pkg, s.opts.Clock)
	if err := s.checkpoints.SaveCheckpoint(ctx, es.checkpoint(now)); err != nil {
		s.log.Warn("initial checkpoint write failed", zap.String("sessionId", rec.ID), zap.Error(err))
	}
	s.registry.Put(es)
	s.startCountdown(es)

	s.log.Info("session started",
		zap.String("sessionId", rec.ID),
		zap.String("userId", userID),
		zap.String("packageId", packageID),
		zap.Int("durationSeconds", rec.DurationSeconds))
	return rec, nil
}

// resume rebuilds the live session from durable state after a reload or a
// process restart.
func (s *SessionService) resume(ctx context.Context, rec domain.Session) (domain.Session, error) {
	if es, ok := s.registry.Get(rec.ID); ok {
		return es.Record(), nil
	}

	pkg, err := s.bank.GetPackage(ctx, rec.PackageID)
	if err != nil {
		return domain.Session{}, err
	}

	now := s.opts.Clock()
	cp, err := s.checkpoints.GetCheckpoint(ctx, rec.ID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		// No checkpoint survived; fall back to the session start as anchor.
		cp = domain.TimerCheckpoint{
			SessionID:        rec.ID,
			RemainingSeconds: rec.DurationSeconds,
			CheckpointAt:     rec.StartedAt,
		}
	} else if err != nil {
		return domain.Session{}, fmt.Errorf("load checkpoint: %w", err)
	}

	res := Reconcile(cp, rec.DurationSeconds, now)
	if res.SkewAnomaly {
		s.log.Warn("clock skew in stored checkpoint, clamped",
			zap.String("sessionId", rec.ID),
			zap.Int("storedRemaining", cp.RemainingSeconds))
	}

	es := newExamSession(rec, res.State, pkg, s.opts.Clock)
	answers, err := s.store.ListAnswers(ctx, rec.ID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load answers: %w", err)
	}
	es.ledger.Load(answers)

	if rec.Status == domain.StatusSubmitting {
		// A previous run began submitting and did not finish; retry it now.
		es.mu.Lock()
		es.finalizing = true
		es.mu.Unlock()
		if _, err := s.finalize(ctx, es); err != nil {
			return es.Record(), err
		}
		return es.Record(), nil
	}

	if res.State.RemainingSeconds == 0 {
		// The countdown is spent. Either reconciliation just ran it out, or
		// an earlier run latched the expired flag in a checkpoint but died
		// before the status swap landed. Both route through expiry before
		// any further interaction is accepted.
		s.log.Info("timer expired during reconciliation", zap.String("sessionId", rec.ID))
		if ok, _ := es.beginSubmit(); ok {
			if _, err := s.finalize(ctx, es); err != nil {
				return es.Record(), err
			}
		}
		return es.Record(), nil
	}

	if err := s.checkpoints.SaveCheckpoint(ctx, es.checkpoint(now)); err != nil {
		s.log.Warn("checkpoint write failed on resume", zap.String("sessionId", rec.ID), zap.Error(err))
	}
	s.registry.Put(es)
	s.startCountdown(es)

	s.log.Info("session resumed",
		zap.String("sessionId", rec.ID),
		zap.Int("remainingSeconds", res.State.RemainingSeconds))
	return es.Record(), nil
}

// GetActiveSession returns the non-terminal session for the pair, if any.
func (s *SessionService) GetActiveSession(ctx context.Context, userID, packageID string) (domain.Session, error) {
	if es, ok := s.registry.GetActive(userID, packageID); ok {
		return es.Record(), nil
	}
	return s.store.GetActiveSession(ctx, userID, packageID)
}

// SelectAnswer records (or overwrites) the selection for a question. The
// write also flushes a timer checkpoint so durability tracks answer activity.
func (s *SessionService) SelectAnswer(ctx context.Context, sessionID, userID, questionID, optionKey string) (domain.Answer, error) {
	es, err := s.live(sessionID, userID)
	if err != nil {
		return domain.Answer{}, err
	}
	if !es.hasQuestion(questionID) {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}

	ans, err := es.recordAnswer(questionID, optionKey)
	if err != nil {
		return domain.Answer{}, err
	}
	s.persistAnswer(ctx, es, ans)
	return ans, nil
}

// UnsetAnswer clears the selection for a question, keeping its flag.
func (s *SessionService) UnsetAnswer(ctx context.Context, sessionID, userID, questionID string) (domain.Answer, error) {
	es, err := s.live(sessionID, userID)
	if err != nil {
		return domain.Answer{}, err
	}
	if !es.hasQuestion(questionID) {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}

	ans, err := es.unsetAnswer(questionID)
	if err != nil {
		return domain.Answer{}, err
	}
	s.persistAnswer(ctx, es, ans)
	return ans, nil
}

// ToggleFlag flips the review flag for a question.
func (s *SessionService) ToggleFlag(ctx context.Context, sessionID, userID, questionID string) (domain.Answer, error) {
	es, err := s.live(sessionID, userID)
	if err != nil {
		return domain.Answer{}, err
	}
	if !es.hasQuestion(questionID) {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}

	ans, err := es.toggleFlag(questionID)
	if err != nil {
		return domain.Answer{}, err
	}
	s.persistAnswer(ctx, es, ans)
	return ans, nil
}

// NavigateTo moves the question cursor. No ledger side effects and no
// auto-submit past the last question.
func (s *SessionService) NavigateTo(_ context.Context, sessionID, userID string, index int) error {
	es, err := s.live(sessionID, userID)
	if err != nil {
		return err
	}
	return es.navigate(index)
}

// Submit freezes the session and grades it. User submits and timer expiry
// converge here; duplicate calls return the already-computed result. The
// live timer is re-validated first, so a client claiming time it no longer
// has still goes through the expiry path.
func (s *SessionService) Submit(ctx context.Context, sessionID, userID string) (domain.ScoreResult, error) {
	es, err := s.live(sessionID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Session may already be completed and unregistered.
			return s.results.GetScoreResult(ctx, sessionID)
		}
		return domain.ScoreResult{}, err
	}

	es.tick(s.opts.Clock())

	ok, status := es.beginSubmit()
	if !ok {
		switch status {
		case domain.StatusCompleted:
			if result, have := es.storedResult(); have {
				return result, nil
			}
			return s.results.GetScoreResult(ctx, sessionID)
		case domain.StatusSubmitting:
			if es.tryFinalize() {
				// A previous attempt failed mid-persistence; retry it.
				return s.finalize(ctx, es)
			}
			// Another submitter is finalizing right now; wait for it.
			select {
			case <-es.done:
				if result, have := es.storedResult(); have {
					return result, nil
				}
				return s.results.GetScoreResult(ctx, sessionID)
			case <-ctx.Done():
				return domain.ScoreResult{}, ctx.Err()
			}
		default:
			return domain.ScoreResult{}, domain.ErrInvalidTransition
		}
	}

	return s.finalize(ctx, es)
}

// finalize runs the single submission path: durable status swap, answer
// flush, scoring, result persistence, completion. On persistence failure the
// session stays in submitting and the error surfaces for a retry; it never
// reverts to in_progress.
func (s *SessionService) finalize(ctx context.Context, es *ExamSession) (domain.ScoreResult, error) {
	rec := es.Record()

	swapped, err := s.store.UpdateSessionStatus(ctx, rec.ID, domain.StatusInProgress, domain.StatusSubmitting)
	if err != nil {
		es.finalizeFailed()
		return domain.ScoreResult{}, fmt.Errorf("mark submitting: %w", err)
	}
	if !swapped {
		// Either a previous attempt already advanced the durable status, or
		// the session completed elsewhere; re-read to decide.
		stored, err := s.store.GetSession(ctx, rec.ID)
		if err != nil {
			es.finalizeFailed()
			return domain.ScoreResult{}, err
		}
		if stored.Status == domain.StatusCompleted {
			result, err := s.results.GetScoreResult(ctx, rec.ID)
			if err != nil {
				es.finalizeFailed()
				return domain.ScoreResult{}, err
			}
			es.completeSubmit(result)
			s.unregister(es)
			return result, nil
		}
	}

	s.flushPendingAnswers(ctx, es)

	completedAt := s.opts.Clock()
	result := Score(rec, es.Answers(), es.pkg, completedAt)

	if err := s.persistResult(ctx, es, result); err != nil {
		es.finalizeFailed()
		s.log.Error("submission persistence failed, session stays in submitting",
			zap.String("sessionId", rec.ID), zap.Error(err))
		return domain.ScoreResult{}, err
	}

	if _, err := s.store.UpdateSessionStatus(ctx, rec.ID, domain.StatusSubmitting, domain.StatusCompleted); err != nil {
		es.finalizeFailed()
		return domain.ScoreResult{}, fmt.Errorf("mark completed: %w", err)
	}

	// Final checkpoint: zero remaining, expiry latched.
	final := domain.TimerCheckpoint{
		SessionID:        rec.ID,
		RemainingSeconds: 0,
		CheckpointAt:     completedAt,
		Expired:          true,
	}
	if err := s.checkpoints.SaveCheckpoint(ctx, final); err != nil {
		s.log.Warn("final checkpoint write failed", zap.String("sessionId", rec.ID), zap.Error(err))
	}

	es.completeSubmit(result)
	s.unregister(es)

	s.log.Info("session completed",
		zap.String("sessionId", rec.ID),
		zap.Float64("totalScore", result.TotalScore),
		zap.Float64("percentage", result.Percentage))

	if s.ranking != nil {
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.ranking.Recompute(rctx, rec.PackageID); err != nil {
				s.log.Warn("ranking recompute failed", zap.String("packageId", rec.PackageID), zap.Error(err))
			}
		}()
	}
	return result, nil
}

// persistResult writes the score result with bounded retries and backoff.
func (s *SessionService) persistResult(ctx context.Context, es *ExamSession, result domain.ScoreResult) error {
	var lastErr error
	for attempt := 0; attempt < s.opts.SubmitRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.opts.SubmitRetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = s.results.SaveScoreResult(ctx, result); lastErr == nil {
			return nil
		}
		s.log.Warn("score result write failed",
			zap.String("sessionId", result.SessionID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return lastErr
}

// GetScoreResult returns the graded outcome of a completed session.
func (s *SessionService) GetScoreResult(ctx context.Context, sessionID string) (domain.ScoreResult, error) {
	if es, ok := s.registry.Get(sessionID); ok {
		if result, have := es.storedResult(); have {
			return result, nil
		}
	}
	return s.results.GetScoreResult(ctx, sessionID)
}

// Watch subscribes to live updates for a session. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *SessionService) Watch(sessionID string) (<-chan SessionUpdate, func(), error) {
	es, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := es.subscribe()
	return ch, cancel, nil
}

// Answers returns the current ledger snapshot for a live session, or the
// persisted rows for one that is no longer in memory.
func (s *SessionService) Answers(ctx context.Context, sessionID, userID string) ([]domain.Answer, error) {
	if es, ok := s.registry.Get(sessionID); ok {
		if es.Record().UserID != userID {
			return nil, domain.ErrNotOwner
		}
		return es.Answers(), nil
	}
	rec, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, domain.ErrNotOwner
	}
	return s.store.ListAnswers(ctx, sessionID)
}

// live fetches the in-memory session and checks ownership.
func (s *SessionService) live(sessionID, userID string) (*ExamSession, error) {
	es, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if es.Record().UserID != userID {
		return nil, domain.ErrNotOwner
	}
	return es, nil
}

// persistAnswer writes an answer row and a checkpoint. Failures are queued
// for the countdown loop's retry; the attempt itself is never interrupted.
func (s *SessionService) persistAnswer(ctx context.Context, es *ExamSession, ans domain.Answer) {
	if err := s.store.SaveAnswer(ctx, ans); err != nil {
		s.log.Warn("answer write failed, queued for retry",
			zap.String("sessionId", ans.SessionID),
			zap.String("questionId", ans.QuestionID),
			zap.Error(err))
		es.markPending(ans)
	}
	cp := es.checkpoint(s.opts.Clock())
	if err := s.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		s.log.Warn("checkpoint write failed", zap.String("sessionId", ans.SessionID), zap.Error(err))
	}
}

// flushPendingAnswers retries queued answer rows.
func (s *SessionService) flushPendingAnswers(ctx context.Context, es *ExamSession) {
	for _, ans := range es.takePending() {
		if err := s.store.SaveAnswer(ctx, ans); err != nil {
			es.markPending(ans)
		}
	}
}

func (s *SessionService) unregister(es *ExamSession) {
	rec := es.Record()
	s.registry.Remove(rec.ID)
	s.stopCountdown(rec.ID)
}
