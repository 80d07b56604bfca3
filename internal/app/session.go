package app

import (
	"sync"
	"time"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// SessionUpdate is the event pushed to watchers of a live session: the
// authoritative countdown plus enough state for a client to render progress.
type SessionUpdate struct {
	SessionID        string               `json:"sessionId"`
	Status           domain.SessionStatus `json:"status"`
	RemainingSeconds int                  `json:"remainingSeconds"`
	AnsweredCount    int                  `json:"answeredCount"`
	CurrentIndex     int                  `json:"currentIndex"`
	QuestionCount    int                  `json:"questionCount"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// ExamSession is the live in-process state of one attempt: the session
// record, its countdown, its answer ledger, and the watchers following it.
// All mutation goes through the mutex; the in_progress -> submitting
// transition is a compare-and-swap under that lock, so a user submit and a
// timer-expiry submit can never both proceed.
type ExamSession struct {
	mu          sync.RWMutex
	rec         domain.Session
	timer       TimerState
	pkg         domain.QuestionPackage
	ledger      *AnswerLedger
	questionIDs []string
	questionSet map[string]struct{}
	current     int
	now         func() time.Time
	subscribers map[chan SessionUpdate]struct{}

	// pending holds answer rows whose durable write failed; the countdown
	// loop retries them so a storage blip never loses a response.
	pending map[string]domain.Answer

	// finalizing marks an in-flight submission so a concurrent Submit waits
	// instead of racing, while a retry after a failed persistence attempt can
	// re-acquire it.
	finalizing bool

	// done closes when the session reaches completed; late submitters wait
	// on it and read the stored result.
	done   chan struct{}
	result *domain.ScoreResult
}

func newExamSession(rec domain.Session, timer TimerState, pkg domain.QuestionPackage, now func() time.Time) *ExamSession {
	ids := make([]string, len(pkg.Questions))
	set := make(map[string]struct{}, len(pkg.Questions))
	for i, q := range pkg.Questions {
		ids[i] = q.ID
		set[q.ID] = struct{}{}
	}
	return &ExamSession{
		rec:         rec,
		timer:       timer,
		pkg:         pkg,
		ledger:      NewAnswerLedger(rec.ID),
		questionIDs: ids,
		questionSet: set,
		now:         now,
		subscribers: make(map[chan SessionUpdate]struct{}),
		pending:     make(map[string]domain.Answer),
		done:        make(chan struct{}),
	}
}

// hasQuestion reports whether the package contains the question.
func (s *ExamSession) hasQuestion(questionID string) bool {
	_, ok := s.questionSet[questionID]
	return ok
}

// markPending queues an answer row for a durable retry.
func (s *ExamSession) markPending(ans domain.Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[ans.QuestionID] = ans
}

// takePending drains the retry queue. Failed rows are re-marked by the caller.
func (s *ExamSession) takePending() []domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]domain.Answer, 0, len(s.pending))
	for _, ans := range s.pending {
		out = append(out, ans)
	}
	s.pending = make(map[string]domain.Answer)
	return out
}

// Record returns a copy of the session record.
func (s *ExamSession) Record() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}

// Remaining returns the countdown value as of the last tick or reconcile.
func (s *ExamSession) Remaining() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timer.RemainingSeconds
}

// Answers snapshots the ledger.
func (s *ExamSession) Answers() []domain.Answer {
	return s.ledger.Snapshot()
}

// tick advances the countdown and broadcasts the new remaining value.
// The bool reports whether this tick fired expiry.
func (s *ExamSession) tick(now time.Time) (SessionUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fired bool
	s.timer, fired = s.timer.Tick(now)
	if s.rec.Status != domain.StatusInProgress {
		fired = false
	}
	return s.broadcastLocked(), fired
}

// checkpoint snapshots the timer for persistence and stamps the record.
func (s *ExamSession) checkpoint(now time.Time) domain.TimerCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.LastCheckpointAt = now
	return s.timer.Checkpoint(s.rec.ID)
}

// recordAnswer writes a selection through the ledger. Rejected once
// submission has begun.
func (s *ExamSession) recordAnswer(questionID, optionKey string) (domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Status != domain.StatusInProgress {
		return domain.Answer{}, domain.ErrInvalidTransition
	}
	ans := s.ledger.Record(questionID, optionKey, s.now())
	s.broadcastLocked()
	return ans, nil
}

// unsetAnswer clears a selection while keeping the row.
func (s *ExamSession) unsetAnswer(questionID string) (domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Status != domain.StatusInProgress {
		return domain.Answer{}, domain.ErrInvalidTransition
	}
	ans := s.ledger.Unset(questionID, s.now())
	s.broadcastLocked()
	return ans, nil
}

// toggleFlag flips the review flag for a question.
func (s *ExamSession) toggleFlag(questionID string) (domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Status != domain.StatusInProgress {
		return domain.Answer{}, domain.ErrInvalidTransition
	}
	flagged := false
	for _, ans := range s.ledger.Snapshot() {
		if ans.QuestionID == questionID {
			flagged = ans.Flagged
			break
		}
	}
	ans := s.ledger.Flag(questionID, !flagged, s.now())
	s.broadcastLocked()
	return ans, nil
}

// navigate moves the cursor. Bounds-checked; no effect on the ledger and no
// auto-submit when moving past the last question.
func (s *ExamSession) navigate(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Status != domain.StatusInProgress {
		return domain.ErrInvalidTransition
	}
	if index < 0 || index >= len(s.questionIDs) {
		return domain.ErrIndexOutOfRange
	}
	s.current = index
	s.broadcastLocked()
	return nil
}

// beginSubmit is the atomic in_progress -> submitting swap. Exactly one
// caller wins; everyone else is told the current status.
func (s *ExamSession) beginSubmit() (bool, domain.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Status != domain.StatusInProgress {
		return false, s.rec.Status
	}
	s.rec.Status = domain.StatusSubmitting
	s.finalizing = true
	s.timer.Expired = true
	s.timer.RemainingSeconds = 0
	s.broadcastLocked()
	return true, domain.StatusSubmitting
}

// tryFinalize re-acquires the submission after a failed persistence attempt.
// Returns false while another finalize is in flight or the session completed.
func (s *ExamSession) tryFinalize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status != domain.StatusSubmitting || s.finalizing {
		return false
	}
	s.finalizing = true
	return true
}

// finalizeFailed releases the submission slot; the session stays in
// submitting and never falls back to in_progress.
func (s *ExamSession) finalizeFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizing = false
}

// completeSubmit records the persisted result, transitions to completed, and
// releases anyone waiting on done.
func (s *ExamSession) completeSubmit(result domain.ScoreResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Status == domain.StatusCompleted {
		return
	}
	s.rec.Status = domain.StatusCompleted
	s.result = &result
	s.broadcastLocked()
	close(s.done)
}

// storedResult returns the result once completed.
func (s *ExamSession) storedResult() (domain.ScoreResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return domain.ScoreResult{}, false
	}
	return *s.result, true
}

// subscribe registers a watcher. The returned cancel must be called to avoid
// leaks; the channel receives an initial snapshot immediately.
func (s *ExamSession) subscribe() (<-chan SessionUpdate, func()) {
	ch := make(chan SessionUpdate, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.updateLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *ExamSession) broadcastLocked() SessionUpdate {
	update := s.updateLocked()
	for ch := range s.subscribers {
		select {
		case ch <- update:
		default:
			// Drop the stale update so a slow watcher never blocks the tick.
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
	return update
}

func (s *ExamSession) updateLocked() SessionUpdate {
	return SessionUpdate{
		SessionID:        s.rec.ID,
		Status:           s.rec.Status,
		RemainingSeconds: s.timer.RemainingSeconds,
		AnsweredCount:    s.ledger.AnsweredCount(),
		CurrentIndex:     s.current,
		QuestionCount:    len(s.questionIDs),
		UpdatedAt:        s.now(),
	}
}
