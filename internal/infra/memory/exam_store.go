package memory

import (
	"context"
	"sync"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// ExamStore is an in-memory implementation of the durable session, checkpoint,
// result, and ranking stores. It backs tests and the no-database dev mode.
type ExamStore struct {
	mu          sync.RWMutex
	sessions    map[string]domain.Session
	answers     map[string]map[string]domain.Answer // sessionID -> questionID -> row
	checkpoints map[string]domain.TimerCheckpoint
	results     map[string]domain.ScoreResult
	rankings    map[string][]domain.RankingEntry
}

func NewExamStore() *ExamStore {
	return &ExamStore{
		sessions:    make(map[string]domain.Session),
		answers:     make(map[string]map[string]domain.Answer),
		checkpoints: make(map[string]domain.TimerCheckpoint),
		results:     make(map[string]domain.ScoreResult),
		rankings:    make(map[string][]domain.RankingEntry),
	}
}

func (s *ExamStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.UserID == session.UserID &&
			existing.PackageID == session.PackageID &&
			!existing.Status.Terminal() {
			return domain.ErrDuplicateSession
		}
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *ExamStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *ExamStore) GetActiveSession(_ context.Context, userID, packageID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.UserID == userID && session.PackageID == packageID && !session.Status.Terminal() {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (s *ExamStore) UpdateSessionStatus(_ context.Context, sessionID string, from, to domain.SessionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.Status != from {
		return false, nil
	}
	session.Status = to
	s.sessions[sessionID] = session
	return true, nil
}

func (s *ExamStore) SaveAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.answers[answer.SessionID]
	if !ok {
		rows = make(map[string]domain.Answer)
		s.answers[answer.SessionID] = rows
	}
	rows[answer.QuestionID] = answer
	return nil
}

func (s *ExamStore) ListAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.answers[sessionID]
	out := make([]domain.Answer, 0, len(rows))
	for _, ans := range rows {
		out = append(out, ans)
	}
	return out, nil
}

func (s *ExamStore) SaveCheckpoint(_ context.Context, cp domain.TimerCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.SessionID] = cp
	return nil
}

func (s *ExamStore) GetCheckpoint(_ context.Context, sessionID string) (domain.TimerCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[sessionID]
	if !ok {
		return domain.TimerCheckpoint{}, domain.ErrSessionNotFound
	}
	return cp, nil
}

func (s *ExamStore) SaveScoreResult(_ context.Context, result domain.ScoreResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Insert-once: a retry of an already-saved result is a no-op.
	if _, ok := s.results[result.SessionID]; ok {
		return nil
	}
	s.results[result.SessionID] = result
	return nil
}

func (s *ExamStore) GetScoreResult(_ context.Context, sessionID string) (domain.ScoreResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[sessionID]
	if !ok {
		return domain.ScoreResult{}, domain.ErrResultNotFound
	}
	return result, nil
}

func (s *ExamStore) ListScoreResults(_ context.Context, packageID string) ([]domain.ScoreResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ScoreResult, 0)
	for _, result := range s.results {
		if result.PackageID == packageID {
			out = append(out, result)
		}
	}
	return out, nil
}

func (s *ExamStore) ReplaceRankings(_ context.Context, packageID string, entries []domain.RankingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]domain.RankingEntry, len(entries))
	copy(copied, entries)
	s.rankings[packageID] = copied
	return nil
}

func (s *ExamStore) GetRankings(_ context.Context, packageID string) ([]domain.RankingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.rankings[packageID]
	out := make([]domain.RankingEntry, len(entries))
	copy(out, entries)
	return out, nil
}
