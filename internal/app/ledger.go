package app

import (
	"sort"
	"sync"
	"time"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// AnswerLedger holds the live responses of one session. Writes overwrite by
// question ID; the ledger never keeps more than one answer per question and
// never deletes a row outright (Unset clears the selection but keeps the flag).
type AnswerLedger struct {
	mu        sync.RWMutex
	sessionID string
	answers   map[string]domain.Answer
}

func NewAnswerLedger(sessionID string) *AnswerLedger {
	return &AnswerLedger{
		sessionID: sessionID,
		answers:   make(map[string]domain.Answer),
	}
}

// Record stores or overwrites the selected option for a question and returns
// the resulting row.
func (l *AnswerLedger) Record(questionID, optionKey string, now time.Time) domain.Answer {
	l.mu.Lock()
	defer l.mu.Unlock()

	ans := l.answers[questionID]
	ans.SessionID = l.sessionID
	ans.QuestionID = questionID
	ans.SelectedOptionKey = optionKey
	ans.AnsweredAt = now
	l.answers[questionID] = ans
	return ans
}

// Unset clears the selection for a question, leaving flag state intact.
func (l *AnswerLedger) Unset(questionID string, now time.Time) domain.Answer {
	return l.Record(questionID, "", now)
}

// Flag sets or clears the review flag without touching the selection.
func (l *AnswerLedger) Flag(questionID string, flagged bool, now time.Time) domain.Answer {
	l.mu.Lock()
	defer l.mu.Unlock()

	ans := l.answers[questionID]
	ans.SessionID = l.sessionID
	ans.QuestionID = questionID
	ans.Flagged = flagged
	ans.AnsweredAt = now
	l.answers[questionID] = ans
	return ans
}

// Load seeds the ledger from persisted rows when resuming a session.
func (l *AnswerLedger) Load(answers []domain.Answer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ans := range answers {
		l.answers[ans.QuestionID] = ans
	}
}

// Snapshot returns a copy of all rows in question-ID order. Safe to call
// concurrently with Record; callers never observe a torn write.
func (l *AnswerLedger) Snapshot() []domain.Answer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Answer, 0, len(l.answers))
	for _, ans := range l.answers {
		out = append(out, ans)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QuestionID < out[j].QuestionID
	})
	return out
}

// AnsweredCount reports how many questions currently have a selection.
func (l *AnswerLedger) AnsweredCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, ans := range l.answers {
		if ans.SelectedOptionKey != "" {
			n++
		}
	}
	return n
}
