package domain

import "time"

// SessionStatus enumerates the states of one exam attempt. Transitions only
// move forward: not_started -> in_progress -> submitting -> completed.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusInProgress SessionStatus = "in_progress"
	StatusSubmitting SessionStatus = "submitting"
	StatusCompleted  SessionStatus = "completed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted
}

// Session is one user's single attempt at one question package. At most one
// non-terminal session exists per (UserID, PackageID).
type Session struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	PackageID        string        `json:"packageId"`
	StartedAt        time.Time     `json:"startedAt"`
	DurationSeconds  int           `json:"durationSeconds"`
	Status           SessionStatus `json:"status"`
	LastCheckpointAt time.Time     `json:"lastCheckpointAt"`
}

// Answer is a participant's response to one question. Keyed by
// (SessionID, QuestionID); later writes overwrite, never duplicate.
// An empty SelectedOptionKey means the question is unanswered (flag-only row).
type Answer struct {
	SessionID         string    `json:"sessionId"`
	QuestionID        string    `json:"questionId"`
	SelectedOptionKey string    `json:"selectedOptionKey,omitempty"`
	Flagged           bool      `json:"flagged"`
	AnsweredAt        time.Time `json:"answeredAt"`
}

// TimerCheckpoint is the persisted countdown snapshot used to reconcile
// remaining time across reloads and reconnects. RemainingSeconds is
// non-increasing across checkpoints and bounded in [0, DurationSeconds].
type TimerCheckpoint struct {
	SessionID        string    `json:"sessionId"`
	RemainingSeconds int       `json:"remainingSeconds"`
	CheckpointAt     time.Time `json:"checkpointAt"`
	// Expired latches once the countdown reached zero so expiry fires at
	// most once per session no matter how often reconciliation runs.
	Expired bool `json:"expired"`
}

// SectionResult is the per-section subtotal of a graded attempt.
type SectionResult struct {
	SectionID       string  `json:"sectionId"`
	CorrectCount    int     `json:"correctCount"`
	WrongCount      int     `json:"wrongCount"`
	UnansweredCount int     `json:"unansweredCount"`
	Score           float64 `json:"score"`
	MaxScore        float64 `json:"maxScore"`
}

// ScoreResult is the graded outcome of one completed session. Created exactly
// once per session and immutable afterwards. UserID and PackageID are
// denormalized so ranking reads do not join back to sessions.
type ScoreResult struct {
	SessionID       string          `json:"sessionId"`
	UserID          string          `json:"userId"`
	PackageID       string          `json:"packageId"`
	CorrectCount    int             `json:"correctCount"`
	WrongCount      int             `json:"wrongCount"`
	UnansweredCount int             `json:"unansweredCount"`
	TotalScore      float64         `json:"totalScore"`
	MaxScore        float64         `json:"maxScore"`
	Percentage      float64         `json:"percentage"`
	SectionResults  []SectionResult `json:"sectionResults"`
	CompletedAt     time.Time       `json:"completedAt"`
}

// RankingEntry is one participant's position among all completed sessions of
// a package. Fully derived from ScoreResults; recomputed, never patched.
type RankingEntry struct {
	PackageID    string  `json:"packageId"`
	SessionID    string  `json:"sessionId"`
	UserID       string  `json:"userId"`
	Score        float64 `json:"score"`
	RankPosition int     `json:"rankPosition"`
	Percentile   float64 `json:"percentile"`
}

// Option is one selectable choice of a question. PointValue is only consulted
// for weighted questions, where every option carries its own score.
type Option struct {
	Key        string  `json:"key"`
	Text       string  `json:"text,omitempty"`
	PointValue float64 `json:"pointValue,omitempty"`
}

// Question is the grading view of one question: either a single correct
// option worth PointValue, or a weighted option set (Weighted=true) where the
// selected option's own PointValue is awarded directly.
type Question struct {
	ID               string   `json:"id"`
	SectionID        string   `json:"sectionId"`
	PointValue       float64  `json:"pointValue"`
	CorrectOptionKey string   `json:"correctOptionKey,omitempty"`
	Weighted         bool     `json:"weighted,omitempty"`
	Options          []Option `json:"options,omitempty"`
}

// HasAnswerKey reports whether the question can be graded at all. Questions
// without a key are excluded from MaxScore instead of failing the attempt.
func (q Question) HasAnswerKey() bool {
	if q.Weighted {
		return len(q.Options) > 0
	}
	return q.CorrectOptionKey != ""
}

// MaxPoints is the best score attainable on this question.
func (q Question) MaxPoints() float64 {
	if !q.Weighted {
		return q.PointValue
	}
	max := 0.0
	for _, opt := range q.Options {
		if opt.PointValue > max {
			max = opt.PointValue
		}
	}
	return max
}

// QuestionPackage is the purchasable unit a session runs against.
type QuestionPackage struct {
	ID              string     `json:"id"`
	Title           string     `json:"title,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
	Questions       []Question `json:"questions"`
}
