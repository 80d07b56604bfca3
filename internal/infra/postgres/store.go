package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

const uniqueViolation = "23505"

// Store is the Postgres persistence layer: sessions, answers, checkpoints,
// score results, and rankings. The single-active-session invariant is
// enforced by a partial unique index, and the status compare-and-swap used as
// the submission guard is a conditional UPDATE.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, package_id, started_at, duration_seconds, status, last_checkpoint_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.UserID, session.PackageID, session.StartedAt,
		session.DurationSeconds, string(session.Status), session.LastCheckpointAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateSession
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, package_id, started_at, duration_seconds, status, last_checkpoint_at
		FROM sessions WHERE id = $1`, sessionID)
	return scanSession(row)
}

func (s *Store) GetActiveSession(ctx context.Context, userID, packageID string) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, package_id, started_at, duration_seconds, status, last_checkpoint_at
		FROM sessions
		WHERE user_id = $1 AND package_id = $2 AND status <> 'completed'`,
		userID, packageID)
	return scanSession(row)
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), sessionID, string(from))
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SaveAnswer(ctx context.Context, answer domain.Answer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO answers (session_id, question_id, selected_option_key, flagged, answered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, question_id) DO UPDATE
		SET selected_option_key = EXCLUDED.selected_option_key,
		    flagged = EXCLUDED.flagged,
		    answered_at = EXCLUDED.answered_at`,
		answer.SessionID, answer.QuestionID, answer.SelectedOptionKey,
		answer.Flagged, answer.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

func (s *Store) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, question_id, selected_option_key, flagged, answered_at
		FROM answers WHERE session_id = $1 ORDER BY question_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var out []domain.Answer
	for rows.Next() {
		var ans domain.Answer
		if err := rows.Scan(&ans.SessionID, &ans.QuestionID, &ans.SelectedOptionKey, &ans.Flagged, &ans.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, ans)
	}
	return out, rows.Err()
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp domain.TimerCheckpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (session_id, remaining_seconds, checkpoint_at, expired)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET remaining_seconds = EXCLUDED.remaining_seconds,
		    checkpoint_at = EXCLUDED.checkpoint_at,
		    expired = checkpoints.expired OR EXCLUDED.expired`,
		cp.SessionID, cp.RemainingSeconds, cp.CheckpointAt, cp.Expired,
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

func (s *Store) GetCheckpoint(ctx context.Context, sessionID string) (domain.TimerCheckpoint, error) {
	var cp domain.TimerCheckpoint
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, remaining_seconds, checkpoint_at, expired
		FROM checkpoints WHERE session_id = $1`, sessionID).
		Scan(&cp.SessionID, &cp.RemainingSeconds, &cp.CheckpointAt, &cp.Expired)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TimerCheckpoint{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.TimerCheckpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

func (s *Store) SaveScoreResult(ctx context.Context, result domain.ScoreResult) error {
	sections, err := json.Marshal(result.SectionResults)
	if err != nil {
		return fmt.Errorf("marshal section results: %w", err)
	}
	// Insert-once: the first write wins, a retry of the same submission is a
	// no-op so results stay immutable.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO score_results
			(session_id, user_id, package_id, correct_count, wrong_count, unanswered_count,
			 total_score, max_score, percentage, sections, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO NOTHING`,
		result.SessionID, result.UserID, result.PackageID,
		result.CorrectCount, result.WrongCount, result.UnansweredCount,
		result.TotalScore, result.MaxScore, result.Percentage,
		sections, result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert score result: %w", err)
	}
	return nil
}

func (s *Store) GetScoreResult(ctx context.Context, sessionID string) (domain.ScoreResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, package_id, correct_count, wrong_count, unanswered_count,
		       total_score, max_score, percentage, sections, completed_at
		FROM score_results WHERE session_id = $1`, sessionID)
	result, err := scanScoreResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScoreResult{}, domain.ErrResultNotFound
	}
	return result, err
}

func (s *Store) ListScoreResults(ctx context.Context, packageID string) ([]domain.ScoreResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, user_id, package_id, correct_count, wrong_count, unanswered_count,
		       total_score, max_score, percentage, sections, completed_at
		FROM score_results WHERE package_id = $1`, packageID)
	if err != nil {
		return nil, fmt.Errorf("list score results: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoreResult
	for rows.Next() {
		result, err := scanScoreResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceRankings(ctx context.Context, packageID string, entries []domain.RankingEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rankings tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM rankings WHERE package_id = $1`, packageID); err != nil {
		return fmt.Errorf("clear rankings: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rankings (package_id, session_id, user_id, score, rank_position, percentile)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.PackageID, e.SessionID, e.UserID, e.Score, e.RankPosition, e.Percentile,
		); err != nil {
			return fmt.Errorf("insert ranking: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetRankings(ctx context.Context, packageID string) ([]domain.RankingEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT package_id, session_id, user_id, score, rank_position, percentile
		FROM rankings WHERE package_id = $1 ORDER BY rank_position, user_id`, packageID)
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	defer rows.Close()

	var out []domain.RankingEntry
	for rows.Next() {
		var e domain.RankingEntry
		if err := rows.Scan(&e.PackageID, &e.SessionID, &e.UserID, &e.Score, &e.RankPosition, &e.Percentile); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var session domain.Session
	var status string
	err := row.Scan(&session.ID, &session.UserID, &session.PackageID,
		&session.StartedAt, &session.DurationSeconds, &status, &session.LastCheckpointAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.Status = domain.SessionStatus(status)
	return session, nil
}

func scanScoreResult(row rowScanner) (domain.ScoreResult, error) {
	var result domain.ScoreResult
	var sections []byte
	err := row.Scan(&result.SessionID, &result.UserID, &result.PackageID,
		&result.CorrectCount, &result.WrongCount, &result.UnansweredCount,
		&result.TotalScore, &result.MaxScore, &result.Percentage,
		&sections, &result.CompletedAt)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &result.SectionResults); err != nil {
			return domain.ScoreResult{}, fmt.Errorf("unmarshal section results: %w", err)
		}
	}
	return result, nil
}
