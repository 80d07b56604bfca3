package app

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// ResultStore persists graded outcomes.
type ResultStore interface {
	// SaveScoreResult inserts the result for a session exactly once; retries
	// of an already-saved result are no-ops.
	SaveScoreResult(ctx context.Context, result domain.ScoreResult) error
	GetScoreResult(ctx context.Context, sessionID string) (domain.ScoreResult, error)
	// ListScoreResults returns all results for a package, snapshot semantics:
	// completions arriving during the read may be missed and are picked up by
	// the next recompute.
	ListScoreResults(ctx context.Context, packageID string) ([]domain.ScoreResult, error)
}

// RankingStore persists the derived leaderboard rows.
type RankingStore interface {
	// ReplaceRankings swaps the full ranking set for a package.
	ReplaceRankings(ctx context.Context, packageID string, entries []domain.RankingEntry) error
	GetRankings(ctx context.Context, packageID string) ([]domain.RankingEntry, error)
}

// ComputeRankings derives leaderboard rows from score results using standard
// competition ranking: tied scores share a rank and the next distinct score
// resumes at previousRank + tieCount, so [90, 90, 80] ranks as [1, 1, 3].
// Percentile is the share of sessions scoring lower or equal.
func ComputeRankings(packageID string, results []domain.ScoreResult) []domain.RankingEntry {
	sorted := make([]domain.ScoreResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TotalScore != sorted[j].TotalScore {
			return sorted[i].TotalScore > sorted[j].TotalScore
		}
		// Equal scores order by completion time for a stable listing; rank
		// and percentile are unaffected.
		return sorted[i].CompletedAt.Before(sorted[j].CompletedAt)
	})

	total := len(sorted)
	entries := make([]domain.RankingEntry, 0, total)
	for i, res := range sorted {
		rank := i + 1
		if i > 0 && res.TotalScore == sorted[i-1].TotalScore {
			rank = entries[i-1].RankPosition
		}

		// Everyone from this position down scores lower or equal; ties ahead
		// of us count too, so walk back to the first index of this score.
		first := i
		for first > 0 && sorted[first-1].TotalScore == res.TotalScore {
			first--
		}
		percentile := float64(total-first) / float64(total) * 100

		entries = append(entries, domain.RankingEntry{
			PackageID:    packageID,
			SessionID:    res.SessionID,
			UserID:       res.UserID,
			Score:        res.TotalScore,
			RankPosition: rank,
			Percentile:   percentile,
		})
	}
	return entries
}

// RankingService recomputes and serves package rankings. Recomputation is
// total: it always derives fresh rows from the result store snapshot, never
// patches incrementally, so the individual result view and the leaderboard
// cannot drift apart.
type RankingService struct {
	results  ResultStore
	rankings RankingStore
	log      *zap.Logger
	sf       singleflight.Group
}

func NewRankingService(results ResultStore, rankings RankingStore, log *zap.Logger) *RankingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RankingService{results: results, rankings: rankings, log: log}
}

// Recompute rebuilds the ranking rows for a package. Concurrent calls for the
// same package collapse into one computation.
func (s *RankingService) Recompute(ctx context.Context, packageID string) ([]domain.RankingEntry, error) {
	v, err, _ := s.sf.Do(packageID, func() (interface{}, error) {
		results, err := s.results.ListScoreResults(ctx, packageID)
		if err != nil {
			return nil, err
		}
		entries := ComputeRankings(packageID, results)
		if err := s.rankings.ReplaceRankings(ctx, packageID, entries); err != nil {
			return nil, err
		}
		s.log.Debug("rankings recomputed",
			zap.String("packageId", packageID),
			zap.Int("sessions", len(entries)))
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.RankingEntry), nil
}

// Rankings returns the stored rows for a package, recomputing them when none
// exist yet.
func (s *RankingService) Rankings(ctx context.Context, packageID string) ([]domain.RankingEntry, error) {
	entries, err := s.rankings.GetRankings(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return s.Recompute(ctx, packageID)
	}
	return entries, nil
}
