package app

import (
	"time"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// Score grades a frozen session against the package's answer key. It is a
// pure function of its inputs: identical answers and key always produce an
// identical ScoreResult, so recomputing for verification is side-effect free.
//
// Per question: no selection -> unanswered; weighted questions award the
// selected option's own point value; single-key questions award PointValue on
// an exact key match and zero otherwise. Questions without any answer key are
// excluded from MaxScore entirely rather than failing the whole attempt.
func Score(session domain.Session, answers []domain.Answer, pkg domain.QuestionPackage, completedAt time.Time) domain.ScoreResult {
	byQuestion := make(map[string]domain.Answer, len(answers))
	for _, ans := range answers {
		byQuestion[ans.QuestionID] = ans
	}

	result := domain.ScoreResult{
		SessionID:   session.ID,
		UserID:      session.UserID,
		PackageID:   session.PackageID,
		CompletedAt: completedAt,
	}

	// Sections aggregate in package question order so output is stable.
	sectionIdx := make(map[string]int)

	for _, q := range pkg.Questions {
		if !q.HasAnswerKey() {
			continue
		}

		idx, ok := sectionIdx[q.SectionID]
		if !ok {
			idx = len(result.SectionResults)
			sectionIdx[q.SectionID] = idx
			result.SectionResults = append(result.SectionResults, domain.SectionResult{SectionID: q.SectionID})
		}
		section := &result.SectionResults[idx]

		maxPoints := q.MaxPoints()
		result.MaxScore += maxPoints
		section.MaxScore += maxPoints

		ans, answered := byQuestion[q.ID]
		if !answered || ans.SelectedOptionKey == "" {
			result.UnansweredCount++
			section.UnansweredCount++
			continue
		}

		awarded, correct := gradeSelection(q, ans.SelectedOptionKey)
		result.TotalScore += awarded
		section.Score += awarded
		if correct {
			result.CorrectCount++
			section.CorrectCount++
		} else {
			result.WrongCount++
			section.WrongCount++
		}
	}

	if result.MaxScore > 0 {
		result.Percentage = result.TotalScore / result.MaxScore * 100
	}
	return result
}

// gradeSelection returns the points awarded for a selection and whether it
// counts as correct. For weighted questions any option earning the maximum
// point value is correct; lower-valued options earn their points but count as
// wrong for the correct/wrong tally.
func gradeSelection(q domain.Question, optionKey string) (float64, bool) {
	if q.Weighted {
		for _, opt := range q.Options {
			if opt.Key == optionKey {
				return opt.PointValue, opt.PointValue >= q.MaxPoints()
			}
		}
		// Selection not in the option set scores zero.
		return 0, false
	}

	if optionKey == q.CorrectOptionKey {
		return q.PointValue, true
	}
	return 0, false
}
