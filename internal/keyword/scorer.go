// Package keyword scores free-text transaction descriptions against the
// suspicious keyword list.
package keyword

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/score"
)

// Source provides active keywords ordered by descending risk score.
type Source interface {
	Keywords(ctx context.Context) ([]*domain.SuspiciousKeyword, error)
}

// Assessment is the outcome of scoring one text.
type Assessment struct {
	Score   int                         `json:"score"`
	Matched []*domain.SuspiciousKeyword `json:"matched"`
}

// MatchedTerms returns the matched keyword strings.
func (a *Assessment) MatchedTerms() []string {
	terms := make([]string, len(a.Matched))
	for i, kw := range a.Matched {
		terms[i] = kw.Keyword
	}
	return terms
}

// Scorer combines the scores of matched keywords with noisy-OR.
type Scorer struct {
	source Source
}

// NewScorer creates a keyword scorer.
func NewScorer(source Source) *Scorer {
	return &Scorer{source: source}
}

// Score returns the combined 0-100 score of text. Empty text scores 0.
func (s *Scorer) Score(ctx context.Context, text string) (int, error) {
	a, err := s.Assess(ctx, text)
	if err != nil {
		return 0, err
	}
	return a.Score, nil
}

// Matched returns the keywords found in text, highest risk first.
func (s *Scorer) Matched(ctx context.Context, text string) ([]*domain.SuspiciousKeyword, error) {
	a, err := s.Assess(ctx, text)
	if err != nil {
		return nil, err
	}
	return a.Matched, nil
}

// Assess returns both the score and the matched keywords.
func (s *Scorer) Assess(ctx context.Context, text string) (*Assessment, error) {
	lower := Normalize(text)
	if lower == "" {
		return &Assessment{}, nil
	}

	keywords, err := s.source.Keywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords: %w", err)
	}

	// Case-sensitive keywords need the original casing.
	var cased string
	matched := make([]*domain.SuspiciousKeyword, 0)
	scores := make([]int, 0)

	for _, kw := range keywords {
		if !kw.Active {
			continue
		}

		haystack, needle := lower, Normalize(kw.Keyword)
		if kw.CaseSensitive {
			if cased == "" {
				cased = NormalizeCase(text)
			}
			haystack, needle = cased, NormalizeCase(kw.Keyword)
		}

		found := Contains(haystack, needle)
		if kw.WholeWord {
			found = ContainsWord(haystack, needle)
		}
		if found {
			matched = append(matched, kw)
			scores = append(scores, kw.RiskScore)
		}
	}

	return &Assessment{
		Score:   score.NoisyOR(scores),
		Matched: matched,
	}, nil
}
