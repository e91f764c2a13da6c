package evaluator

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/keyword"
)

// keywordEvaluator tests the normalized description against one keyword.
// The operator selects the match mode:
//
//	>   whole word
//	>=  substring
//	==  exact
//	<=  substring, prefix or suffix
//	<   absent
type keywordEvaluator struct{}

func (e *keywordEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[KeywordParams](c)
	if err != nil {
		return Outcome{}, err
	}

	text := keyword.Normalize(in.Description)
	return outcome(matchKeyword(c.Operator, text, p.Keyword), "description %s %q", c.Operator, p.Keyword), nil
}

func matchKeyword(op domain.Operator, text, word string) bool {
	switch op {
	case domain.OpGreater:
		return keyword.ContainsWord(text, word)
	case domain.OpGreaterEqual:
		return keyword.Contains(text, word)
	case domain.OpEqual:
		return text == word
	case domain.OpLessEqual:
		// Prefix and suffix occurrences are substrings too.
		return keyword.Contains(text, word)
	case domain.OpLess:
		return !keyword.Contains(text, word)
	}
	return false
}
