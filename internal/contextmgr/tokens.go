package contextmgr

// =============================================================================
// Token Estimation
// =============================================================================
// Token accounting is a deterministic heuristic, not tokenizer-exact: one
// token per CharsPerToken characters, rounded up. The ratio is calibrated
// for Claude's tokenizer (~4 characters per token).

// BudgetState classifies a token total against the soft and hard limits.
type BudgetState int

const (
	BudgetBelowSoft BudgetState = iota
	BudgetAtSoft
	BudgetAtHard
)

// String returns a short label for logging.
func (b BudgetState) String() string {
	switch b {
	case BudgetBelowSoft:
		return "below_soft"
	case BudgetAtSoft:
		return "at_or_above_soft"
	case BudgetAtHard:
		return "at_or_above_hard"
	default:
		return "unknown"
	}
}

// Estimator converts text length to approximate token counts and classifies
// totals against the configured budget thresholds. All methods are pure.
type Estimator struct {
	charsPerToken int
	softLimit     int
	hardLimit     int
}

// NewEstimator creates an estimator. The caller is responsible for having
// validated charsPerToken >= 1 and softLimit < hardLimit at startup.
func NewEstimator(charsPerToken, softLimit, hardLimit int) Estimator {
	return Estimator{
		charsPerToken: charsPerToken,
		softLimit:     softLimit,
		hardLimit:     hardLimit,
	}
}

// Estimate returns ceil(len(text) / charsPerToken). Empty text is zero
// tokens; the estimate is monotonically non-decreasing in text length.
func (e Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + e.charsPerToken - 1) / e.charsPerToken
}

// EstimateTurns sums the estimate over the content of every turn.
func (e Estimator) EstimateTurns(turns []ConversationTurn) int {
	total := 0
	for _, t := range turns {
		total += e.Estimate(t.Content)
	}
	return total
}

// Combined returns the prior running estimate plus the estimate of new text.
func (e Estimator) Combined(prior int, text string) int {
	return prior + e.Estimate(text)
}

// Classify places a token total in a budget band. Totals exactly at a
// threshold count as over it.
func (e Estimator) Classify(total int) BudgetState {
	switch {
	case total >= e.hardLimit:
		return BudgetAtHard
	case total >= e.softLimit:
		return BudgetAtSoft
	default:
		return BudgetBelowSoft
	}
}
