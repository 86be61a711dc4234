package contextmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testEstimator() Estimator {
	return NewEstimator(4, 120000, 160000)
}

func TestEstimate_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, testEstimator().Estimate(""))
}

func TestEstimate_CeilDivision(t *testing.T) {
	est := testEstimator()

	// 12 characters at 4 chars/token.
	assert.Equal(t, 3, est.Estimate("Hello world!"))

	assert.Equal(t, 1, est.Estimate("a"))
	assert.Equal(t, 1, est.Estimate("abcd"))
	assert.Equal(t, 2, est.Estimate("abcde"))
}

func TestEstimate_Monotonic(t *testing.T) {
	est := testEstimator()
	prev := 0
	for n := 0; n <= 64; n++ {
		cur := est.Estimate(strings.Repeat("x", n))
		assert.GreaterOrEqual(t, cur, prev, "estimate must not decrease at length %d", n)
		prev = cur
	}
}

func TestClassify_Thresholds(t *testing.T) {
	est := testEstimator()

	assert.Equal(t, BudgetBelowSoft, est.Classify(0))
	assert.Equal(t, BudgetBelowSoft, est.Classify(119999))
	// Exactly at the soft limit counts as over it.
	assert.Equal(t, BudgetAtSoft, est.Classify(120000))
	assert.Equal(t, BudgetAtSoft, est.Classify(159999))
	assert.Equal(t, BudgetAtHard, est.Classify(160000))
	assert.Equal(t, BudgetAtHard, est.Classify(1000000))
}

func TestCombined(t *testing.T) {
	est := testEstimator()
	assert.Equal(t, 103, est.Combined(100, "Hello world!"))
	assert.Equal(t, 100, est.Combined(100, ""))
}

func TestEstimateTurns(t *testing.T) {
	est := testEstimator()
	turns := []ConversationTurn{
		{Role: RoleUser, Content: "Hello world!"},    // 3
		{Role: RoleAssistant, Content: "abcd"},       // 1
		{Role: RoleUser, Content: ""},                // 0
	}
	assert.Equal(t, 4, est.EstimateTurns(turns))
}

func TestBudgetState_String(t *testing.T) {
	assert.Equal(t, "below_soft", BudgetBelowSoft.String())
	assert.Equal(t, "at_or_above_soft", BudgetAtSoft.String())
	assert.Equal(t, "at_or_above_hard", BudgetAtHard.String())
}
