package contextmgr

import (
	"context"
	"fmt"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
)

// =============================================================================
// History Compaction
// =============================================================================
// Reduces an ordered transcript to a synthesized digest plus a verbatim
// recent tail. The tail is always kept unmodified; at most MaxCompactSpan
// turns immediately preceding it are summarized; anything older is
// discarded outright. Bounded memory is the contract, not an accident.

// Default window constants, overridable through configuration.
const (
	DefaultTailSize       = 5
	DefaultMaxCompactSpan = 20
)

// Compactor folds old conversation turns into a rolling digest.
type Compactor struct {
	tailSize int
	maxSpan  int
	est      Estimator
}

// NewCompactor creates a compactor. Non-positive sizes fall back to the
// defaults.
func NewCompactor(est Estimator, tailSize, maxSpan int) *Compactor {
	if tailSize <= 0 {
		tailSize = DefaultTailSize
	}
	if maxSpan <= 0 {
		maxSpan = DefaultMaxCompactSpan
	}
	return &Compactor{tailSize: tailSize, maxSpan: maxSpan, est: est}
}

// CompactionResult reports what a compaction did. TokensBefore is the
// estimate over the full input transcript; TokensAfter covers the digest
// plus the kept tail. No minimum reduction is guaranteed here - that is a
// property of the summarizer's output.
type CompactionResult struct {
	Summary      string
	KeptTail     []ConversationTurn
	TokensBefore int
	TokensAfter  int
	Compacted    bool
}

// Compact reduces the transcript. Transcripts no longer than the tail size
// are returned unchanged with an empty summary. The summarizer is invoked
// exactly once per compaction, with the compaction window and the prior
// summary; if it fails, the whole compaction fails and the caller must keep
// its prior state untouched.
func (c *Compactor) Compact(ctx context.Context, transcript []ConversationTurn, priorSummary string, summarizer Summarizer) (CompactionResult, error) {
	tokensBefore := c.est.EstimateTurns(transcript)

	if len(transcript) <= c.tailSize {
		logging.ContextDebug("compaction skipped: %d turns within tail window of %d", len(transcript), c.tailSize)
		return CompactionResult{
			KeptTail:     transcript,
			TokensBefore: tokensBefore,
			TokensAfter:  tokensBefore,
		}, nil
	}

	tail := transcript[len(transcript)-c.tailSize:]

	windowEnd := len(transcript) - c.tailSize
	windowStart := windowEnd - c.maxSpan
	if windowStart < 0 {
		windowStart = 0
	}
	window := transcript[windowStart:windowEnd]
	if windowStart > 0 {
		logging.Context("discarding %d turns older than the compaction window", windowStart)
	}

	timer := logging.StartTimer(logging.CategoryContext, "summarize history window")
	summary, err := summarizer.Summarize(ctx, window, priorSummary)
	timer.Stop()
	if err != nil {
		return CompactionResult{}, fmt.Errorf("summarize %d turns: %w", len(window), err)
	}

	tokensAfter := c.est.Estimate(summary) + c.est.EstimateTurns(tail)
	logging.Context("compacted %d turns: %d -> %d estimated tokens (tail %d kept)",
		len(transcript), tokensBefore, tokensAfter, len(tail))

	return CompactionResult{
		Summary:      summary,
		KeptTail:     tail,
		TokensBefore: tokensBefore,
		TokensAfter:  tokensAfter,
		Compacted:    true,
	}, nil
}

// TailSize returns the number of turns always preserved verbatim.
func (c *Compactor) TailSize() int {
	return c.tailSize
}
