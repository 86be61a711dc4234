package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
)

// =============================================================================
// Turn Orchestration
// =============================================================================
// One turn flows Sizing -> (Compacting) -> (Segmenting) -> Executing ->
// Finalizing. The orchestrator holds no mutable state of its own: it is a
// function of the prior ContextState, the input, and its collaborators, so
// independent sessions can run turns concurrently. Concurrent turns on the
// SAME session must be serialized by the caller (the session store's keyed
// lock); the orchestrator assumes at most one in-flight turn per session.

// PartSeparator joins the outputs of a multi-part execution.
const PartSeparator = "\n\n---\n\n"

// Options carries the context-window constants the orchestrator needs.
type Options struct {
	Estimator      Estimator
	MaxChunkSize   int
	TailSize       int
	MaxCompactSpan int
}

// Orchestrator coordinates sizing, compaction, segmentation, and execution
// for one session turn.
type Orchestrator struct {
	est          Estimator
	compactor    *Compactor
	executor     Executor
	summarizer   Summarizer
	transcript   Transcript
	maxChunkSize int
}

// NewOrchestrator wires the orchestrator to its collaborators. All of them
// are caller-owned; the orchestrator never constructs shared state.
func NewOrchestrator(opts Options, executor Executor, summarizer Summarizer, transcript Transcript) *Orchestrator {
	return &Orchestrator{
		est:          opts.Estimator,
		compactor:    NewCompactor(opts.Estimator, opts.TailSize, opts.MaxCompactSpan),
		executor:     executor,
		summarizer:   summarizer,
		transcript:   transcript,
		maxChunkSize: opts.MaxChunkSize,
	}
}

// ExecuteTurn runs one conversation turn and computes the next context
// state. Execution failures are returned inside the TurnResult, never as an
// error: the caller always receives a well-formed new state to persist.
func (o *Orchestrator) ExecuteTurn(ctx context.Context, sessionID string, prior ContextState, input string) (TurnResult, ContextState) {
	state := prior

	// Sizing.
	total := o.est.Combined(prior.EstimatedTokens, input)
	band := o.est.Classify(total)
	logging.ContextDebug("session %s: sizing %d prior + input = %d estimated tokens (%s)",
		sessionID, prior.EstimatedTokens, total, band)

	// Compacting. A failure here is recoverable: the turn proceeds with the
	// over-budget context, because answering this turn outranks strict
	// budget enforcement.
	compacted := false
	if band != BudgetBelowSoft {
		if res, ok := o.compactHistory(ctx, sessionID, prior.Summary); ok {
			state.Summary = res.Summary
			state.EstimatedTokens = res.TokensAfter
			now := time.Now()
			state.LastCompactionAt = &now
			compacted = true
		}
	}

	// Segmenting.
	var parts []Segment
	if len(input) > o.maxChunkSize {
		parts = SplitText(input, o.maxChunkSize)
		logging.Context("session %s: input of %d chars segmented into %d parts", sessionID, len(input), len(parts))
	} else {
		parts = []Segment{{Text: input}}
	}

	// Executing: an explicit fold over the ordered parts with early exit on
	// the first failure. The continuation handle of part i feeds part i+1.
	result := o.executeParts(ctx, sessionID, parts)
	result.Compacted = compacted

	// Finalizing. After a same-turn compaction the estimate restarts from
	// the digest rather than accumulating on the pre-compaction total.
	outputTokens := o.est.Estimate(result.Output)
	inputTokens := o.est.Estimate(input)
	if compacted {
		state.EstimatedTokens = o.est.Estimate(state.Summary) + inputTokens + outputTokens
	} else {
		state.EstimatedTokens = prior.EstimatedTokens + inputTokens + outputTokens
	}
	state.NeedsCompaction = o.est.Classify(state.EstimatedTokens) != BudgetBelowSoft
	if result.FailedPart > 0 {
		state.PartsInFlight = result.Parts - result.FailedPart
	} else {
		state.PartsInFlight = 0
	}

	logging.ContextDebug("session %s: finalized at %d estimated tokens (needs_compaction=%v)",
		sessionID, state.EstimatedTokens, state.NeedsCompaction)
	return result, state
}

// compactHistory loads the relevant transcript window and runs the
// compactor. Returns ok=false on any failure; failures are surfaced as
// warnings only.
func (o *Orchestrator) compactHistory(ctx context.Context, sessionID, priorSummary string) (CompactionResult, bool) {
	limit := o.compactor.tailSize + o.compactor.maxSpan
	transcript, err := o.transcript.Recent(ctx, sessionID, limit)
	if err != nil {
		logging.ContextWarn("session %s: transcript load failed, skipping compaction: %v", sessionID, err)
		return CompactionResult{}, false
	}

	res, err := o.compactor.Compact(ctx, transcript, priorSummary, o.summarizer)
	if err != nil {
		logging.ContextWarn("session %s: compaction failed, proceeding uncompacted: %v", sessionID, err)
		return CompactionResult{}, false
	}
	if !res.Compacted {
		return CompactionResult{}, false
	}
	return res, true
}

// executeParts invokes the executor once per part, sequentially and in
// order. Successful outputs accumulate; the first failure stops the fold,
// and parts after it are never attempted.
func (o *Orchestrator) executeParts(ctx context.Context, sessionID string, parts []Segment) TurnResult {
	outputs := make([]string, 0, len(parts))
	handle := ""

	for i, part := range parts {
		res, err := o.executor.Invoke(ctx, ExecRequest{
			SessionID:          sessionID,
			Text:               part.Text,
			ContinuationHandle: handle,
		})
		if err != nil {
			logging.ContextWarn("session %s: part %d/%d failed: %v", sessionID, i+1, len(parts), err)
			output := strings.Join(outputs, PartSeparator)
			marker := fmt.Sprintf("[part %d/%d failed]", i+1, len(parts))
			if output != "" {
				output += PartSeparator + marker
			} else {
				output = marker
			}
			return TurnResult{
				Succeeded:          false,
				Output:             output,
				ContinuationHandle: handle,
				Failure:            err.Error(),
				Parts:              len(parts),
				FailedPart:         i + 1,
			}
		}
		outputs = append(outputs, res.Output)
		handle = res.ContinuationHandle
	}

	return TurnResult{
		Succeeded:          true,
		Output:             strings.Join(outputs, PartSeparator),
		ContinuationHandle: handle,
		Parts:              len(parts),
	}
}
