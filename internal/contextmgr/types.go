// Package contextmgr keeps a long-running chat conversation within a bounded
// token budget and within the per-message size limits of the Claude CLI and
// the chat transport.
//
// The package has four parts: a boundary segmenter that splits oversized
// input at semantic breakpoints, a token estimator over a fixed
// chars-per-token heuristic, a history compactor that folds old turns into a
// synthesized digest, and an orchestrator that drives one conversation turn
// end to end against the external executor.
package contextmgr

import (
	"context"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is a single recorded message. Turns are immutable once
// recorded and ordered append-only within a session.
type ConversationTurn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// ContextState is the per-session accounting record. It is owned by exactly
// one session, rewritten by the orchestrator after each turn, and persisted
// by the session store. EstimatedTokens is a heuristic bound, never an exact
// count.
type ContextState struct {
	EstimatedTokens  int
	NeedsCompaction  bool
	Summary          string
	LastCompactionAt *time.Time
	PartsInFlight    int
}

// Segment is a contiguous slice of a larger text. Joining all segments of a
// split in order reproduces the original text exactly. Atomic marks a fenced
// code region that was emitted whole; such a segment may exceed the
// configured maximum size.
type Segment struct {
	Text   string
	Atomic bool
}

// ExecRequest is one part invocation against the external executor.
// ContinuationHandle, when set, is the opaque handle returned by the
// previous part; threading it preserves conversational continuity inside
// the external stateful tool.
type ExecRequest struct {
	SessionID          string
	Text               string
	ContinuationHandle string
}

// ExecResult is the successful output of a single part invocation.
type ExecResult struct {
	Output             string
	ContinuationHandle string
}

// Executor runs a single prompt part. It may block, must honor ctx
// cancellation, and is called exactly once per part.
type Executor interface {
	Invoke(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// Summarizer reduces a window of turns to a short digest, incorporating the
// prior summary when present. It must not mutate its input.
type Summarizer interface {
	Summarize(ctx context.Context, turns []ConversationTurn, priorSummary string) (string, error)
}

// Transcript provides ordered access to a session's recorded turns,
// oldest first.
type Transcript interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error)
}

// TurnResult is the outcome of one orchestrated turn. A failed multi-part
// turn still carries the output produced before the failure plus a marker
// naming the failed part; parts after a failure are never attempted.
type TurnResult struct {
	Succeeded          bool
	Output             string
	ContinuationHandle string
	Failure            string
	Parts              int
	FailedPart         int // 1-based ordinal, 0 when no part failed
	Compacted          bool
}
