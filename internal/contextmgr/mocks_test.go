package contextmgr

import (
	"context"
	"sync"
)

// MockExecutor records every invocation and delegates to InvokeFunc.
type MockExecutor struct {
	mu         sync.Mutex
	InvokeFunc func(ctx context.Context, req ExecRequest) (ExecResult, error)
	Calls      []ExecRequest
}

func (m *MockExecutor) Invoke(ctx context.Context, req ExecRequest) (ExecResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}
	return ExecResult{Output: "ok"}, nil
}

// MockSummarizer records the windows it is asked to digest.
type MockSummarizer struct {
	mu            sync.Mutex
	SummarizeFunc func(ctx context.Context, turns []ConversationTurn, priorSummary string) (string, error)
	Windows       [][]ConversationTurn
	PriorSummary  string
}

func (m *MockSummarizer) Summarize(ctx context.Context, turns []ConversationTurn, priorSummary string) (string, error) {
	m.mu.Lock()
	m.Windows = append(m.Windows, turns)
	m.PriorSummary = priorSummary
	m.mu.Unlock()
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, turns, priorSummary)
	}
	return "digest", nil
}

// MockTranscript serves a fixed transcript.
type MockTranscript struct {
	Turns []ConversationTurn
	Err   error
}

func (m *MockTranscript) Recent(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if limit > 0 && len(m.Turns) > limit {
		return m.Turns[len(m.Turns)-limit:], nil
	}
	return m.Turns, nil
}
