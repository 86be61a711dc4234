package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/contextmgr"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
)

const summaryPrompt = `Summarize the following conversation history into a concise digest.
Retain key decisions, facts, user preferences, and the current state of any
ongoing task. Discard small talk and redundant clarifications. Reply with
the digest text only.`

// Summarize reduces a window of conversation turns to a short digest using a
// one-shot CLI invocation (never resumed: the digest must not pollute any
// conversational session). Implements the compactor's Summarizer contract.
func (c *Claude) Summarize(ctx context.Context, turns []contextmgr.ConversationTurn, priorSummary string) (string, error) {
	if len(turns) == 0 {
		return priorSummary, nil
	}

	var sb strings.Builder
	sb.WriteString(summaryPrompt)
	if priorSummary != "" {
		sb.WriteString("\n\nEarlier digest of this conversation (fold it in):\n")
		sb.WriteString(priorSummary)
	}
	sb.WriteString("\n\nConversation:\n")
	for _, turn := range turns {
		role := "Assistant"
		if turn.Role == contextmgr.RoleUser {
			role = "User"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, turn.Content)
	}

	logging.ExecutorDebug("summarizing %d turns (prior digest: %d chars)", len(turns), len(priorSummary))

	res, err := c.run(ctx, sb.String(), "", c.summaryTimeout)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	return strings.TrimSpace(res.Result), nil
}
