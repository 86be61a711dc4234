package chat

import (
	"fmt"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/contextmgr"
)

// FormatForChat re-chunks a reply to fit Synology Chat's per-message size
// cap and prefixes each chunk with an ordinal marker when the reply spans
// more than one message. Code fences are kept whole even when oversized, so
// a fence never renders broken mid-message.
func FormatForChat(text string, maxMessageSize int) []string {
	segments := contextmgr.SplitText(text, maxMessageSize)

	out := make([]string, len(segments))
	if len(segments) == 1 {
		out[0] = segments[0].Text
		return out
	}
	for i, seg := range segments {
		out[i] = fmt.Sprintf("[%d/%d] %s", i+1, len(segments), seg.Text)
	}
	return out
}
