// Package chat speaks the Synology Chat webhook protocol: parsing the
// form-encoded outgoing webhook Synology sends us, and pushing replies back
// through the incoming webhook URL.
package chat

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// InboundMessage is one user message delivered by a Synology Chat outgoing
// webhook.
type InboundMessage struct {
	UserID   string
	Username string
	PostID   string
	Text     string
}

// ErrBadToken is returned when the webhook token does not match the
// configured secret.
var ErrBadToken = fmt.Errorf("webhook token mismatch")

// ParseWebhook validates and decodes a Synology Chat outgoing-webhook
// request. Synology sends an application/x-www-form-urlencoded POST with
// token, user_id, username, post_id and text fields.
func ParseWebhook(r *http.Request, expectedToken string) (InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return InboundMessage{}, fmt.Errorf("parse form: %w", err)
	}

	token := r.PostFormValue("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return InboundMessage{}, ErrBadToken
	}

	msg := InboundMessage{
		UserID:   r.PostFormValue("user_id"),
		Username: r.PostFormValue("username"),
		PostID:   r.PostFormValue("post_id"),
		Text:     strings.TrimSpace(r.PostFormValue("text")),
	}
	if msg.UserID == "" {
		return InboundMessage{}, fmt.Errorf("missing user_id")
	}
	if msg.Text == "" {
		return InboundMessage{}, fmt.Errorf("empty message text")
	}
	return msg, nil
}
