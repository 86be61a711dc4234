package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
)

// Client posts replies to a Synology Chat incoming webhook. Sends are paced
// so consecutive messages keep their order and stay under Synology's rate
// limiting.
type Client struct {
	webhookURL string
	httpClient *http.Client
	interval   time.Duration

	mu       sync.Mutex
	lastSend time.Time
}

// NewClient builds a client for the given incoming-webhook URL.
func NewClient(webhookURL string, timeout, interval time.Duration) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		interval:   interval,
	}
}

type chatPayload struct {
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

// Send delivers one message to the channel behind the incoming webhook.
func (c *Client) Send(ctx context.Context, text string) error {
	return c.send(ctx, chatPayload{Text: text})
}

// SendTo delivers one message addressed to a specific user.
func (c *Client) SendTo(ctx context.Context, userID, text string) error {
	return c.send(ctx, chatPayload{Text: text, UserID: userID})
}

func (c *Client) send(ctx context.Context, payload chatPayload) error {
	if err := c.pace(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	form := url.Values{}
	form.Set("payload", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.TransportWarn("Incoming-webhook POST failed: %v", err)
		return fmt.Errorf("post to chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logging.TransportWarn("Incoming webhook returned %d: %s", resp.StatusCode, snippet)
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}

	logging.TransportDebug("Sent %d chars to chat", len(payload.Text))
	return nil
}

// pace sleeps until the configured minimum interval since the previous send
// has elapsed. A cancelled wait releases its reservation so the next send
// is not delayed by a message that never went out.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	wait := c.lastSend.Add(c.interval).Sub(now)
	if wait < 0 {
		wait = 0
	}
	prev := c.lastSend
	slot := now.Add(wait)
	c.lastSend = slot
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.lastSend.Equal(slot) {
			c.lastSend = prev
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}
