package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookRequest(t *testing.T, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestParseWebhook(t *testing.T) {
	req := webhookRequest(t, url.Values{
		"token":    {"secret"},
		"user_id":  {"42"},
		"username": {"alice"},
		"post_id":  {"100001"},
		"text":     {"  hello there  "},
	})

	msg, err := ParseWebhook(req, "secret")
	require.NoError(t, err)
	assert.Equal(t, "42", msg.UserID)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "100001", msg.PostID)
	assert.Equal(t, "hello there", msg.Text)
}

func TestParseWebhookRejectsBadToken(t *testing.T) {
	req := webhookRequest(t, url.Values{
		"token":   {"wrong"},
		"user_id": {"42"},
		"text":    {"hello"},
	})

	_, err := ParseWebhook(req, "secret")
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestParseWebhookRejectsEmptyText(t *testing.T) {
	req := webhookRequest(t, url.Values{
		"token":   {"secret"},
		"user_id": {"42"},
		"text":    {"   "},
	})

	_, err := ParseWebhook(req, "secret")
	assert.Error(t, err)
}

func TestParseWebhookRejectsMissingUser(t *testing.T) {
	req := webhookRequest(t, url.Values{
		"token": {"secret"},
		"text":  {"hello"},
	})

	_, err := ParseWebhook(req, "secret")
	assert.Error(t, err)
}

func TestClientSendPostsPayload(t *testing.T) {
	var gotPayload string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPayload = r.PostFormValue("payload")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 0)
	require.NoError(t, c.Send(context.Background(), "reply text"))
	assert.JSONEq(t, `{"text":"reply text"}`, gotPayload)
}

func TestClientSendToIncludesUser(t *testing.T) {
	var gotPayload string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPayload = r.PostFormValue("payload")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 0)
	require.NoError(t, c.SendTo(context.Background(), "42", "hi"))
	assert.JSONEq(t, `{"text":"hi","user_id":"42"}`, gotPayload)
}

func TestClientSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 0)
	err := c.Send(context.Background(), "reply")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestClientPacesConsecutiveSends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	interval := 50 * time.Millisecond
	c := NewClient(srv.URL, 5*time.Second, interval)

	start := time.Now()
	require.NoError(t, c.Send(context.Background(), "one"))
	require.NoError(t, c.Send(context.Background(), "two"))
	require.NoError(t, c.Send(context.Background(), "three"))

	assert.GreaterOrEqual(t, time.Since(start), 2*interval)
}

func TestClientPaceRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, time.Minute)
	require.NoError(t, c.Send(context.Background(), "one"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, "two")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientCancelledSendReleasesPacingSlot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	interval := 200 * time.Millisecond
	c := NewClient(srv.URL, 5*time.Second, interval)

	start := time.Now()
	require.NoError(t, c.Send(context.Background(), "one"))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Send(cancelled, "never sent")
	require.ErrorIs(t, err, context.Canceled)

	// The aborted send must not have consumed a pacing slot: the next send
	// waits one interval from the first send, not two.
	require.NoError(t, c.Send(context.Background(), "two"))
	assert.Less(t, time.Since(start), 2*interval)
	assert.GreaterOrEqual(t, time.Since(start), interval)
}

func TestFormatForChatSingleMessage(t *testing.T) {
	out := FormatForChat("short reply", 2000)
	require.Len(t, out, 1)
	assert.Equal(t, "short reply", out[0])
}

func TestFormatForChatOrdinals(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30)
	out := FormatForChat(text, 40)
	require.Len(t, out, 2)
	assert.True(t, strings.HasPrefix(out[0], "[1/2] "))
	assert.True(t, strings.HasPrefix(out[1], "[2/2] "))

	// Markers are presentation only; joined content minus markers is the
	// original text.
	joined := strings.TrimPrefix(out[0], "[1/2] ") + strings.TrimPrefix(out[1], "[2/2] ")
	assert.Equal(t, text, joined)
}

func TestFormatForChatKeepsFencesWhole(t *testing.T) {
	fence := "```\n" + strings.Repeat("code line\n", 10) + "```"
	text := "intro\n\n" + fence

	out := FormatForChat(text, 30)
	var fenced string
	for _, m := range out {
		if strings.Contains(m, "```") {
			fenced = m
			break
		}
	}
	require.NotEmpty(t, fenced)
	assert.Equal(t, 2, strings.Count(fenced, "```"))
}
