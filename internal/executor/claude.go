// Package executor runs prompts through the Claude CLI in single-shot print
// mode. Each invocation is one process; conversational continuity across
// invocations rides on the CLI's own session id, which the bridge threads
// back in via --resume.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/config"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/contextmgr"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
)

// commandRunner abstracts process execution so tests can fake the CLI.
type commandRunner interface {
	Run(ctx context.Context, dir, name string, args []string, stdin string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args []string, stdin string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// cliResult is the envelope the claude CLI prints with --output-format json.
type cliResult struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// Claude invokes the claude CLI. It remembers the last CLI session id per
// bridge session so consecutive turns resume the same CLI conversation.
type Claude struct {
	bin            string
	workDir        string
	timeout        time.Duration
	summaryTimeout time.Duration
	extraArgs      []string
	runner         commandRunner

	mu      sync.Mutex
	handles map[string]string // bridge session id -> CLI session id
}

// New creates a CLI executor from configuration.
func New(cfg config.ClaudeConfig) *Claude {
	return &Claude{
		bin:            cfg.Binary,
		workDir:        cfg.WorkDir,
		timeout:        cfg.Timeout,
		summaryTimeout: cfg.SummaryTimeout,
		extraArgs:      cfg.ExtraArgs,
		runner:         execRunner{},
		handles:        make(map[string]string),
	}
}

// Invoke runs one prompt part. The continuation handle from the request
// wins; without one, the last known CLI session for this bridge session is
// resumed. The handle in the result is always the CLI session id reported
// by this invocation.
func (c *Claude) Invoke(ctx context.Context, req contextmgr.ExecRequest) (contextmgr.ExecResult, error) {
	handle := req.ContinuationHandle
	if handle == "" {
		c.mu.Lock()
		handle = c.handles[req.SessionID]
		c.mu.Unlock()
	}

	res, err := c.run(ctx, req.Text, handle, c.timeout)
	if err != nil {
		return contextmgr.ExecResult{}, err
	}

	if res.SessionID != "" {
		c.mu.Lock()
		c.handles[req.SessionID] = res.SessionID
		c.mu.Unlock()
	}

	return contextmgr.ExecResult{
		Output:             res.Result,
		ContinuationHandle: res.SessionID,
	}, nil
}

// run spawns one CLI process and parses its JSON result envelope.
func (c *Claude) run(ctx context.Context, prompt, resumeHandle string, timeout time.Duration) (cliResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{"-p", "--output-format", "json"}
	if resumeHandle != "" {
		args = append(args, "--resume", resumeHandle)
	}
	args = append(args, c.extraArgs...)

	timer := logging.StartTimer(logging.CategoryExecutor, "claude invocation")
	stdout, stderr, err := c.runner.Run(ctx, c.workDir, c.bin, args, prompt)
	timer.StopWithThreshold(30 * time.Second)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			logging.ExecutorError("claude cli timed out after %v", timeout)
			return cliResult{}, fmt.Errorf("claude cli timed out after %v", timeout)
		}
		logging.ExecutorError("claude cli failed: %v (stderr: %s)", err, firstLine(stderr))
		return cliResult{}, fmt.Errorf("claude cli: %w (stderr: %s)", err, firstLine(stderr))
	}

	var res cliResult
	if err := json.Unmarshal(stdout, &res); err != nil {
		logging.ExecutorError("claude cli produced unparseable output: %v", err)
		return cliResult{}, fmt.Errorf("parse claude cli output: %w", err)
	}
	if res.IsError {
		return cliResult{}, fmt.Errorf("claude cli error result: %s", res.Result)
	}

	logging.ExecutorDebug("claude invocation ok: session=%s output_len=%d", res.SessionID, len(res.Result))
	return res, nil
}

// Forget drops the remembered CLI session for a bridge session. Used when a
// session is reset or deleted.
func (c *Claude) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.handles, sessionID)
	c.mu.Unlock()
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
