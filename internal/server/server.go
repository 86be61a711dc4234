// Package server exposes the HTTP surface of the bridge: the Synology Chat
// outgoing-webhook endpoint and a health probe. Webhook requests are
// acknowledged immediately and the turn runs in the background, because
// Synology retries webhooks that take longer than a few seconds to answer.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/chat"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/config"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/contextmgr"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/store"
)

// turnRunner is the slice of the orchestrator the server needs.
type turnRunner interface {
	ExecuteTurn(ctx context.Context, sessionID string, prior contextmgr.ContextState, input string) (contextmgr.TurnResult, contextmgr.ContextState)
}

// sender is the slice of the chat client the server needs.
type sender interface {
	SendTo(ctx context.Context, userID, text string) error
}

// Server wires the webhook endpoint to the session store, the turn
// orchestrator and the chat reply client.
type Server struct {
	cfg    *config.Config
	store  *store.SessionStore
	runner turnRunner
	chat   sender

	httpSrv *http.Server

	turnCtx context.Context
	cancel  context.CancelFunc
	turns   sync.WaitGroup

	// onReset, when set, is called with the old session id after a user
	// resets. The executor hooks in here to drop its remembered CLI session.
	onReset func(sessionID string)
}

// New builds the server around its collaborators.
func New(cfg *config.Config, st *store.SessionStore, runner turnRunner, chatClient sender) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		store:   st,
		runner:  runner,
		chat:    chatClient,
		turnCtx: ctx,
		cancel:  cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.httpSrv = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully and
// waits for in-flight turns to drain.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Boot("Listening on %s", s.cfg.Server.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logging.Boot("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			logging.BootError("HTTP shutdown: %v", err)
		}

		s.cancel()
		s.turns.Wait()
		return nil
	})

	return g.Wait()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	msg, err := chat.ParseWebhook(r, s.cfg.Chat.WebhookToken)
	if err != nil {
		if err == chat.ErrBadToken {
			logging.WebhookWarn("Rejected webhook from %s: bad token", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		logging.WebhookWarn("Rejected webhook from %s: %v", r.RemoteAddr, err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	logging.Webhook("Message from %s (%s): %d chars", msg.Username, msg.UserID, len(msg.Text))

	// Ack now; the reply arrives via the incoming webhook once the turn
	// finishes.
	w.WriteHeader(http.StatusOK)

	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		s.processTurn(s.turnCtx, msg)
	}()
}

func (s *Server) processTurn(ctx context.Context, msg chat.InboundMessage) {
	timer := logging.StartTimer(logging.CategorySession, "processTurn")
	defer timer.Stop()

	if msg.Text == "/reset" {
		s.handleReset(ctx, msg)
		return
	}

	sessionID, err := s.store.ResolveSession(msg.UserID)
	if err != nil {
		logging.SessionError("Resolve session for user %s: %v", msg.UserID, err)
		s.reply(ctx, msg.UserID, "Something went wrong on my end, please try again.")
		return
	}

	release := s.store.Acquire(sessionID)
	defer release()

	state, err := s.store.GetOrCreateState(sessionID)
	if err != nil {
		logging.SessionError("Load state for session %s: %v", sessionID, err)
		s.reply(ctx, msg.UserID, "Something went wrong on my end, please try again.")
		return
	}

	result, newState := s.runner.ExecuteTurn(ctx, sessionID, state, msg.Text)

	s.persistTurn(sessionID, msg.Text, result, newState)

	if result.Output == "" {
		s.reply(ctx, msg.UserID, "I could not produce a reply: "+result.Failure)
		return
	}
	for _, part := range chat.FormatForChat(result.Output, s.cfg.Chat.MaxMessageSize) {
		if err := s.reply(ctx, msg.UserID, part); err != nil {
			return
		}
	}
}

// persistTurn records the exchange and the updated context state. Storage
// failures are logged but never reach the user; the reply still goes out.
func (s *Server) persistTurn(sessionID, input string, result contextmgr.TurnResult, state contextmgr.ContextState) {
	// Trim before appending this turn's exchange: the compactor's kept tail
	// is defined over the transcript as it stood at compaction time, and the
	// summary only covers turns older than that tail.
	if result.Compacted {
		if err := s.store.TrimToTail(sessionID, s.cfg.ContextWindow.TailSize); err != nil {
			logging.SessionError("Trim history after compaction: %v", err)
		}
	}

	if err := s.store.AppendTurn(sessionID, contextmgr.ConversationTurn{
		Role:      contextmgr.RoleUser,
		Content:   input,
		Timestamp: time.Now(),
	}); err != nil {
		logging.SessionError("Persist user turn: %v", err)
	}
	if result.Output != "" {
		if err := s.store.AppendTurn(sessionID, contextmgr.ConversationTurn{
			Role:      contextmgr.RoleAssistant,
			Content:   result.Output,
			Timestamp: time.Now(),
		}); err != nil {
			logging.SessionError("Persist assistant turn: %v", err)
		}
	}

	if err := s.store.UpdateState(sessionID, state); err != nil {
		logging.SessionError("Persist state for session %s: %v", sessionID, err)
	}
}

// SetResetHook registers a callback invoked with the old session id after a
// user reset.
func (s *Server) SetResetHook(fn func(sessionID string)) {
	s.onReset = fn
}

func (s *Server) handleReset(ctx context.Context, msg chat.InboundMessage) {
	oldSession, err := s.store.ResolveSession(msg.UserID)
	if err != nil {
		logging.SessionError("Resolve session for reset of user %s: %v", msg.UserID, err)
		s.reply(ctx, msg.UserID, "Reset failed, please try again.")
		return
	}

	if err := s.store.ResetUser(msg.UserID); err != nil {
		logging.SessionError("Reset user %s: %v", msg.UserID, err)
		s.reply(ctx, msg.UserID, "Reset failed, please try again.")
		return
	}
	if s.onReset != nil {
		s.onReset(oldSession)
	}
	logging.Session("Reset session for user %s", msg.UserID)
	s.reply(ctx, msg.UserID, "Session cleared. Your next message starts fresh.")
}

func (s *Server) reply(ctx context.Context, userID, text string) error {
	if err := s.chat.SendTo(ctx, userID, text); err != nil {
		logging.TransportWarn("Reply to user %s failed: %v", userID, err)
		return err
	}
	return nil
}
