package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/chat"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/config"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/contextmgr"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/executor"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/server"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/store"
)

var (
	// Global flags
	verbose bool
	dataDir string

	// Logger
	logger *zap.Logger
)

var version = "0.3.0"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Synology Chat to Claude CLI bridge",
	Long: `bridge connects a Synology Chat channel to the Claude CLI.

Messages arriving on the outgoing webhook are executed as Claude turns and
the replies are pushed back through the incoming webhook. Conversation
context is tracked per user: token budgets, history compaction and message
segmentation all happen here so long conversations keep working.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the webhook server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Starts the HTTP server that receives Synology Chat outgoing webhooks
and drives Claude CLI turns. Requires the webhook token and incoming
webhook URL to be configured (bridge.yaml or BRIDGE_TOKEN /
BRIDGE_WEBHOOK_URL).`,
	RunE: runServe,
}

// resetCmd clears a user's session from the command line
var resetCmd = &cobra.Command{
	Use:   "reset [user-id]",
	Short: "Clear a user's conversation session",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

// versionCmd prints the version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bridge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bridge %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", defaultDataDir(), "Data directory (config, logs, database)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bridge"
	}
	return filepath.Join(home, ".bridge")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configPath() string {
	return filepath.Join(dataDir, "bridge.yaml")
}

func dbPath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Storage.DatabasePath) {
		return cfg.Storage.DatabasePath
	}
	return filepath.Join(dataDir, cfg.Storage.DatabasePath)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Initialize(dataDir); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.CloseAll()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		if err := logging.WatchConfig(stop); err != nil {
			logging.BootError("Config watcher stopped: %v", err)
		}
	}()

	logging.Boot("bridge %s starting, data dir %s", version, dataDir)
	logger.Info("starting bridge",
		zap.String("version", version),
		zap.String("data_dir", dataDir),
		zap.String("listen_addr", cfg.Server.ListenAddr))

	st, err := store.NewSessionStore(dbPath(cfg))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	claude := executor.New(cfg.Claude)

	est := contextmgr.NewEstimator(
		cfg.ContextWindow.CharsPerToken,
		cfg.ContextWindow.SoftLimit,
		cfg.ContextWindow.HardLimit)
	orch := contextmgr.NewOrchestrator(contextmgr.Options{
		Estimator:      est,
		MaxChunkSize:   cfg.ContextWindow.MaxChunkSize,
		TailSize:       cfg.ContextWindow.TailSize,
		MaxCompactSpan: cfg.ContextWindow.MaxCompactSpan,
	}, claude, claude, st)

	chatClient := chat.NewClient(cfg.Chat.IncomingWebhookURL, cfg.Chat.SendTimeout, cfg.Chat.SendInterval)

	srv := server.New(cfg, st, orch, chatClient)
	srv.SetResetHook(claude.Forget)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = srv.Run(ctx)
	logging.Boot("bridge stopped")
	return err
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.NewSessionStore(dbPath(cfg))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	userID := args[0]
	if err := st.ResetUser(userID); err != nil {
		return fmt.Errorf("reset user %s: %w", userID, err)
	}
	fmt.Printf("Cleared session for user %s\n", userID)
	return nil
}
