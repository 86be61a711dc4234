package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetState clears package-level logging state between tests.
func resetState() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	dataDir = ""
	config = loggingConfig{}
	configLoaded = false
	logLevel = LevelInfo
}

// TestAllCategoriesLog tests that all categories create log files when debug_mode is true
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `logging:
  level: debug
  debug_mode: true
  categories:
    boot: true
    webhook: true
    session: true
    context: true
    executor: true
    store: true
    transport: true
`
	configPath := filepath.Join(tempDir, "bridge.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategoryWebhook,
		CategorySession,
		CategoryContext,
		CategoryExecutor,
		CategoryStore,
		CategoryTransport,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}

		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}

	// Also test convenience functions
	Boot("Convenience boot log")
	Webhook("Convenience webhook log")
	Session("Convenience session log")
	Context("Convenience context log")
	Executor("Convenience executor log")
	Store("Convenience store log")
	Transport("Convenience transport log")

	// Close all loggers to flush
	CloseAll()

	logsPath := filepath.Join(tempDir, "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				if err != nil {
					t.Errorf("Failed to read log file for %s: %v", cat, err)
					continue
				}
				if len(content) == 0 {
					t.Errorf("Log file for %s is empty", cat)
				}
				break
			}
		}
		if !found {
			t.Errorf("No log file found for category: %s", cat)
		}
	}
}

// TestDebugModeDisabled tests that no logs are created when debug_mode is false
func TestDebugModeDisabled(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `logging:
  level: debug
  debug_mode: false
  categories:
    boot: true
`
	configPath := filepath.Join(tempDir, "bridge.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if IsDebugMode() {
		t.Error("Expected debug mode to be disabled")
	}

	// Logging should be a silent no-op
	Boot("This should not be written")
	Get(CategoryStore).Error("Neither should this")
	CloseAll()

	logsPath := filepath.Join(tempDir, "logs")
	if _, err := os.Stat(logsPath); !os.IsNotExist(err) {
		t.Errorf("Logs directory should not exist in production mode")
	}
}

// TestMissingConfigDefaultsToProduction tests behavior without bridge.yaml
func TestMissingConfigDefaultsToProduction(t *testing.T) {
	tempDir := t.TempDir()

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize should not fail without config: %v", err)
	}
	if IsDebugMode() {
		t.Error("Missing config should default to production mode")
	}
}

// TestCategoryFilter tests that disabled categories return no-op loggers
func TestCategoryFilter(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `logging:
  level: info
  debug_mode: true
  categories:
    boot: true
    executor: false
`
	if err := os.WriteFile(filepath.Join(tempDir, "bridge.yaml"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsCategoryEnabled(CategoryBoot) {
		t.Error("boot category should be enabled")
	}
	if IsCategoryEnabled(CategoryExecutor) {
		t.Error("executor category should be disabled")
	}
	// Unlisted categories default to enabled
	if !IsCategoryEnabled(CategoryStore) {
		t.Error("unlisted category should default to enabled")
	}

	CloseAll()
}

// TestReloadConfig tests a live config change being picked up
func TestReloadConfig(t *testing.T) {
	tempDir := t.TempDir()

	before := `logging:
  level: info
  debug_mode: true
`
	configPath := filepath.Join(tempDir, "bridge.yaml")
	if err := os.WriteFile(configPath, []byte(before), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if !IsDebugMode() {
		t.Fatal("debug mode should start enabled")
	}

	after := `logging:
  level: info
  debug_mode: false
`
	if err := os.WriteFile(configPath, []byte(after), 0644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}
	if err := ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if IsDebugMode() {
		t.Error("debug mode should be disabled after reload")
	}

	CloseAll()
}
