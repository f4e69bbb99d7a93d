// Package cli implements the persona-proxy commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/logging"
	"github.com/rcliao/persona-proxy/internal/store"
)

var (
	configPath string
	envFile    string
	dbPath     string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "persona-proxy",
	Short: "Personality-injecting chat-completion proxy",
	Long: "An OpenAI-compatible chat-completion proxy that rewrites prompts with persona " +
		"instructions and lorebook context, forwards them to Gemini or Cerebras, and " +
		"post-processes the replies.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file, YAML or JSON (default: defaults + environment)")
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before PROXY_* overrides")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Lorebook history database (default: $PROXY_LOREBOOK_DB or ~/.persona-proxy/lorebook.db)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: debug, info, warn, error")
}

func loadSettings() config.Settings {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		exitErr("load config", err)
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	return cfg
}

func newLogger(cfg config.Settings) *zap.Logger {
	log, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		exitErr("init logger", err)
	}
	return log
}

func getDBPath(cfg config.Settings) string {
	if dbPath != "" {
		return dbPath
	}
	if cfg.Lorebook.DBPath != "" {
		return cfg.Lorebook.DBPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".persona-proxy", "lorebook.db")
}

func openStore(cfg config.Settings) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath(cfg))
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
