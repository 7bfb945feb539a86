package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dcrawley/reveald/internal/config"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "reveald",
	Short: "Bridge Tactacam Reveal trail cameras into Home Assistant",
	Long: `Reveald polls the Tactacam Reveal cloud for camera telemetry and photos,
normalizes the vendor's inconsistent JSON into a stable snapshot, and exposes
it over MQTT (Home Assistant auto-discovery) and a local HTTP API.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Load .env file if it exists
	godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (env vars overlay it)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of human-readable output")
}

// loadConfig reads the config file plus environment overlay and validates
// the credentials every command needs.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
