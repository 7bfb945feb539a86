package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Reveal RevealConfig `yaml:"reveal"`
	Poll   PollConfig   `yaml:"poll"`
	HTTP   HTTPConfig   `yaml:"http"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Log    LogConfig    `yaml:"log"`
}

// RevealConfig holds Reveal cloud API configuration.
type RevealConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	APIBase  string `yaml:"api_base"`
}

// PollConfig holds refresh cycle configuration.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MQTTConfig holds MQTT broker configuration.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr    string `yaml:"addr"`
	CORSAll bool   `yaml:"cors_allow_all"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Reveal: RevealConfig{
			APIBase: "https://api.reveal.ishareit.net/v1",
		},
		Poll: PollConfig{
			Interval: 5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "reveal",
			ClientID:    "reveald",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays environment variables.
// If path is empty, only defaults + env vars are used.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
			// file not found is ok, use defaults
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Validate reports configuration errors that prevent startup.
func (c Config) Validate() error {
	if c.Reveal.Username == "" {
		return fmt.Errorf("config: reveal.username is required")
	}
	if c.Reveal.Password == "" {
		return fmt.Errorf("config: reveal.password is required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("config: mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("REVEAL_USERNAME"); v != "" {
		cfg.Reveal.Username = v
	}
	if v := os.Getenv("REVEAL_PASSWORD"); v != "" {
		cfg.Reveal.Password = v
	}
	if v := os.Getenv("REVEAL_API_BASE"); v != "" {
		cfg.Reveal.APIBase = v
	}
	if v := os.Getenv("REVEAL_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poll.Interval = d
		}
	}
	if v := os.Getenv("REVEAL_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("REVEAL_CORS_ALLOW_ALL"); v != "" {
		cfg.HTTP.CORSAll = parseBool(v)
	}
	if v := os.Getenv("REVEAL_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("REVEAL_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("REVEAL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("REVEAL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("REVEAL_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("REVEAL_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("REVEAL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("REVEAL_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	b, _ := strconv.ParseBool(s)
	return b
}
