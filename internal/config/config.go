package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported completion providers.
const (
	ProviderMessages = "messages"
	ProviderOpenAI   = "openai"
)

// Supported history backends.
const (
	HistoryMemory = "memory"
	HistorySQLite = "sqlite"
)

const envPrefix = "SASTAGPT"

// ErrNoAPIKey is returned by LoadAPIKey when no secret source yields a token.
var ErrNoAPIKey = errors.New("no api key configured")

// Config holds the application configuration
type Config struct {
	LLM     LLMConfig
	Server  ServerConfig
	History HistoryConfig
	Log     LogConfig
}

// LLMConfig holds the completion endpoint configuration. The bearer token is
// never part of the file: it is read from the environment variable named by
// APIKeyEnv or from APIKeyFile.
type LLMConfig struct {
	Provider   string        `mapstructure:"provider"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	APIKeyEnv  string        `mapstructure:"api_key_env"`
	APIKeyFile string        `mapstructure:"api_key_file"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// HistoryConfig selects the conversation store backend.
type HistoryConfig struct {
	Backend string `mapstructure:"backend"`
}

// LogConfig holds the logger configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", ProviderMessages)
	v.SetDefault("llm.base_url", "https://api.claude.ai/beta/messages")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.api_key_env", envPrefix+"_API_KEY")
	v.SetDefault("llm.api_key_file", "")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")
	v.SetDefault("history.backend", HistoryMemory)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load loads the configuration from the file named by CONFIG_PATH, or from
// config.yaml in the working directory when present. Every key can be
// overridden with a SASTAGPT_ environment variable (llm.base_url becomes
// SASTAGPT_LLM_BASE_URL).
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile is Load with an explicit config file path. An empty path falls
// back to an optional config.yaml in the working directory.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderMessages, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported llm.provider %q (want %q or %q)", c.LLM.Provider, ProviderMessages, ProviderOpenAI)
	}
	if c.LLM.BaseURL == "" {
		return errors.New("llm.base_url is required")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must not be negative, got %s", c.LLM.Timeout)
	}
	switch c.History.Backend {
	case HistoryMemory, HistorySQLite:
	default:
		return fmt.Errorf("unsupported history.backend %q (want %q or %q)", c.History.Backend, HistoryMemory, HistorySQLite)
	}
	return nil
}

// LoadAPIKey resolves the bearer token: the environment variable named by
// APIKeyEnv wins, then the contents of APIKeyFile.
func LoadAPIKey(cfg LLMConfig) (string, error) {
	if cfg.APIKeyEnv != "" {
		if key := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv)); key != "" {
			return key, nil
		}
	}
	if cfg.APIKeyFile != "" {
		raw, err := os.ReadFile(cfg.APIKeyFile)
		if err != nil {
			return "", fmt.Errorf("read api key file: %w", err)
		}
		if key := strings.TrimSpace(string(raw)); key != "" {
			return key, nil
		}
	}
	return "", ErrNoAPIKey
}
