package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env      string         `mapstructure:"env"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           string  `mapstructure:"port"`
	CORSOrigin     string  `mapstructure:"cors_origin"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CountTokens bool          `mapstructure:"count_tokens"`
}

type ChatConfig struct {
	ContextLimit int `mapstructure:"context_limit"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// envBindings maps config keys to the environment variable names deployments
// already use.
var envBindings = map[string]string{
	"env":                     "APP_ENV",
	"server.port":             "PORT",
	"server.cors_origin":      "CORS_ORIGIN",
	"server.rate_limit_rps":   "RATE_LIMIT_RPS",
	"server.rate_limit_burst": "RATE_LIMIT_BURST",
	"database.driver":         "DB_DRIVER",
	"database.url":            "DATABASE_URL",
	"llm.api_key":             "OPENAI_API_KEY",
	"llm.base_url":            "OPENAI_BASE_URL",
	"llm.model":               "OPENAI_MODEL",
	"llm.timeout":             "LLM_TIMEOUT",
	"llm.count_tokens":        "LLM_COUNT_TOKENS",
	"chat.context_limit":      "CHAT_CONTEXT_LIMIT",
	"log.level":               "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("database.driver", "")
	v.SetDefault("database.url", "office-gpt.db")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.count_tokens", false)
	v.SetDefault("chat.context_limit", 10)
	v.SetDefault("log.level", "")
}

// Load reads defaults, then the optional YAML file, then the environment.
// Later sources win.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port must not be empty"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database url must not be empty"))
	}
	if c.Chat.ContextLimit <= 0 {
		errs = append(errs, fmt.Errorf("chat context limit must be positive, got %d", c.Chat.ContextLimit))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm model must not be empty"))
	}
	if c.LLM.Timeout < 0 {
		errs = append(errs, errors.New("llm timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// ValidateProvider additionally requires credentials for the completion
// provider.
func (c *Config) ValidateProvider() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.LLM.APIKey == "" {
		return errors.New("OPENAI_API_KEY is not set")
	}
	return nil
}
