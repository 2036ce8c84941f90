package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

const defaultConfigFile = "config.yaml"

type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Timezone  string                 `yaml:"timezone"`
	LogLevel  string                 `yaml:"log_level"`
	YouTube   YouTubeConfig          `yaml:"youtube"`
	Email     EmailConfig            `yaml:"email"`
	Schedules []models.ScheduleInput `yaml:"schedules"`
}

type ServerConfig struct {
	Port      int    `yaml:"port" env:"PORT"`
	StaticDir string `yaml:"static_dir"`
}

type YouTubeConfig struct {
	RequestTimeoutSeconds int   `yaml:"request_timeout_seconds"`
	MaxResults            int64 `yaml:"max_results"`
}

type EmailConfig struct {
	SMTPServer     string `yaml:"smtp_server"`
	SMTPPort       int    `yaml:"smtp_port"`
	Username       string `yaml:"username" env:"EMAIL_USERNAME"`
	Password       string `yaml:"password" env:"EMAIL_PASSWORD"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RequestTimeout bounds every call to the YouTube API.
func (c YouTubeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Timeout bounds one complete SMTP delivery.
func (c EmailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads .env, then the YAML file named by CONFIG_FILE (config.yaml by
// default), then applies environment overrides and defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configFile, explicit := os.LookupEnv("CONFIG_FILE")
	if !explicit || configFile == "" {
		configFile = defaultConfigFile
	}

	var cfg Config
	data, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults and environment only
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Parse decodes YAML without touching the environment. Used by tests and tools.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		c.Timezone = tz
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.LogLevel = lvl
	}
	if c.Email.Username == "" {
		c.Email.Username = firstEnv("EMAIL_USERNAME", "GMAIL_USER")
	}
	if c.Email.Password == "" {
		c.Email.Password = firstEnv("EMAIL_PASSWORD", "GMAIL_PASS")
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Taipei"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.YouTube.RequestTimeoutSeconds <= 0 {
		c.YouTube.RequestTimeoutSeconds = 30
	}
	if c.YouTube.MaxResults <= 0 {
		c.YouTube.MaxResults = 50
	}
	if c.Email.SMTPServer == "" {
		c.Email.SMTPServer = "smtp.gmail.com"
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	if c.Email.FromEmail == "" {
		c.Email.FromEmail = c.Email.Username
	}
	if c.Email.FromName == "" {
		c.Email.FromName = "YouTube 業配系統"
	}
	if c.Email.TimeoutSeconds <= 0 {
		c.Email.TimeoutSeconds = 30
	}
}

// Location resolves the reference zone used for triggers and report dates.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive, got %d", c.Server.Port)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Email.Username == "" {
		return fmt.Errorf("Email username is required (set EMAIL_USERNAME or email.username)")
	}
	if c.Email.Password == "" {
		return fmt.Errorf("Email password is required (set EMAIL_PASSWORD or email.password)")
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
