// Package config loads the daemon configuration from <home>/config.yaml,
// applies environment overrides, and watches for changes at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// PersonaFile is the persona prompt loaded from the home directory.
const PersonaFile = "PERSONA.md"

// LLMConfig selects the model provider and conversation sizing.
type LLMConfig struct {
	// Provider is one of "google", "anthropic", "openai_compatible".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`

	// OpenAI-compatible endpoints (e.g. OpenRouter, local servers).
	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"`
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"`

	// HistoryLimit is how many recent turns are replayed per request;
	// HistoryKeep is how many rows TrimHistory retains per owner.
	HistoryLimit int `yaml:"history_limit"`
	HistoryKeep  int `yaml:"history_keep"`
}

type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
}

type OTelConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Exporter   string  `yaml:"exporter"` // "stdout", "otlp-http", "none"
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

type MaintenanceConfig struct {
	IntervalHours      int `yaml:"interval_hours"`
	EventRetentionDays int `yaml:"event_retention_days"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel            string `yaml:"log_level"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`

	LLM         LLMConfig         `yaml:"llm"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	OTel        OTelConfig        `yaml:"otel"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Persona is loaded from <home>/PERSONA.md, not from config.yaml.
	Persona string `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:            "info",
		PollIntervalSeconds: 5,
		LLM: LLMConfig{
			Provider:     "google",
			HistoryLimit: 40,
			HistoryKeep:  400,
		},
		OTel: OTelConfig{
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
		Maintenance: MaintenanceConfig{
			IntervalHours:      6,
			EventRetentionDays: 7,
		},
	}
}

// HomeDir returns the daemon home, honoring the AMAYA_HOME override.
func HomeDir() string {
	if override := os.Getenv("AMAYA_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".amaya")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the home directory, creating the home and a
// minimal config file on first run.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create amaya home: %w", err)
	}

	path := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
		if werr := writeDefaultConfig(path); werr != nil {
			return cfg, werr
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	loadPersona(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func writeDefaultConfig(path string) error {
	out, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("AMAYA_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("AMAYA_POLL_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.PollIntervalSeconds = v
		}
	}
	if raw := os.Getenv("TELEGRAM_BOT_TOKEN"); raw != "" {
		cfg.Telegram.Token = raw
	}
	if raw := os.Getenv("AMAYA_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("AMAYA_LLM_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
	// Provider API key env vars (GEMINI_API_KEY, ANTHROPIC_API_KEY,
	// OPENAI_API_KEY) are read by the engine; only the generic override
	// lands in config.
	if raw := os.Getenv("AMAYA_LLM_API_KEY"); raw != "" {
		cfg.LLM.APIKey = raw
	}
}

func loadPersona(cfg *Config) {
	if b, err := os.ReadFile(filepath.Join(cfg.HomeDir, PersonaFile)); err == nil {
		cfg.Persona = string(b)
	}
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = 5
	}
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if cfg.LLM.HistoryLimit <= 0 {
		cfg.LLM.HistoryLimit = 40
	}
	if cfg.LLM.HistoryKeep <= 0 {
		cfg.LLM.HistoryKeep = 400
	}
	if cfg.OTel.Exporter == "" {
		cfg.OTel.Exporter = "stdout"
	}
	if cfg.OTel.SampleRate <= 0 || cfg.OTel.SampleRate > 1 {
		cfg.OTel.SampleRate = 1.0
	}
	if cfg.Maintenance.IntervalHours <= 0 {
		cfg.Maintenance.IntervalHours = 6
	}
	if cfg.Maintenance.EventRetentionDays <= 0 {
		cfg.Maintenance.EventRetentionDays = 7
	}
}
