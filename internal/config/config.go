// Package config assembles runtime settings from defaults, an optional
// YAML file and environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bowerhall/meshtale/internal/narrator"
)

// DefaultPath is consulted when MESHTALE_CONFIG is unset.
const DefaultPath = "meshtale.yml"

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	DBPath      string            `yaml:"db_path"`
	Engine      EngineConfig      `yaml:"engine"`
	Narrator    NarratorConfig    `yaml:"narrator"`
	Radio       RadioConfig       `yaml:"radio"`
	Guard       GuardConfig       `yaml:"guard"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Backup      BackupConfig      `yaml:"backup"`
	Bots        BotsConfig        `yaml:"bots"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Announce    AnnounceConfig    `yaml:"announce"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type EngineConfig struct {
	SharedChannels  []int `yaml:"shared_channels"`
	SessionTTLHours int   `yaml:"session_ttl_hours"`
	ContextMaxBeats int   `yaml:"context_max_beats"`
	LockWaitSeconds int   `yaml:"lock_wait_seconds"`
}

func (e EngineConfig) SessionTTL() time.Duration {
	return time.Duration(e.SessionTTLHours) * time.Hour
}

func (e EngineConfig) LockWait() time.Duration {
	return time.Duration(e.LockWaitSeconds) * time.Second
}

// ProviderConfig selects one narrator backend.
type ProviderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

type NarratorConfig struct {
	Providers       []ProviderConfig `yaml:"providers"`
	TimeoutSeconds  int              `yaml:"timeout_seconds"`
	OfflineFallback bool             `yaml:"offline_fallback"`
}

func (n NarratorConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

type RadioConfig struct {
	MaxFrameLen int `yaml:"max_frame_len"`
}

type GuardConfig struct {
	RateLimit         int `yaml:"rate_limit"`
	RateWindowSeconds int `yaml:"rate_window_seconds"`
}

func (g GuardConfig) RateWindow() time.Duration {
	return time.Duration(g.RateWindowSeconds) * time.Second
}

type MaintenanceConfig struct {
	SweepSchedule  string `yaml:"sweep_schedule"`
	ResetSchedule  string `yaml:"reset_schedule"`
	ResetChannel   int    `yaml:"reset_channel"`
	BackupSchedule string `yaml:"backup_schedule"`
}

type BackupConfig struct {
	Enabled   bool
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Keep      int    `yaml:"keep"`
}

type BotInstance struct {
	Enabled bool
	Token   string `yaml:"token"`
}

type BotsConfig struct {
	Telegram BotInstance `yaml:"telegram"`
	Discord  BotInstance `yaml:"discord"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AnnounceConfig broadcasts a notice to the mesh at startup when the
// message is non-empty.
type AnnounceConfig struct {
	Message    string `yaml:"message"`
	ChannelIdx int    `yaml:"channel_idx"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 5000},
		DBPath: "meshtale.db",
		Engine: EngineConfig{
			SessionTTLHours: 24,
			ContextMaxBeats: 20,
			LockWaitSeconds: 2,
		},
		Narrator: NarratorConfig{
			Providers:       []ProviderConfig{{Provider: "ollama"}},
			TimeoutSeconds:  30,
			OfflineFallback: true,
		},
		Radio: RadioConfig{MaxFrameLen: 230},
		Guard: GuardConfig{RateLimit: 10, RateWindowSeconds: 60},
		Maintenance: MaintenanceConfig{
			SweepSchedule: "@hourly",
		},
		Backup:  BackupConfig{Bucket: "meshtale", Prefix: "sessions/", Keep: 14},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load returns the effective configuration. A missing config file is
// fine; a present but unreadable one is not.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("MESHTALE_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// no file, defaults and env carry it
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := finish(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if host := os.Getenv("MESHTALE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("MESHTALE_PORT")); err == nil && port > 0 {
		cfg.Server.Port = port
	}
	if db := os.Getenv("MESHTALE_DB"); db != "" {
		cfg.DBPath = db
	}

	if raw := os.Getenv("SHARED_CHANNELS"); raw != "" {
		cfg.Engine.SharedChannels = parseIntList(raw)
	}

	if raw := os.Getenv("NARRATOR_PROVIDERS"); raw != "" {
		var providers []ProviderConfig
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			providers = append(providers, ProviderConfig{Provider: name})
		}
		cfg.Narrator.Providers = providers
	}
	if model := os.Getenv("NARRATOR_MODEL"); model != "" {
		for i := range cfg.Narrator.Providers {
			if cfg.Narrator.Providers[i].Model == "" {
				cfg.Narrator.Providers[i].Model = model
			}
		}
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		for i := range cfg.Narrator.Providers {
			if cfg.Narrator.Providers[i].Provider == "ollama" {
				cfg.Narrator.Providers[i].BaseURL = url
			}
		}
	}
	if secs, err := strconv.Atoi(os.Getenv("NARRATOR_TIMEOUT")); err == nil && secs > 0 {
		cfg.Narrator.TimeoutSeconds = secs
	}
	if os.Getenv("NARRATOR_OFFLINE") == "false" {
		cfg.Narrator.OfflineFallback = false
	}

	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		cfg.Backup.Endpoint = endpoint
	}
	if key := os.Getenv("MINIO_ACCESS_KEY"); key != "" {
		cfg.Backup.AccessKey = key
	}
	if key := os.Getenv("MINIO_SECRET_KEY"); key != "" {
		cfg.Backup.SecretKey = key
	}
	if os.Getenv("MINIO_USE_SSL") == "true" {
		cfg.Backup.UseSSL = true
	}
	if bucket := os.Getenv("MINIO_BUCKET"); bucket != "" {
		cfg.Backup.Bucket = bucket
	}

	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		cfg.Bots.Telegram.Token = token
	}
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.Bots.Discord.Token = token
	}

	if os.Getenv("METRICS_ENABLED") == "false" {
		cfg.Metrics.Enabled = false
	}

	if msg := os.Getenv("MESHTALE_ANNOUNCE"); msg != "" {
		cfg.Announce.Message = msg
	}
}

// finish fills derived fields and resolves provider credentials.
func finish(cfg *Config) error {
	cfg.Backup.Enabled = cfg.Backup.Endpoint != "" &&
		cfg.Backup.AccessKey != "" && cfg.Backup.SecretKey != ""
	cfg.Bots.Telegram.Enabled = cfg.Bots.Telegram.Token != ""
	cfg.Bots.Discord.Enabled = cfg.Bots.Discord.Token != ""

	for i := range cfg.Narrator.Providers {
		p := &cfg.Narrator.Providers[i]
		if p.APIKey == "" {
			p.APIKey = apiKeyFor(p.Provider)
		}
		if p.APIKey == "" && p.Provider != "ollama" {
			return fmt.Errorf("no API key for narrator provider %s", p.Provider)
		}
	}

	return nil
}

func apiKeyFor(provider string) string {
	switch provider {
	case "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "ollama":
		return ""
	default:
		// OPENAI_API_KEY, GROQ_API_KEY, MISTRAL_API_KEY and friends
		return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
	}
}

// NarratorConfigs maps the provider list onto narrator backend configs.
func (c *Config) NarratorConfigs() []narrator.Config {
	out := make([]narrator.Config, 0, len(c.Narrator.Providers))
	for _, p := range c.Narrator.Providers {
		out = append(out, narrator.Config{
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Model:    p.Model,
			BaseURL:  p.BaseURL,
		})
	}
	return out
}

func parseIntList(raw string) []int {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, n)
		}
	}
	return out
}
