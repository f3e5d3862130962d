package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv neutralizes every variable Load consults so tests see only
// what they set themselves.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MESHTALE_HOST", "MESHTALE_PORT", "MESHTALE_DB", "SHARED_CHANNELS",
		"NARRATOR_PROVIDERS", "NARRATOR_MODEL", "NARRATOR_TIMEOUT", "NARRATOR_OFFLINE",
		"OLLAMA_URL", "MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY",
		"MINIO_USE_SSL", "MINIO_BUCKET", "TELEGRAM_TOKEN", "DISCORD_TOKEN",
		"METRICS_ENABLED", "MESHTALE_ANNOUNCE", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshtale.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MESHTALE_CONFIG", path)
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:5000" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if cfg.DBPath != "meshtale.db" {
		t.Errorf("db path = %s", cfg.DBPath)
	}
	if cfg.Engine.SessionTTL() != 24*time.Hour {
		t.Errorf("session ttl = %s", cfg.Engine.SessionTTL())
	}
	if cfg.Engine.LockWait() != 2*time.Second {
		t.Errorf("lock wait = %s", cfg.Engine.LockWait())
	}
	if cfg.Engine.ContextMaxBeats != 20 {
		t.Errorf("context max = %d", cfg.Engine.ContextMaxBeats)
	}
	if len(cfg.Narrator.Providers) != 1 || cfg.Narrator.Providers[0].Provider != "ollama" {
		t.Errorf("providers = %v", cfg.Narrator.Providers)
	}
	if !cfg.Narrator.OfflineFallback {
		t.Error("offline fallback off by default")
	}
	if cfg.Narrator.Timeout() != 30*time.Second {
		t.Errorf("narrator timeout = %s", cfg.Narrator.Timeout())
	}
	if cfg.Radio.MaxFrameLen != 230 {
		t.Errorf("frame len = %d", cfg.Radio.MaxFrameLen)
	}
	if cfg.Guard.RateLimit != 10 || cfg.Guard.RateWindow() != time.Minute {
		t.Errorf("guard = %d/%s", cfg.Guard.RateLimit, cfg.Guard.RateWindow())
	}
	if cfg.Maintenance.SweepSchedule != "@hourly" {
		t.Errorf("sweep schedule = %s", cfg.Maintenance.SweepSchedule)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics off by default")
	}
	if cfg.Backup.Enabled {
		t.Error("backup enabled without credentials")
	}
	if cfg.Bots.Telegram.Enabled || cfg.Bots.Discord.Enabled {
		t.Error("bots enabled without tokens")
	}
}

func TestYAMLFile(t *testing.T) {
	clearEnv(t)
	writeConfig(t, `
server:
  port: 8080
engine:
  shared_channels: [3, 7]
  session_ttl_hours: 48
narrator:
  providers:
    - provider: claude
      model: claude-sonnet-4-20250514
      api_key: yaml-key
  offline_fallback: false
bots:
  telegram:
    token: tg-token
metrics:
  enabled: false
announce:
  message: "MeshTale online"
  channel_idx: 2
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if len(cfg.Engine.SharedChannels) != 2 || cfg.Engine.SharedChannels[1] != 7 {
		t.Errorf("shared channels = %v", cfg.Engine.SharedChannels)
	}
	if cfg.Engine.SessionTTL() != 48*time.Hour {
		t.Errorf("ttl = %s", cfg.Engine.SessionTTL())
	}
	if cfg.Narrator.OfflineFallback {
		t.Error("offline fallback still on")
	}
	p := cfg.Narrator.Providers[0]
	if p.Provider != "claude" || p.APIKey != "yaml-key" {
		t.Errorf("provider = %+v", p)
	}
	if !cfg.Bots.Telegram.Enabled {
		t.Error("telegram not enabled by token")
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics still enabled")
	}
	if cfg.Announce.Message != "MeshTale online" || cfg.Announce.ChannelIdx != 2 {
		t.Errorf("announce = %+v", cfg.Announce)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "server:\n  port: 8080\n")
	t.Setenv("MESHTALE_PORT", "9000")
	t.Setenv("NARRATOR_PROVIDERS", "openai, ollama")
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("NARRATOR_MODEL", "gpt-4o-mini")
	t.Setenv("SHARED_CHANNELS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want env override", cfg.Server.Port)
	}
	if len(cfg.Narrator.Providers) != 2 {
		t.Fatalf("providers = %v", cfg.Narrator.Providers)
	}
	if cfg.Narrator.Providers[0].Provider != "openai" || cfg.Narrator.Providers[0].APIKey != "env-key" {
		t.Errorf("first provider = %+v", cfg.Narrator.Providers[0])
	}
	if cfg.Narrator.Providers[0].Model != "gpt-4o-mini" {
		t.Errorf("model = %s", cfg.Narrator.Providers[0].Model)
	}
	if len(cfg.Engine.SharedChannels) != 1 || cfg.Engine.SharedChannels[0] != 5 {
		t.Errorf("shared channels = %v", cfg.Engine.SharedChannels)
	}
}

func TestMissingProviderKeyFails(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "narrator:\n  providers:\n    - provider: claude\n")

	if _, err := Load(); err == nil {
		t.Error("claude without a key accepted")
	}
}

func TestExplicitMissingFileFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("MESHTALE_CONFIG", filepath.Join(t.TempDir(), "nope.yml"))

	if _, err := Load(); err == nil {
		t.Error("missing explicit config accepted")
	}
}

func TestBackupEnabledByCredentials(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "ak")
	t.Setenv("MINIO_SECRET_KEY", "sk")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Backup.Enabled {
		t.Error("backup not enabled by credentials")
	}
	if cfg.Backup.Bucket != "meshtale" {
		t.Errorf("bucket = %s", cfg.Backup.Bucket)
	}
}

func TestNarratorConfigsMapping(t *testing.T) {
	clearEnv(t)
	writeConfig(t, `
narrator:
  providers:
    - provider: ollama
      model: qwen2:0.5b
      base_url: http://box:11434
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ncfgs := cfg.NarratorConfigs()
	if len(ncfgs) != 1 {
		t.Fatalf("got %d configs", len(ncfgs))
	}
	if ncfgs[0].Provider != "ollama" || ncfgs[0].Model != "qwen2:0.5b" || ncfgs[0].BaseURL != "http://box:11434" {
		t.Errorf("mapped config = %+v", ncfgs[0])
	}
}
