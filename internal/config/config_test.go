package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Blank values fall through to defaults; this also shields the test from
	// ambient environment configuration.
	for _, key := range []string{
		"API_ADDR", "TOOLFORGE_HEARTBEAT_TIMEOUT_SECONDS", "TOOLFORGE_FLUSH_DEBOUNCE_MS",
		"TOOLFORGE_DEDUP_WINDOW", "REDIS_URL", "MEILI_URL", "TOOLFORGE_HISTORY_DIR", "MINIO_ENDPOINT",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Addr != ":8788" {
		t.Errorf("unexpected default addr %q", cfg.Addr)
	}
	if cfg.HeartbeatTimeout != 30*time.Second {
		t.Errorf("unexpected heartbeat timeout %v", cfg.HeartbeatTimeout)
	}
	if cfg.FlushDebounce != 2*time.Second {
		t.Errorf("unexpected flush debounce %v", cfg.FlushDebounce)
	}
	if cfg.DedupWindow != 512 {
		t.Errorf("unexpected dedup window %d", cfg.DedupWindow)
	}
	if cfg.RedisURL != "" || cfg.MeiliURL != "" || cfg.HistoryDir != "" || cfg.MinioEndpoint != "" {
		t.Error("optional integrations must default to disabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("TOOLFORGE_HEARTBEAT_TIMEOUT_SECONDS", "5")
	t.Setenv("TOOLFORGE_FLUSH_DEBOUNCE_MS", "250")
	t.Setenv("TOOLFORGE_SESSION_BUFFER", "8")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Errorf("addr override lost: %q", cfg.Addr)
	}
	if cfg.HeartbeatTimeout != 5*time.Second {
		t.Errorf("heartbeat override lost: %v", cfg.HeartbeatTimeout)
	}
	if cfg.FlushDebounce != 250*time.Millisecond {
		t.Errorf("debounce override lost: %v", cfg.FlushDebounce)
	}
	if cfg.SessionBuffer != 8 {
		t.Errorf("session buffer override lost: %d", cfg.SessionBuffer)
	}
	if cfg.RedisURL == "" {
		t.Error("redis url override lost")
	}
}

func TestLoadIgnoresUnparsableInts(t *testing.T) {
	t.Setenv("TOOLFORGE_DEDUP_WINDOW", "many")
	cfg := Load()
	if cfg.DedupWindow != 512 {
		t.Errorf("expected fallback 512, got %d", cfg.DedupWindow)
	}
}
