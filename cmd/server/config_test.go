package main

import (
	"testing"
	"time"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MCE_ADDR", ":9090")
	t.Setenv("MCE_CORS_ORIGINS", " https://a.example.com, ,https://b.example.com")
	t.Setenv("MCE_SNAPSHOT_TTL_SECONDS", "60")
	t.Setenv("MCE_AI_ANALYSIS", "off")
	cfg := configFromEnv()
	if cfg.AIAnalysis {
		t.Fatalf("expected analysis disabled")
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Fatalf("origins=%v", cfg.CORSOrigins)
	}
	if cfg.SnapshotTTL != time.Minute {
		t.Fatalf("ttl=%v", cfg.SnapshotTTL)
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("MCE_ADDR", "")
	t.Setenv("MCE_DB_PATH", "")
	t.Setenv("MCE_REDIS_ADDR", "")
	t.Setenv("MCE_AI_ANALYSIS", "")
	cfg := configFromEnv()
	if cfg.Addr != ":8080" || cfg.DBPath != "data/engine.db" || cfg.RedisAddr != "" || !cfg.AIAnalysis {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
