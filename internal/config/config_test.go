package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "local" || cfg.Storage.Driver != "sqlite" || cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Discovery.TimeoutSeconds != 120 || cfg.FailureRateLimit() != 0.2 || cfg.Log.Format != "console" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadSelectsProfile(t *testing.T) {
	path := writeConfig(t, `
env: prod
local:
  storage:
    driver: sqlite
prod:
  storage:
    driver: postgres
    pg_dsn: postgres://offers@db/offers
  upstream:
    zip_code: "80331"
    allowed_stores: [lidl, aldi_sued]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "prod" || cfg.Storage.Driver != "postgres" || cfg.Upstream.ZipCode != "80331" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Fatalf("prod log defaults: %+v", cfg.Log)
	}
}

func TestLoadUnknownEnv(t *testing.T) {
	if _, err := Load(writeConfig(t, "env: staging\n")); err == nil {
		t.Fatalf("expected error for unknown env")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKTGURU_API_KEY", "secret")
	t.Setenv("ALLOWED_STORES", "edeka, lidl")
	t.Setenv("MAX_FAILURE_RATE", "0.5")
	t.Setenv("FAIL_ON_PARTIAL_SYNC", "true")
	t.Setenv("OFFERSYNC_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeConfig(t, "local:\n  upstream:\n    api_key: from-file\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.APIKey != "secret" {
		t.Fatalf("api key=%q", cfg.Upstream.APIKey)
	}
	if !reflect.DeepEqual(cfg.Upstream.AllowedStores, []string{"edeka", "lidl"}) {
		t.Fatalf("allowed=%v", cfg.Upstream.AllowedStores)
	}
	if cfg.FailureRateLimit() != 0.5 || !cfg.Run.FailOnPartialSync || len(cfg.Events.Brokers) != 2 {
		t.Fatalf("run=%+v brokers=%v", cfg.Run, cfg.Events.Brokers)
	}
}

func TestZeroFailureRateIsKept(t *testing.T) {
	t.Setenv("MAX_FAILURE_RATE", "0")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.FailureRateLimit(); got != 0 {
		t.Fatalf("rate=%v want=0", got)
	}
}

func TestZeroFailureRateFromFileIsKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "local:\n  run:\n    max_failure_rate: 0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.FailureRateLimit(); got != 0 {
		t.Fatalf("rate=%v want=0", got)
	}
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("MAX_FAILURE_RATE", "lots")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestStores(t *testing.T) {
	ids := map[string]string{"edeka": "1", "lidl": "2", "aldi-sued": "3"}
	cfg := &Config{}
	if got := cfg.Stores(ids); !reflect.DeepEqual(got, []string{"aldi-sued", "edeka", "lidl"}) {
		t.Fatalf("all stores=%v", got)
	}
	cfg.Upstream.AllowedStores = []string{"lidl", "netto", "aldi_sued"}
	if got := cfg.Stores(ids); !reflect.DeepEqual(got, []string{"lidl", "aldi-sued"}) {
		t.Fatalf("allowed stores=%v", got)
	}
}
