package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pixelmolt.yaml")
	raw := []byte(`
canvas:
  default_size: 128
  cooldown_ms: 5000
battle:
  base_cooldown_ms: 2000
  overwrite_multiplier: 3
storage:
  backend: kv
  kv:
    url: https://kv.example.com
    token: secret
`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Canvas.DefaultSize != 128 {
		t.Fatalf("default size = %d, want 128", c.Canvas.DefaultSize)
	}
	if c.Canvas.Cooldown() != 5*time.Second {
		t.Fatalf("cooldown = %v, want 5s", c.Canvas.Cooldown())
	}
	// Unset fields keep their defaults.
	if c.Canvas.CacheTTLMs != 5000 {
		t.Fatalf("cache ttl = %d, want default 5000", c.Canvas.CacheTTLMs)
	}
	if c.Battle.BaseCooldown() != 2*time.Second || c.Battle.OverwriteMultiplier != 3 {
		t.Fatalf("battle = %+v", c.Battle)
	}
	if c.Storage.Backend != "kv" || c.Storage.KV.Token != "secret" {
		t.Fatalf("storage = %+v", c.Storage)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	write := func(body string) string {
		t.Helper()
		p := filepath.Join(dir, "c.yaml")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return p
	}

	if _, err := Load(write("storage:\n  backend: cassandra\n")); err == nil {
		t.Fatalf("unknown backend should be rejected")
	}
	if _, err := Load(write("storage:\n  backend: kv\n")); err == nil {
		t.Fatalf("kv backend without url should be rejected")
	}
	if _, err := Load(write("battle:\n  overwrite_multiplier: 0\n")); err == nil {
		t.Fatalf("zero multiplier should be rejected")
	}
	if _, err := Load(filepath.Join(dir, "absent.yaml")); !os.IsNotExist(err) {
		t.Fatalf("missing file should surface IsNotExist")
	}
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	if err := c.validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if c.Canvas.Cooldown() != 10*time.Second {
		t.Fatalf("default cooldown = %v, want 10s", c.Canvas.Cooldown())
	}
}
