package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Canvas  Canvas  `yaml:"canvas"`
	Battle  Battle  `yaml:"battle"`
	Storage Storage `yaml:"storage"`
}

type Canvas struct {
	DefaultSize int `yaml:"default_size"`
	CooldownMs  int `yaml:"cooldown_ms"`
	CacheTTLMs  int `yaml:"cache_ttl_ms"`
}

type Battle struct {
	BaseCooldownMs      int `yaml:"base_cooldown_ms"`
	OverwriteMultiplier int `yaml:"overwrite_multiplier"`
}

type Storage struct {
	// Backend selects the persistence implementation once at process start:
	// "memory", "file", or "kv".
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	KV      KV     `yaml:"kv"`
}

type KV struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

func Defaults() Config {
	return Config{
		Canvas: Canvas{
			DefaultSize: 64,
			CooldownMs:  10_000,
			CacheTTLMs:  5_000,
		},
		Battle: Battle{
			BaseCooldownMs:      1_000,
			OverwriteMultiplier: 2,
		},
		Storage: Storage{
			Backend: "file",
			Dir:     "./data",
		},
	}
}

func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Canvas.DefaultSize <= 0 {
		return fmt.Errorf("config: canvas.default_size must be positive")
	}
	if c.Canvas.CooldownMs < 0 || c.Battle.BaseCooldownMs <= 0 {
		return fmt.Errorf("config: cooldowns must be positive")
	}
	if c.Battle.OverwriteMultiplier < 1 {
		return fmt.Errorf("config: battle.overwrite_multiplier must be >= 1")
	}
	switch c.Storage.Backend {
	case "memory", "file":
	case "kv":
		if c.Storage.KV.URL == "" {
			return fmt.Errorf("config: storage.kv.url required for kv backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

func (c Canvas) Cooldown() time.Duration { return time.Duration(c.CooldownMs) * time.Millisecond }
func (c Canvas) CacheTTL() time.Duration { return time.Duration(c.CacheTTLMs) * time.Millisecond }
func (b Battle) BaseCooldown() time.Duration {
	return time.Duration(b.BaseCooldownMs) * time.Millisecond
}
