// Package config loads the engine configuration: YAML file first, then
// KITS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"uniquekits.dev/internal/grant"
	"uniquekits.dev/internal/logging"
	"uniquekits.dev/internal/persistence/kv"
	"uniquekits.dev/internal/schedule"
	"uniquekits.dev/internal/session"
)

const EnvPrefix = "KITS_"

type Config struct {
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`

	Kits    Kits    `yaml:"kits" envPrefix:"KIT_"`
	Store   Store   `yaml:"store" envPrefix:"STORE_"`
	Grant   Grant   `yaml:"grant" envPrefix:"GRANT_"`
	Session Session `yaml:"session" envPrefix:"SESSION_"`

	FirstJoin FirstJoin `yaml:"first_join" envPrefix:"FIRST_JOIN_"`
	AutoGive  AutoGive  `yaml:"auto_give" envPrefix:"AUTO_GIVE_"`

	// Tick is the duration of one host tick.
	Tick time.Duration `yaml:"tick" env:"TICK"`

	Hooks   Hooks          `yaml:"hooks" envPrefix:"HOOKS_"`
	Journal Journal        `yaml:"journal" envPrefix:"JOURNAL_"`
	Index   Index          `yaml:"index" envPrefix:"INDEX_"`
	Watch   Watch          `yaml:"watch" envPrefix:"WATCH_"`
	Logging logging.Config `yaml:"logging" envPrefix:"LOG_"`
}

type Kits struct {
	// Source is "file" or "kv".
	Source      string `yaml:"source" env:"SOURCE"`
	File        string `yaml:"file" env:"FILE"`
	SeedStarter bool   `yaml:"seed_starter" env:"SEED_STARTER"`
}

type Store struct {
	Backend  string        `yaml:"backend" env:"BACKEND"`
	Path     string        `yaml:"path" env:"PATH"`
	Autosave time.Duration `yaml:"autosave" env:"AUTOSAVE"`
}

type Grant struct {
	Overflow      string `yaml:"overflow" env:"OVERFLOW"`
	FlushOnCommit bool   `yaml:"flush_on_commit" env:"FLUSH_ON_COMMIT"`
}

type Session struct {
	Grace time.Duration `yaml:"grace" env:"GRACE"`
}

// FirstJoin delays are in seconds.
type FirstJoin struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	Delay   int  `yaml:"delay" env:"DELAY"`
	Welcome bool `yaml:"welcome" env:"WELCOME"`
}

type AutoGive struct {
	OnJoin       bool `yaml:"on_join" env:"ON_JOIN"`
	JoinDelay    int  `yaml:"join_delay" env:"JOIN_DELAY"`
	OnRespawn    bool `yaml:"on_respawn" env:"ON_RESPAWN"`
	RespawnDelay int  `yaml:"respawn_delay" env:"RESPAWN_DELAY"`
}

type Hooks struct {
	Economy        bool   `yaml:"economy" env:"ECONOMY"`
	EssentialsKits string `yaml:"essentials_kits" env:"ESSENTIALS_KITS"`
}

type Journal struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Dir     string `yaml:"dir" env:"DIR"`
}

type Index struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

type Watch struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE"`
}

func Defaults() Config {
	return Config{
		DataDir: "data",
		Kits:    Kits{Source: "file", File: "kits.yml", SeedStarter: true},
		Store:   Store{Backend: kv.BackendBolt, Path: "records.db", Autosave: 5 * time.Minute},
		Grant:   Grant{Overflow: string(grant.OverflowStash)},
		FirstJoin: FirstJoin{
			Enabled: true,
			Delay:   3,
			Welcome: true,
		},
		AutoGive: AutoGive{OnJoin: true, JoinDelay: 1, OnRespawn: true},
		Tick:     schedule.DefaultTick,
		Hooks:    Hooks{Economy: true, EssentialsKits: "plugins/Essentials/kits.yml"},
		Journal:  Journal{Enabled: true, Dir: "journal"},
		Index:    Index{Enabled: true, Path: "index.sqlite"},
		Watch:    Watch{Enabled: true, Debounce: 500 * time.Millisecond},
		Logging:  logging.Config{Level: "info", Mode: "prod"},
	}
}

// Load reads path over Defaults and applies environment overrides. A missing
// file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	c := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return c, err
		default:
			if err := yaml.Unmarshal(raw, &c); err != nil {
				return c, fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
		}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Kits.Source {
	case "file", "kv":
	default:
		errs = append(errs, fmt.Errorf("kits.source: unknown %q", c.Kits.Source))
	}
	switch c.Store.Backend {
	case kv.BackendBolt, kv.BackendSQLite, kv.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown %q", c.Store.Backend))
	}
	switch grant.OverflowPolicy(c.Grant.Overflow) {
	case grant.OverflowStash, grant.OverflowDrop:
	default:
		errs = append(errs, fmt.Errorf("grant.overflow: unknown %q", c.Grant.Overflow))
	}
	if c.Tick <= 0 {
		errs = append(errs, errors.New("tick must be positive"))
	}
	if c.Session.Grace < 0 {
		errs = append(errs, errors.New("session.grace must not be negative"))
	}
	return errors.Join(errs...)
}

// Resolve joins a relative path onto the data dir.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

func (c Config) seconds(n int) time.Duration {
	return schedule.Ticks(n*20, c.Tick)
}

// SessionConfig converts the onboarding settings into session timings.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		FirstJoinEnabled:   c.FirstJoin.Enabled,
		FirstJoinDelay:     c.seconds(c.FirstJoin.Delay),
		WelcomeEnabled:     c.FirstJoin.Welcome,
		WelcomeDelay:       schedule.Ticks(20, c.Tick),
		AutoJoinEnabled:    c.AutoGive.OnJoin,
		AutoJoinDelay:      c.seconds(c.AutoGive.JoinDelay),
		AutoRespawnEnabled: c.AutoGive.OnRespawn,
		AutoRespawnDelay:   c.seconds(c.AutoGive.RespawnDelay),
		Grace:              c.Session.Grace,
	}
}
