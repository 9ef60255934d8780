// Package config assembles the server configuration from a .env file, the
// process environment and the user's JSON overlay.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/ChamsBouzaiene/finchat/internal/providers"
	"github.com/ChamsBouzaiene/finchat/internal/r2c"
)

// Config is the resolved server configuration.
type Config struct {
	Addr         string
	DataDir      string
	MaxTokens    int
	Compression  r2c.Config
	MaxRounds    int
	StreamDelay  time.Duration
	DefaultModel string
	LogLevel     slog.Level
	Credentials  providers.Credentials
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:         ":8000",
		DataDir:      "./data",
		MaxTokens:    20000,
		Compression:  r2c.DefaultConfig(),
		MaxRounds:    engine.DefaultMaxRounds,
		StreamDelay:  2 * time.Millisecond,
		DefaultModel: "deepseek-chat",
		LogLevel:     slog.LevelInfo,
		Credentials:  providers.Credentials{},
	}
}

// Paths inside the data directory.
func (c Config) InteractionsPath() string { return filepath.Join(c.DataDir, "interactions.db") }
func (c Config) IndexPath() string        { return filepath.Join(c.DataDir, "web.bleve") }
func (c Config) LinksPath() string        { return filepath.Join(c.DataDir, "preferred_links.json") }

// Options controls where Load reads from.
type Options struct {
	EnvFiles []string            // default: .env
	Getenv   func(string) string // default: os.Getenv
	Overlay  *Manager            // nil skips the overlay
}

// Load reads the configuration from the default sources.
func Load() (Config, error) {
	opts := Options{}
	if m, err := NewManager(); err == nil {
		opts.Overlay = m
	}
	return LoadWith(opts)
}

// LoadWith reads .env files, then the environment, then the overlay.
// Process environment values win over .env values. Missing .env files are
// ignored; malformed numbers are errors.
func LoadWith(opts Options) (Config, error) {
	if len(opts.EnvFiles) == 0 {
		opts.EnvFiles = []string{".env"}
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}

	dotenv := map[string]string{}
	for _, f := range opts.EnvFiles {
		vals, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("failed to read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := dotenv[k]; !ok {
				dotenv[k] = v
			}
		}
	}
	getenv := func(key string) string {
		if v := opts.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	cfg := Default()
	p := parser{getenv: getenv}
	p.str("FINCHAT_ADDR", &cfg.Addr)
	p.str("FINCHAT_DATA_DIR", &cfg.DataDir)
	p.int("FINCHAT_MAX_TOKENS", &cfg.MaxTokens)
	p.float("FINCHAT_COMPRESSION_RATIO", &cfg.Compression.Ratio)
	p.float("FINCHAT_RHO", &cfg.Compression.Rho)
	p.float("FINCHAT_GAMMA", &cfg.Compression.Gamma)
	p.int("FINCHAT_MAX_ROUNDS", &cfg.MaxRounds)
	p.duration("FINCHAT_STREAM_DELAY", &cfg.StreamDelay)
	p.str("FINCHAT_DEFAULT_MODEL", &cfg.DefaultModel)
	p.level("FINCHAT_LOG_LEVEL", &cfg.LogLevel)
	if p.err != nil {
		return Config{}, p.err
	}
	cfg.Credentials = providers.CredentialsFromEnv(getenv)

	if opts.Overlay != nil {
		o, err := opts.Overlay.Load()
		if err != nil {
			return Config{}, err
		}
		cfg.applyOverlay(o)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyOverlay(o *Overlay) {
	if o.DefaultModel != "" {
		c.DefaultModel = o.DefaultModel
	}
	if o.MaxTokens > 0 {
		c.MaxTokens = o.MaxTokens
	}
	for name, key := range o.APIKeys {
		if key != "" {
			c.Credentials[providers.Provider(name)] = key
		}
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("max rounds must be positive, got %d", c.MaxRounds)
	}
	if c.StreamDelay < 0 {
		return fmt.Errorf("stream delay must not be negative, got %s", c.StreamDelay)
	}
	if _, ok := providers.Lookup(c.DefaultModel); !ok {
		return fmt.Errorf("%w: default model %s", providers.ErrUnknownModel, c.DefaultModel)
	}
	return c.Compression.Validate()
}

// parser reads typed values, keeping the first error.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := strings.TrimSpace(p.getenv(key))
	return v, v != ""
}

func (p *parser) fail(key, v string, err error) {
	p.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *parser) int(key string, dst *int) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (p *parser) level(key string, dst *slog.Level) {
	if v, ok := p.lookup(key); ok {
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			p.fail(key, v, err)
		}
	}
}
