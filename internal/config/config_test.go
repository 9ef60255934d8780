package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/finchat/internal/providers"
)

func envFunc(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func noDotenv(t *testing.T) []string {
	return []string{filepath.Join(t.TempDir(), "missing.env")}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(Options{EnvFiles: noDotenv(t), Getenv: envFunc(nil)})
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	if cfg.Addr != want.Addr || cfg.MaxTokens != 20000 || cfg.DefaultModel != "deepseek-chat" ||
		cfg.Compression != want.Compression || cfg.MaxRounds != 5 || cfg.StreamDelay != 2*time.Millisecond {
		t.Errorf("LoadWith() = %+v", cfg)
	}
	if len(cfg.Credentials) != 0 {
		t.Errorf("Credentials = %v", cfg.Credentials)
	}
}

func TestLoadEnvironment(t *testing.T) {
	cfg, err := LoadWith(Options{
		EnvFiles: noDotenv(t),
		Getenv: envFunc(map[string]string{
			"FINCHAT_ADDR":              "127.0.0.1:9000",
			"FINCHAT_MAX_TOKENS":        "500",
			"FINCHAT_COMPRESSION_RATIO": "0.3",
			"FINCHAT_RHO":               "0",
			"FINCHAT_GAMMA":             "2.5",
			"FINCHAT_MAX_ROUNDS":        "3",
			"FINCHAT_STREAM_DELAY":      "0s",
			"FINCHAT_DEFAULT_MODEL":     "claude-4-sonnet",
			"FINCHAT_LOG_LEVEL":         "debug",
			"ANTHROPIC_API_KEY":         "sk-ant",
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.MaxTokens != 500 || cfg.MaxRounds != 3 || cfg.StreamDelay != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Compression.Ratio != 0.3 || cfg.Compression.Rho != 0 || cfg.Compression.Gamma != 2.5 {
		t.Errorf("Compression = %+v", cfg.Compression)
	}
	if cfg.DefaultModel != "claude-4-sonnet" || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("model/level = %s/%s", cfg.DefaultModel, cfg.LogLevel)
	}
	if cfg.Credentials[providers.ProviderAnthropic] != "sk-ant" {
		t.Errorf("Credentials = %v", cfg.Credentials)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad int", map[string]string{"FINCHAT_MAX_TOKENS": "lots"}, "FINCHAT_MAX_TOKENS"},
		{"bad float", map[string]string{"FINCHAT_RHO": "half"}, "FINCHAT_RHO"},
		{"bad duration", map[string]string{"FINCHAT_STREAM_DELAY": "2"}, "FINCHAT_STREAM_DELAY"},
		{"bad level", map[string]string{"FINCHAT_LOG_LEVEL": "loud"}, "FINCHAT_LOG_LEVEL"},
		{"zero budget", map[string]string{"FINCHAT_MAX_TOKENS": "0"}, "max tokens"},
		{"ratio out of range", map[string]string{"FINCHAT_COMPRESSION_RATIO": "1.5"}, "compression ratio"},
		{"rho out of range", map[string]string{"FINCHAT_RHO": "-0.1"}, "rho"},
		{"negative gamma", map[string]string{"FINCHAT_GAMMA": "-1"}, "gamma"},
		{"unknown model", map[string]string{"FINCHAT_DEFAULT_MODEL": "gpt-0"}, "unknown model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith(Options{EnvFiles: noDotenv(t), Getenv: envFunc(tt.env)})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadWith() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadDotenvAndOverlay(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "FINCHAT_MAX_TOKENS=800\nFINCHAT_ADDR=:7000\nDEEPSEEK_API_KEY=from-file\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	overlay := NewManagerAt(filepath.Join(dir, "cfg"))
	if overlay.Exists() {
		t.Fatal("overlay exists before Save")
	}
	if err := overlay.Save(&Overlay{DefaultModel: "gemini-2.5-flash", APIKeys: map[string]string{"gemini": "g-key"}}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWith(Options{
		EnvFiles: []string{envFile},
		Getenv:   envFunc(map[string]string{"FINCHAT_ADDR": ":9999"}),
		Overlay:  overlay,
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %s, environment should win over .env", cfg.Addr)
	}
	if cfg.MaxTokens != 800 {
		t.Errorf("MaxTokens = %d, want value from .env", cfg.MaxTokens)
	}
	if cfg.DefaultModel != "gemini-2.5-flash" {
		t.Errorf("DefaultModel = %s, want overlay value", cfg.DefaultModel)
	}
	if cfg.Credentials[providers.ProviderDeepSeek] != "from-file" || cfg.Credentials[providers.ProviderGemini] != "g-key" {
		t.Errorf("Credentials = %v", cfg.Credentials)
	}
}

func TestManagerLoadMissingAndCorrupt(t *testing.T) {
	m := NewManagerAt(t.TempDir())
	o, err := m.Load()
	if err != nil || o.DefaultModel != "" {
		t.Fatalf("Load() = %+v, %v", o, err)
	}
	if err := os.WriteFile(m.GetConfigPath(), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(); err == nil {
		t.Error("Load() accepted corrupt file")
	}
}
