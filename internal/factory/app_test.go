package factory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChamsBouzaiene/finchat/internal/config"
	"github.com/ChamsBouzaiene/finchat/internal/links"
)

func TestBuildAppCreatesDataFiles(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	app, err := BuildApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildApp() error = %v", err)
	}
	app.Start()
	defer app.Close()

	for _, path := range []string{cfg.InteractionsPath(), cfg.IndexPath(), filepath.Join(cfg.DataDir, links.FileName)} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s: %v", path, err)
		}
	}
	if got := app.Agent.Config().DefaultModel; got != "deepseek-chat" {
		t.Errorf("default model = %s", got)
	}

	ts := httptest.NewServer(app.Server.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Models []struct {
			ID        string `json:"id"`
			Available bool   `json:"available"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Models) == 0 {
		t.Fatal("no models listed")
	}
	for _, m := range body.Models {
		if m.Available {
			t.Errorf("model %s available without credentials", m.ID)
		}
	}
}

func TestBuildAppFailsOnBadDataDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.DataDir = file
	if _, err := BuildApp(context.Background(), cfg); err == nil {
		t.Error("BuildApp() accepted a file as data dir")
	}
}
