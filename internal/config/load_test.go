package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverPrefersTasklyConfigOverRc(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, ".tasklyrc.json", `{}`)
	write(t, dir, "taskly.config.yaml", "maxConcurrency: 2\n")

	path, ok := Discover(dir)
	if !ok {
		t.Fatal("expected a config file to be discovered")
	}
	if filepath.Base(path) != "taskly.config.yaml" {
		t.Errorf("got %s, want taskly.config.yaml", path)
	}
}

func TestLoadJSONConfig(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "taskly.config.json", `{"maxConcurrency": 3, "killOthersOnFail": true}`)

	cfg, path, err := Load(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxConcurrency != 3 || !cfg.KillOthersOnFail {
		t.Errorf("got %+v", cfg)
	}
	if filepath.Base(path) != "taskly.config.json" {
		t.Errorf("got path %s", path)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "taskly.config.yaml", "maxConcurrency: 4\ncolors:\n  - red\n  - blue\n")

	cfg, _, err := Load(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxConcurrency != 4 || len(cfg.Colors) != 2 {
		t.Errorf("got %+v", cfg)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "taskly.config.json", `{"totallyUnknownKey": true}`)

	_, _, err := Load(dir, "")
	if err == nil {
		t.Fatal("expected a ConfigError for an unknown top-level key")
	}
}

func TestLoadRejectsJSConfig(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "taskly.config.js", "module.exports = {}")

	_, _, err := Load(dir, "")
	if err == nil {
		t.Fatal("expected a ConfigError for a .js config file")
	}
}

func TestLoadFallsBackToPackageJSONTasklyKey(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"name": "x", "taskly": {"maxConcurrency": 5}}`)

	cfg, path, err := Load(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || cfg.MaxConcurrency != 5 {
		t.Fatalf("got %+v", cfg)
	}
	if filepath.Base(path) != "package.json" {
		t.Errorf("got path %s", path)
	}
}

func TestLoadNoConfigReturnsNilWithoutError(t *testing.T) {
	dir := t.TempDir()
	cfg, path, err := Load(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil || path != "" {
		t.Errorf("expected no config, got %+v / %q", cfg, path)
	}
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
