package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEPLOY_CONFIG", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine != "sync" {
		t.Fatalf("Engine = %q, want %q", cfg.Engine, "sync")
	}
	if cfg.StorePath != "" {
		t.Fatalf("StorePath = %q, want empty", cfg.StorePath)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployctl.yaml")
	body := "store_path: /var/lib/deployctl/state.db\nengine: durable\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DEPLOY_CONFIG", path)
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorePath != "/var/lib/deployctl/state.db" {
		t.Fatalf("StorePath = %q", cfg.StorePath)
	}
	if cfg.Engine != "durable" {
		t.Fatalf("Engine = %q, want %q", cfg.Engine, "durable")
	}
}

func TestLoad_LogLevelEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployctl.yaml")
	body := "log_level: warn\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DEPLOY_CONFIG", path)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployctl.yaml")
	body := "store_pth: typo\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DEPLOY_CONFIG", path)
	t.Setenv("LOG_LEVEL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unknown config field")
	}
}
