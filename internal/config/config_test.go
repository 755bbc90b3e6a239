package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbox-sync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
base_url: https://crm.example.com/api
tenant_id: 3
department_id: 12
agent_id: 7
poll_seconds: 10
log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "https://crm.example.com/api" || cfg.TenantID != 3 || cfg.AgentID != 7 {
		t.Fatalf("config wrong: %+v", cfg)
	}
	if cfg.DepartmentID != 12 || cfg.PollSeconds != 10 || cfg.LogLevel != "debug" {
		t.Fatalf("config wrong: %+v", cfg)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
base_url: https://crm.example.com/api
tenant_id: 3
agent_id: 7
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollSeconds != 5 || cfg.PageLimit != 50 || cfg.LogLevel != "info" {
		t.Fatalf("defaults wrong: %+v", cfg)
	}
}

func TestLoadRejectsIncomplete(t *testing.T) {
	path := writeConfig(t, `
base_url: https://crm.example.com/api
tenant_id: 3
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing agent_id")
	}
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
