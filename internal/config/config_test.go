package config

import (
	"os"
	"testing"
)

func TestInitialize_LoadsConfigFile(t *testing.T) {
	yamlCfg := `
log:
  level: "Info"
paths:
  nextcloudRoot: "/usr/local/www/nextcloud"
  stateDir: "/tmp/ncadm-state"
  backupRoot: "/tmp/nc-backups"
database:
  name: "cloud"
  host: "127.0.0.1"
readiness:
  attempts: 5
  interval: 1s
`
	tmpFile, err := os.CreateTemp("", "ncadm-config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlCfg); err != nil {
		tmpFile.Close()
		t.Fatalf("write temp config: %v", err)
	}
	tmpFile.Close()

	if err := Initialize(tmpFile.Name()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if got := Get().Database.Name; got != "cloud" {
		t.Fatalf("expected database name %q, got %q", "cloud", got)
	}
	if got := Get().Readiness.Attempts; got != 5 {
		t.Fatalf("expected 5 readiness attempts, got %d", got)
	}
}

func TestInitialize_MissingFile(t *testing.T) {
	if err := Initialize("/nonexistent/ncadm.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_RejectsEmptyPaths(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for empty config")
	}
}
