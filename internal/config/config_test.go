package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
ingest_port = 9090
summary_port = 9091
log_level = "debug"
data_dir = "` + dir + `"

[store]
path = "` + filepath.Join(dir, "logsentry.db") + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.IngestPort != 9090 {
		t.Errorf("IngestPort: got %d, want 9090", cfg.Server.IngestPort)
	}
	if cfg.Server.SummaryPort != 9091 {
		t.Errorf("SummaryPort: got %d, want 9091", cfg.Server.SummaryPort)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
ingest_port = 7677
summary_port = 7678
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("LOGSENTRY_SERVER_INGEST_PORT", "8888")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.IngestPort != 8888 {
		t.Errorf("IngestPort with env override: got %d, want 8888", cfg.Server.IngestPort)
	}
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
ingest_port = 0
summary_port = 7678
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestLoad_ValidationFailure_SamePorts(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "same-ports.toml")

	content := `
[server]
ingest_port = 7777
summary_port = 7777
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for same ports")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.IngestPort != DefaultIngestPort {
		t.Errorf("IngestPort: got %d, want %d", cfg.Server.IngestPort, DefaultIngestPort)
	}
	if cfg.Server.SummaryPort != DefaultSummaryPort {
		t.Errorf("SummaryPort: got %d, want %d", cfg.Server.SummaryPort, DefaultSummaryPort)
	}
	if cfg.Auth.BcryptCost != DefaultBcryptCost {
		t.Errorf("BcryptCost: got %d, want %d", cfg.Auth.BcryptCost, DefaultBcryptCost)
	}
	if cfg.Aggregate.ErrorWindowSize != DefaultErrorWindowSize {
		t.Errorf("ErrorWindowSize: got %d, want %d", cfg.Aggregate.ErrorWindowSize, DefaultErrorWindowSize)
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	loadedConfigFile.Store("")
	path := ConfigFilePath()
	if path != "" {
		t.Errorf("ConfigFilePath before load: got %q, want empty", path)
	}
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	set(cfg)

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
}

func TestImportConfig(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "import.toml")

	content := `
[server]
ingest_port = 9999
summary_port = 9998
log_level = "warn"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(importPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ImportConfig(importPath); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}

	cfg := Get()
	if cfg.Server.IngestPort != 9999 {
		t.Errorf("IngestPort after import: got %d, want 9999", cfg.Server.IngestPort)
	}

	set(DefaultConfig())
}
