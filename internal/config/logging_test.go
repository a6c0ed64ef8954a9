package config

import "testing"

func TestLoadLogDefaults(t *testing.T) {
	cfg, err := LoadLog()
	if err != nil {
		t.Fatalf("LoadLog() error = %v", err)
	}
	if cfg.Level != "info" {
		t.Fatalf("Level = %q, want info", cfg.Level)
	}
	if cfg.MaxMB != 10 {
		t.Fatalf("MaxMB = %d, want 10", cfg.MaxMB)
	}
	if cfg.Service != "ventline" {
		t.Fatalf("Service = %q, want ventline", cfg.Service)
	}
}

func TestLoadLogParse(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/tmp/ventline.log")

	cfg, err := LoadLog()
	if err != nil {
		t.Fatalf("LoadLog() error = %v", err)
	}
	if cfg.Level != "debug" || cfg.File != "/tmp/ventline.log" {
		t.Fatalf("unexpected log config: %+v", cfg)
	}
}
