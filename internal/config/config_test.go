// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
	if cfg.Server.URL != "http://127.0.0.1:11434" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Capability.IsEmpty() {
		t.Error("default keyword table is empty")
	}
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Models.Default != Default().Models.Default {
		t.Errorf("Models.Default = %q", cfg.Models.Default)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1.0.0"

[server]
url = "http://localhost:9999"
timeout_secs = 5

[models]
default = "llava:13b"
title_model = "qwen3:0.6b"

[capability]
thinking = ["custom-thinker"]
vision = ["custom-seer"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Server.URL != "http://localhost:9999" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Models.TitleModel != "qwen3:0.6b" {
		t.Errorf("Models.TitleModel = %q", cfg.Models.TitleModel)
	}
	if !cfg.Capability.MatchesThinking("custom-thinker:7b") {
		t.Error("keyword table override not applied")
	}
}

func TestLoadFromPathRejectsBadURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server]\nurl = \"::not a url::\"\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Error("LoadFromPath() accepted an invalid server URL")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMADESK_URL", "http://10.0.0.5:11434")
	t.Setenv("OLLAMADESK_MODEL", "qwen3:32b")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.URL != "http://10.0.0.5:11434" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Models.Default != "qwen3:32b" {
		t.Errorf("Models.Default = %q", cfg.Models.Default)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Models.Default = "deepseek-r1:7b"
	if err := SaveToPath(cfg, path); err != nil {
		t.Fatalf("SaveToPath() error = %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Models.Default != "deepseek-r1:7b" {
		t.Errorf("Models.Default = %q", loaded.Models.Default)
	}
}

func TestValidateErrorsMessage(t *testing.T) {
	cfg := Default()
	cfg.Models.Default = ""
	cfg.Server.TimeoutSecs = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() accepted invalid config")
	}
	errs, ok := err.(ValidateErrors)
	if !ok || len(errs) != 2 {
		t.Errorf("Validate() = %v, want two validation errors", err)
	}
}
